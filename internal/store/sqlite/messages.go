package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/atenlabs/atenbot/internal/store"
)

// MessageStore implements store.MessageStore on sqlite.
type MessageStore struct {
	db *sql.DB
}

func NewMessageStore(db *sql.DB) *MessageStore {
	return &MessageStore{db: db}
}

func (s *MessageStore) Append(ctx context.Context, conversation, content string, dir store.Direction) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (id, conversation, direction, content, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		uuid.Must(uuid.NewV7()).String(), conversation, string(dir), content, time.Now().UnixMilli(),
	)
	return err
}

func (s *MessageStore) Recent(ctx context.Context, conversation string, limit int) ([]store.Turn, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT direction, content, created_at FROM messages
		 WHERE conversation = ?
		 ORDER BY created_at DESC, id DESC
		 LIMIT ?`, conversation, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var newest []store.Turn
	for rows.Next() {
		var dir, content string
		var createdAt int64
		if err := rows.Scan(&dir, &content, &createdAt); err != nil {
			return nil, err
		}
		newest = append(newest, store.Turn{
			Direction: store.Direction(dir),
			Content:   content,
			At:        time.UnixMilli(createdAt),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Query returns newest first; callers want chronological order.
	out := make([]store.Turn, len(newest))
	for i, t := range newest {
		out[len(newest)-1-i] = t
	}
	return out, nil
}
