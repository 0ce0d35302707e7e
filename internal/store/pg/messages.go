package pg

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/atenlabs/atenbot/internal/store"
)

// MessageStore implements store.MessageStore on Postgres.
type MessageStore struct {
	db *sql.DB
}

func NewMessageStore(db *sql.DB) *MessageStore {
	return &MessageStore{db: db}
}

func (s *MessageStore) Append(ctx context.Context, conversation, content string, dir store.Direction) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (id, conversation, direction, content, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		uuid.Must(uuid.NewV7()), conversation, string(dir), content, time.Now().UTC(),
	)
	return err
}

func (s *MessageStore) Recent(ctx context.Context, conversation string, limit int) ([]store.Turn, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT direction, content, created_at FROM messages
		 WHERE conversation = $1
		 ORDER BY created_at DESC, id DESC
		 LIMIT $2`, conversation, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var newest []store.Turn
	for rows.Next() {
		var dir, content string
		var createdAt time.Time
		if err := rows.Scan(&dir, &content, &createdAt); err != nil {
			return nil, err
		}
		newest = append(newest, store.Turn{
			Direction: store.Direction(dir),
			Content:   content,
			At:        createdAt,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]store.Turn, len(newest))
	for i, t := range newest {
		out[len(newest)-1-i] = t
	}
	return out, nil
}
