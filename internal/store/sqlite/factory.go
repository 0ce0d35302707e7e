// Package sqlite backs the stores and the job queue in standalone mode:
// one local database file, durable across restarts, no external services.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"github.com/atenlabs/atenbot/internal/store"
)

// Open opens (creating if needed) the standalone sqlite database.
func Open(path string) (*sql.DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// modernc sqlite serializes writes; one connection avoids lock churn.
	db.SetMaxOpenConns(1)
	return db, nil
}

// NewStores creates sqlite-backed stores, applying schema on the way.
func NewStores(ctx context.Context, db *sql.DB) (*store.Stores, error) {
	if err := initSchema(ctx, db); err != nil {
		return nil, err
	}
	return &store.Stores{
		Messages: NewMessageStore(db),
		Settings: NewSettingsStore(db),
	}, nil
}

func initSchema(ctx context.Context, db *sql.DB) error {
	ddl := []string{
		`CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			conversation TEXT NOT NULL,
			direction TEXT NOT NULL,
			content TEXT NOT NULL,
			created_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages (conversation, created_at)`,
		`CREATE TABLE IF NOT EXISTS instance_settings (
			instance TEXT PRIMARY KEY,
			auto_reply INTEGER NOT NULL DEFAULT 1,
			persona TEXT NOT NULL DEFAULT ''
		)`,
	}
	for _, stmt := range ddl {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("init sqlite schema: %w", err)
		}
	}
	return nil
}
