package sqlite

import (
	"context"
	"database/sql"

	"github.com/atenlabs/atenbot/internal/store"
)

// SettingsStore implements store.SettingsStore on sqlite.
type SettingsStore struct {
	db *sql.DB
}

func NewSettingsStore(db *sql.DB) *SettingsStore {
	return &SettingsStore{db: db}
}

func (s *SettingsStore) Get(ctx context.Context, instance string) (store.Settings, bool, error) {
	var autoReply int
	var persona string
	err := s.db.QueryRowContext(ctx,
		`SELECT auto_reply, persona FROM instance_settings WHERE instance = ?`, instance).
		Scan(&autoReply, &persona)
	if err == sql.ErrNoRows {
		return store.Settings{}, false, nil
	}
	if err != nil {
		return store.Settings{}, false, err
	}
	return store.Settings{AutoReply: autoReply != 0, Persona: persona}, true, nil
}

func (s *SettingsStore) Set(ctx context.Context, instance string, settings store.Settings) error {
	autoReply := 0
	if settings.AutoReply {
		autoReply = 1
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO instance_settings (instance, auto_reply, persona) VALUES (?, ?, ?)
		 ON CONFLICT (instance) DO UPDATE SET auto_reply = excluded.auto_reply, persona = excluded.persona`,
		instance, autoReply, settings.Persona)
	return err
}
