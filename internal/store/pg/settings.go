package pg

import (
	"context"
	"database/sql"

	"github.com/atenlabs/atenbot/internal/store"
)

// SettingsStore implements store.SettingsStore on Postgres.
type SettingsStore struct {
	db *sql.DB
}

func NewSettingsStore(db *sql.DB) *SettingsStore {
	return &SettingsStore{db: db}
}

func (s *SettingsStore) Get(ctx context.Context, instance string) (store.Settings, bool, error) {
	var settings store.Settings
	err := s.db.QueryRowContext(ctx,
		`SELECT auto_reply, persona FROM instance_settings WHERE instance = $1`, instance).
		Scan(&settings.AutoReply, &settings.Persona)
	if err == sql.ErrNoRows {
		return store.Settings{}, false, nil
	}
	if err != nil {
		return store.Settings{}, false, err
	}
	return settings, true, nil
}

func (s *SettingsStore) Set(ctx context.Context, instance string, settings store.Settings) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO instance_settings (instance, auto_reply, persona) VALUES ($1, $2, $3)
		 ON CONFLICT (instance) DO UPDATE SET auto_reply = EXCLUDED.auto_reply, persona = EXCLUDED.persona`,
		instance, settings.AutoReply, settings.Persona)
	return err
}
