// Package pg backs the stores and the job queue in managed mode
// (multi-instance deployments sharing one Postgres). Schema comes from
// the migrations directory via `atenbot migrate up`.
package pg

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/atenlabs/atenbot/internal/store"
)

// OpenDB opens a Postgres pool using the pgx stdlib driver.
func OpenDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

// NewStores creates Postgres-backed stores (managed mode).
func NewStores(db *sql.DB) *store.Stores {
	return &store.Stores{
		Messages: NewMessageStore(db),
		Settings: NewSettingsStore(db),
	}
}
