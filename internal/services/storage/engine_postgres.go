package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	migratepostgres "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

// PostgresEngine is the durable Engine backing the scalar KV + FIFO queue
// contract on top of a single `kv` table, one concrete instance of the
// pluggable on-disk engine spec §4.3 treats as an external collaborator.
type PostgresEngine struct {
	db *sqlx.DB
}

const createTableSQL = `
CREATE TABLE IF NOT EXISTS kv (
	key   TEXT PRIMARY KEY,
	value BYTEA NOT NULL
)`

// NewPostgresEngine opens dsn and ensures the kv table exists, using
// golang-migrate when a migrations source is supplied, otherwise issuing a
// direct CREATE TABLE IF NOT EXISTS for zero-config deployments.
func NewPostgresEngine(dsn string, migrationsSource string) (*PostgresEngine, error) {
	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("storage: connect postgres: %w", err)
	}

	if migrationsSource != "" {
		driver, err := migratepostgres.WithInstance(db.DB, &migratepostgres.Config{})
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("storage: migration driver: %w", err)
		}
		m, err := migrate.NewWithDatabaseInstance(migrationsSource, "postgres", driver)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("storage: migration setup: %w", err)
		}
		if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			db.Close()
			return nil, fmt.Errorf("storage: run migrations: %w", err)
		}
	} else if _, err := db.Exec(createTableSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage: create kv table: %w", err)
	}

	return &PostgresEngine{db: db}, nil
}

// newPostgresEngineFromDB wraps an already-open sqlx.DB directly, letting
// tests exercise the Get/Put/Delete SQL against a sqlmock.Sqlmock instead
// of a real Postgres connection.
func newPostgresEngineFromDB(db *sqlx.DB) *PostgresEngine {
	return &PostgresEngine{db: db}
}

func (e *PostgresEngine) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var value []byte
	err := e.db.GetContext(ctx, &value, `SELECT value FROM kv WHERE key = $1`, key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("storage: get %q: %w", key, err)
	}
	return value, true, nil
}

func (e *PostgresEngine) Put(ctx context.Context, key string, value []byte) error {
	_, err := e.db.ExecContext(ctx, `
		INSERT INTO kv (key, value) VALUES ($1, $2)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value`, key, value)
	if err != nil {
		return fmt.Errorf("storage: put %q: %w", key, err)
	}
	return nil
}

func (e *PostgresEngine) Delete(ctx context.Context, key string) error {
	if _, err := e.db.ExecContext(ctx, `DELETE FROM kv WHERE key = $1`, key); err != nil {
		return fmt.Errorf("storage: delete %q: %w", key, err)
	}
	return nil
}

func (e *PostgresEngine) Close() error {
	return e.db.Close()
}
