package storage

import (
	"context"
	"database/sql"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"
)

// newMockEngine opens a sqlmock connection and wraps it as a PostgresEngine,
// mirroring the teacher's migrations_test.go pattern of exercising SQL
// statements against go-sqlmock instead of a live database.
func newMockEngine(t *testing.T) (*PostgresEngine, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return newPostgresEngineFromDB(sqlx.NewDb(db, "postgres")), mock
}

func TestPostgresEngineGetFound(t *testing.T) {
	engine, mock := newMockEngine(t)
	rows := sqlmock.NewRows([]string{"value"}).AddRow([]byte("ciphertext"))
	mock.ExpectQuery(`SELECT value FROM kv WHERE key = \$1`).WithArgs("k1").WillReturnRows(rows)

	value, ok, err := engine.Get(context.Background(), "k1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("ciphertext"), value)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresEngineGetNotFound(t *testing.T) {
	engine, mock := newMockEngine(t)
	mock.ExpectQuery(`SELECT value FROM kv WHERE key = \$1`).WithArgs("missing").WillReturnError(sql.ErrNoRows)

	_, ok, err := engine.Get(context.Background(), "missing")
	require.NoError(t, err)
	require.False(t, ok)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresEnginePutUpsert(t *testing.T) {
	engine, mock := newMockEngine(t)
	mock.ExpectExec(`INSERT INTO kv \(key, value\) VALUES \(\$1, \$2\) ON CONFLICT \(key\) DO UPDATE SET value = EXCLUDED\.value`).
		WithArgs("k1", []byte("v1")).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, engine.Put(context.Background(), "k1", []byte("v1")))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresEngineDelete(t *testing.T) {
	engine, mock := newMockEngine(t)
	mock.ExpectExec(`DELETE FROM kv WHERE key = \$1`).WithArgs("k1").WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, engine.Delete(context.Background(), "k1"))
	require.NoError(t, mock.ExpectationsWereMet())
}
