package storage

import (
	"context"
	"database/sql"
	"time"

	"github.com/jingkaihe/enhancer/pkg/db"
	"github.com/jingkaihe/enhancer/pkg/db/migrations"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
)

// SQLiteStore persists items in the kv_store table.
type SQLiteStore struct {
	db *sqlx.DB
}

// NewSQLiteStore wraps an already migrated database.
func NewSQLiteStore(sqlDB *sqlx.DB) *SQLiteStore {
	return &SQLiteStore{db: sqlDB}
}

// OpenSQLiteStore opens the database at dbPath and runs pending migrations.
func OpenSQLiteStore(ctx context.Context, dbPath string) (*SQLiteStore, error) {
	sqlDB, err := db.OpenMigrated(ctx, dbPath, migrations.All())
	if err != nil {
		return nil, errors.Wrap(err, "failed to open storage database")
	}
	return NewSQLiteStore(sqlDB), nil
}

func (s *SQLiteStore) GetItem(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.db.GetContext(ctx, &value, "SELECT value FROM kv_store WHERE key = ?", key)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, errors.Wrapf(err, "failed to read item %s", key)
	}
	return value, true, nil
}

func (s *SQLiteStore) SetItem(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO kv_store (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, key, value, time.Now().UTC())
	return errors.Wrapf(err, "failed to write item %s", key)
}

func (s *SQLiteStore) RemoveItem(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM kv_store WHERE key = ?", key)
	return errors.Wrapf(err, "failed to remove item %s", key)
}

func (s *SQLiteStore) Keys(ctx context.Context) ([]string, error) {
	var keys []string
	if err := s.db.SelectContext(ctx, &keys, "SELECT key FROM kv_store ORDER BY key"); err != nil {
		return nil, errors.Wrap(err, "failed to list keys")
	}
	return keys, nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
