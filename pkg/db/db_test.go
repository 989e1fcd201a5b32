package db

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func createTableMigration(version int64, table string) Migration {
	return Migration{
		Version:     version,
		Description: "Create " + table,
		Up: func(tx *sql.Tx) error {
			_, err := tx.Exec("CREATE TABLE " + table + " (id INTEGER PRIMARY KEY)")
			return err
		},
		Down: func(tx *sql.Tx) error {
			_, err := tx.Exec("DROP TABLE " + table)
			return err
		},
	}
}

func tableExists(t *testing.T, db interface {
	QueryRow(query string, args ...any) *sql.Row
}, name string) bool {
	t.Helper()
	var exists bool
	err := db.QueryRow(`SELECT COUNT(*) > 0 FROM sqlite_master WHERE type='table' AND name=?`, name).Scan(&exists)
	require.NoError(t, err)
	return exists
}

func TestOpen_CreatesDirectoryAndEnablesWAL(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "nested", "dir", "storage.db")

	db, err := Open(context.Background(), dbPath)
	require.NoError(t, err)
	defer db.Close()

	_, err = os.Stat(filepath.Dir(dbPath))
	require.NoError(t, err)

	var mode string
	require.NoError(t, db.Get(&mode, "PRAGMA journal_mode"))
	assert.Equal(t, "wal", mode)
}

func TestDefaultDBPath(t *testing.T) {
	t.Run("with ENHANCER_BASE_PATH", func(t *testing.T) {
		t.Setenv("ENHANCER_BASE_PATH", "/custom/path")
		path, err := DefaultDBPath()
		require.NoError(t, err)
		assert.Equal(t, "/custom/path/storage.db", path)
	})

	t.Run("without ENHANCER_BASE_PATH", func(t *testing.T) {
		t.Setenv("ENHANCER_BASE_PATH", "")
		path, err := DefaultDBPath()
		require.NoError(t, err)
		home, _ := os.UserHomeDir()
		assert.Equal(t, filepath.Join(home, ".enhancer", "storage.db"), path)
	})
}

func TestMigrationRunner_RunsInOrderAndIsIdempotent(t *testing.T) {
	db, err := Open(context.Background(), filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	defer db.Close()

	migrations := []Migration{
		{
			Version:     20240101000002,
			Description: "Add column",
			Up: func(tx *sql.Tx) error {
				_, err := tx.Exec("ALTER TABLE items ADD COLUMN name TEXT")
				return err
			},
		},
		createTableMigration(20240101000001, "items"),
	}

	runner := NewMigrationRunner(db)
	require.NoError(t, runner.Run(context.Background(), migrations))
	require.NoError(t, runner.Run(context.Background(), migrations))

	assert.True(t, tableExists(t, db, "items"))

	versions, err := runner.GetAppliedVersions(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []int64{20240101000001, 20240101000002}, versions)
}

func TestMigrationRunner_Rollback(t *testing.T) {
	db, err := Open(context.Background(), filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	defer db.Close()

	migrations := []Migration{createTableMigration(20240101000001, "items")}
	runner := NewMigrationRunner(db)
	require.NoError(t, runner.Run(context.Background(), migrations))
	require.True(t, tableExists(t, db, "items"))

	require.NoError(t, runner.Rollback(context.Background(), migrations))
	assert.False(t, tableExists(t, db, "items"))

	versions, err := runner.GetAppliedVersions(context.Background())
	require.NoError(t, err)
	assert.Empty(t, versions)

	// nothing left to roll back
	require.NoError(t, runner.Rollback(context.Background(), migrations))
}

func TestMigrationRunner_RollbackWithoutDown(t *testing.T) {
	db, err := Open(context.Background(), filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	defer db.Close()

	m := createTableMigration(20240101000001, "items")
	m.Down = nil
	runner := NewMigrationRunner(db)
	require.NoError(t, runner.Run(context.Background(), []Migration{m}))

	err = runner.Rollback(context.Background(), []Migration{m})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "has no rollback function")
}

func TestStatusAndRollbackByPath(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "storage.db")
	migrations := []Migration{createTableMigration(20240101000001, "items")}

	sqlDB, err := OpenMigrated(ctx, dbPath, migrations)
	require.NoError(t, err)
	require.NoError(t, sqlDB.Close())

	applied, err := GetMigrationStatus(ctx, dbPath)
	require.NoError(t, err)
	assert.Equal(t, []int64{20240101000001}, applied)

	require.NoError(t, RollbackMigration(ctx, dbPath, migrations))

	applied, err = GetMigrationStatus(ctx, dbPath)
	require.NoError(t, err)
	assert.Empty(t, applied)
}
