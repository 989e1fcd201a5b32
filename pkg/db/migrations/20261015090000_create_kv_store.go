package migrations

import (
	"database/sql"

	"github.com/jingkaihe/enhancer/pkg/db"
	"github.com/pkg/errors"
)

// Migration20261015090000CreateKVStore creates the key-value table that stands
// in for the webview's local storage.
func Migration20261015090000CreateKVStore() db.Migration {
	return db.Migration{
		Version:     20261015090000,
		Description: "Create kv_store table",
		Up: func(tx *sql.Tx) error {
			if _, err := tx.Exec(`
				CREATE TABLE IF NOT EXISTS kv_store (
					key TEXT PRIMARY KEY,
					value TEXT NOT NULL,
					updated_at DATETIME NOT NULL
				)
			`); err != nil {
				return errors.Wrap(err, "failed to create kv_store table")
			}
			return nil
		},
		Down: func(tx *sql.Tx) error {
			if _, err := tx.Exec("DROP TABLE IF EXISTS kv_store"); err != nil {
				return errors.Wrap(err, "failed to drop kv_store table")
			}
			return nil
		},
	}
}
