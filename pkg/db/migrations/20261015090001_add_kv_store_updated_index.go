package migrations

import (
	"database/sql"

	"github.com/jingkaihe/enhancer/pkg/db"
	"github.com/pkg/errors"
)

// Migration20261015090001AddKVStoreUpdatedIndex indexes kv_store by update time
// for `enhancer db status` style listings.
func Migration20261015090001AddKVStoreUpdatedIndex() db.Migration {
	return db.Migration{
		Version:     20261015090001,
		Description: "Add kv_store updated_at index",
		Up: func(tx *sql.Tx) error {
			_, err := tx.Exec("CREATE INDEX IF NOT EXISTS idx_kv_store_updated_at ON kv_store(updated_at DESC)")
			return errors.Wrap(err, "failed to create kv_store updated_at index")
		},
		Down: func(tx *sql.Tx) error {
			_, err := tx.Exec("DROP INDEX IF EXISTS idx_kv_store_updated_at")
			return errors.Wrap(err, "failed to drop kv_store updated_at index")
		},
	}
}
