// Package migrations lists enhancer's database migrations.
// Versions use Rails-style timestamps (YYYYMMDDHHmmss).
package migrations

import (
	"github.com/jingkaihe/enhancer/pkg/db"
)

// All returns every registered migration. New migrations are appended here.
func All() []db.Migration {
	return []db.Migration{
		Migration20261015090000CreateKVStore(),
		Migration20261015090001AddKVStoreUpdatedIndex(),
	}
}
