// Package walletdb holds all the migrations for the wallet middleware database
package walletdb

import (
	"github.com/uptrace/bun/migrate"
)

// Migrations is the collection of all migrations for the wallet middleware database
var Migrations = migrate.NewMigrations()
