// Package migrations embeds the node's SQL schema into the binary.
//
// Importing this package (for its side effect) registers the embedded
// files with the database package so Migrate can find them on a device
// that has no writable copy of the schema on disk.
package migrations

import (
	"embed"

	"github.com/nerrad567/kaiser-edge/internal/infrastructure/database"
)

//go:embed *.sql
var migrationsFS embed.FS

func init() {
	database.MigrationsFS = migrationsFS
	database.MigrationsDir = "."
}
