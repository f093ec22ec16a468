// Package migrations embeds the SQL schema migrations into the binary.
//
// Importing this package (blank import from main) registers the embedded
// files with the database package, so a deployed binary carries its own
// schema and needs no external migration files.
package migrations

import (
	"embed"

	"github.com/zadoli/thermosync/internal/infrastructure/database"
)

//go:embed *.sql
var migrationsFS embed.FS

func init() {
	database.MigrationsFS = migrationsFS
	database.MigrationsDir = "."
}
