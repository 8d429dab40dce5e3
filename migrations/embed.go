// Package migrations embeds the SQLite schema into the binary.
//
// Importing it registers the files with the database package:
//
//	import _ "github.com/nerrad567/elevate/migrations"
package migrations

import (
	"embed"

	"github.com/nerrad567/elevate/internal/infrastructure/database"
)

//go:embed *.sql
var migrationsFS embed.FS

func init() {
	database.RegisterMigrations(migrationsFS, ".")
}
