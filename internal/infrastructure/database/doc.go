// Package database provides storage connectivity for Elevate.
//
// This package manages:
//   - The SQLite database (accounts, credentials, audit, session records)
//   - Embedded, versioned schema migrations for SQLite
//   - An optional pgx pool for deployments that share session records
//     across several server instances through Postgres
//
// Security Considerations:
//   - All queries use parameterised statements
//   - The SQLite file is chmod 0600
//
// Usage:
//
//	db, err := database.Open(ctx, database.Config{Path: cfg.Database.Path, WALMode: true})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    log.Fatal(err)
//	}
package database
