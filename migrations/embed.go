// Package migrations embeds SQL migration files into the binary.
//
// The files are compiled into the executable so the access service can
// bring a fresh database up to date without the SQL on disk.
package migrations

import "embed"

// FS holds every *.sql file in this directory at its root.
// Pass it to database.DB.Migrate.
//
//go:embed *.sql
var FS embed.FS
