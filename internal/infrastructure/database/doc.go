// Package database owns the SQLite store behind users, cards, the access
// log, alerts and push tokens.
//
// Open turns on foreign keys and a busy timeout for every connection, plus
// WAL mode when configured. Schema changes live in the migrations package as paired
// .up.sql/.down.sql files and are applied in version order by Migrate:
//
//	db, err := database.Open(ctx, database.FromConfig(cfg.Database))
//	...
//	applied, err := db.Migrate(ctx, migrations.FS)
//
// Migrations only add: new columns are nullable or carry a default, so an
// older binary can still run against a newer schema. Secrets (PINs, card
// UIDs) are stored as digests only.
//
// Timestamps are written as UTC text in TimeLayout; use FormatTime and
// ParseTime rather than relying on driver conversion.
package database
