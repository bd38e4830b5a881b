// Package sqlite implements the store interfaces on sqlite. Reads go
// straight to the connection; every write runs through the single
// db.Worker so the two tiers never trip over sqlite's one-writer rule.
package sqlite

import (
	"embed"
	"io/fs"
)

//go:embed migrations/directory/*.sql migrations/port/*.sql
var migrationsFS embed.FS

// DirectoryMigrations is the Central Directory schema.
func DirectoryMigrations() fs.FS {
	sub, err := fs.Sub(migrationsFS, "migrations/directory")
	if err != nil {
		panic(err)
	}
	return sub
}

// PortMigrations is the port server schema: the worker mirror plus
// checkpoint registry, audit log, outbox, and heartbeat tables.
func PortMigrations() fs.FS {
	sub, err := fs.Sub(migrationsFS, "migrations/port")
	if err != nil {
		panic(err)
	}
	return sub
}
