package repo

import "embed"

// Migrations holds the schema files applied by golang-migrate.
//
//go:embed migrations/*.sql
var Migrations embed.FS
