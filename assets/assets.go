// Package assets embeds the database schema migrations.
package assets

import "embed"

const (
	PostgresMigrationDir = "migrations/postgres"
	MySQLMigrationDir    = "migrations/mysql"
)

//go:embed migrations/*
var EmbedMigrations embed.FS
