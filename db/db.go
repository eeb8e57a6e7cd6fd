// Package db embeds the goose SQL migrations applied at service startup.
package db

import "embed"

//go:embed migrations/*.sql
var Migrations embed.FS
