// Package migrations embeds the SQL migration files for the local store.
package migrations

import "embed"

//go:embed *.sql
var Migrations embed.FS
