// Package migrations embeds the schema shared by the Postgres and SQLite stores.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
