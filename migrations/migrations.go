// Package migrations embeds the goose SQL migrations for the signal engine
// schema: filing-store tables, signal tables, and notification tables.
//
// Files are named YYYYMMDDHHMMSS_description.sql and applied in order.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
