// Package migrations embeds the authoring database schema.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
