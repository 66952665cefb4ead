// Package migrations embeds the schema migrations of the metadata
// database, applied in order by the migrate command.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
