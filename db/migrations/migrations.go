// Package migrations embeds the goose SQL migrations.
package migrations

import "embed"

// FS holds the SQL migration files under sql/.
//
//go:embed sql/*.sql
var FS embed.FS

// Dir is the directory goose reads inside FS.
const Dir = "sql"
