// Package migrations embeds the goose SQL migrations so binaries and tests carry them.
// Each supported dialect has its own directory under sql/ with matching version numbers.
package migrations

import "embed"

// FS holds sql/postgres and sql/mysql.
//
//go:embed sql/postgres/*.sql sql/mysql/*.sql
var FS embed.FS
