// Package migrations embeds the SQL schema migrations for the rcs.db store.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
