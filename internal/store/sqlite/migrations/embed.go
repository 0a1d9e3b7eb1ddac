package migrations

import "embed"

// FS holds the SQLite schema migrations.
//
//go:embed *.sql
var FS embed.FS
