package migrations

import "embed"

// FS contains embedded SQLite migrations for arbitration storage.
//
//go:embed *.sql
var FS embed.FS
