package migrations

import "embed"

// FS contains the embedded result-store migrations.
//
//go:embed *.sql
var FS embed.FS
