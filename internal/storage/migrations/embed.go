package migrations

import "embed"

// FS holds the versioned migration scripts.
//
//go:embed scripts/*.sql
var FS embed.FS
