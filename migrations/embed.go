package migrations

import "embed"

// FS holds the versioned schema files, named NNN_description.sql.
//
//go:embed *.sql
var FS embed.FS
