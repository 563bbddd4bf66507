// Package migrations holds the versioned postgres schema. The files are
// embedded so the ingest binary can migrate without a checkout.
package migrations

import "embed"

// FS contains every *.up.sql and *.down.sql file of this directory.
//
//go:embed *.sql
var FS embed.FS
