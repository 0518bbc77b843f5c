// Package migrations holds the SQL schema applied by persistence.Migrator.
// Each file carries "-- +migrate Up" and "-- +migrate Down" sections.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
