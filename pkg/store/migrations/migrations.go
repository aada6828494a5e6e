// Package migrations embeds the goose migration set for `go:embed` consumers
// (spec §6's "relational database with row-level transactions" persisted
// state layout), following the teacher's convention of exposing generated/
// embedded assets as plain package-level values rather than file-path
// lookups at runtime.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
