// Package migrations embeds the schema and seed SQL shipped with the
// service binaries.
package migrations

import "embed"

//go:embed sql
var SQL embed.FS

//go:embed seed
var Seed embed.FS
