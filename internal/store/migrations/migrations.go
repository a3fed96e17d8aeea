// Package migrations embeds the SQL files goose applies to bring the documents table up to
// date.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
