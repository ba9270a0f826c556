// Package migrations embeds the cart service schema.
package migrations

import "embed"

// FS holds the ordered *.up.sql files applied at startup.
//
//go:embed *.sql
var FS embed.FS
