// Package migrations provides the embedded SQL schema migrations.
// They are applied by `unwatch migrate` and by testutil in integration tests.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
