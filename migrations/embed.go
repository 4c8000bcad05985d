// Package migrations embeds the SQL schema of the listing scanner.
package migrations

import "embed"

// Postgres holds the golang-migrate files for the primary store
//
//go:embed postgres/*.sql
var Postgres embed.FS

// ClickHouse holds the statements of the analytics sink
//
//go:embed clickhouse/*.sql
var ClickHouse embed.FS
