// Package driver dispatches the uniform {discover, fetch_table} capability
// (spec.md §4.4) to a per-source-kind implementation. Driver
// implementations are opaque to the core: the orchestrator holds a Source
// and, at fetch time, a ResolvedSource — never a driver-specific config
// struct (spec.md §9's "opaque driver capability set" note). The shared
// types (RowSink, ResolvedSource, Driver) live in internal/driver/types so
// the per-kind subpackages can implement Driver without importing this
// package, which imports them.
package driver

import (
	"fmt"

	"github.com/hotdata-dev/rivetdb/internal/catalog"
	"github.com/hotdata-dev/rivetdb/internal/driver/duckdb"
	"github.com/hotdata-dev/rivetdb/internal/driver/iceberg"
	"github.com/hotdata-dev/rivetdb/internal/driver/postgres"
	"github.com/hotdata-dev/rivetdb/internal/driver/snowflake"
	"github.com/hotdata-dev/rivetdb/internal/driver/types"
)

type RowSink = types.RowSink
type ResolvedSource = types.ResolvedSource
type Driver = types.Driver

// For dispatches on a connection's source kind to the concrete driver, so
// the orchestrator never imports a specific driver package directly —
// matching spec.md §9's tagged-variant-plus-dispatch-function design note.
func For(kind catalog.SourceKind) (Driver, error) {
	switch kind {
	case catalog.SourcePostgres:
		return postgres.New(), nil
	case catalog.SourceSnowflake:
		return snowflake.New(), nil
	case catalog.SourceDuckDB, catalog.SourceMotherDuck:
		return duckdb.New(), nil
	case catalog.SourceIceberg:
		return iceberg.New(), nil
	default:
		return nil, fmt.Errorf("no driver registered for source kind %q", kind)
	}
}
