// Package types holds the shared vocabulary every driver implementation
// speaks, split out from internal/driver so each per-kind driver package
// can implement the Driver interface without an import cycle back through
// the dispatcher.
package types

import (
	"context"

	"github.com/hotdata-dev/rivetdb/internal/catalog"
)

// RowSink is the polymorphic writer drivers stream rows into. Drivers do
// not own file I/O (spec.md §4.4) — internal/writer.Writer satisfies this
// via its Write(map[string]any) method; the dependency points from driver
// toward catalog only, never toward writer, so the orchestrator is the one
// place that wires a concrete Writer in.
type RowSink interface {
	Write(row map[string]any) error
}

// ResolvedSource is a Source with any secret_ref replaced by its plaintext
// value, valid only for the duration of one fetch call (spec.md §4.4/§9).
// Drivers receive it by value and must not retain or cache it.
type ResolvedSource struct {
	Source     catalog.Source
	Credential string // "" if the source carries no secret_ref
}

// Driver is the capability set every source kind implements.
type Driver interface {
	// Discover returns (catalog?, schema, table, columns[]) for every
	// table visible under the configured filters.
	Discover(ctx context.Context, rs ResolvedSource) ([]catalog.TableMeta, error)

	// FetchTable streams every row of one table into sink.
	FetchTable(ctx context.Context, rs ResolvedSource, catalogName *string, schema, table string, sink RowSink) error
}
