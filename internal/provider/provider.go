// Package provider implements the Lazy Table Provider (spec.md §4.6): the
// object the (externally supplied) query executor sees for each logical
// table. It holds only identity — connection_id, schema, table, and a
// schema cached at construction time — and re-reads artifact_url from the
// Catalog Store on every scan, so a refresh is transparent to whoever
// holds the provider. No teacher analog exists (BemiDB speaks SQL
// directly against DuckLake rather than handing a table-provider
// abstraction to an external executor), so this package is grounded
// directly on spec.md §4.6/§9's "shared with executor" design note, with
// the same thin-identity-object shape CatalogCache uses to separate cache
// state from source of truth.
package provider

import (
	"context"
	"fmt"

	"github.com/hotdata-dev/rivetdb/internal/catalog"
	"github.com/hotdata-dev/rivetdb/internal/orchestrator"
)

// Column is one entry of a provider's cached, portable schema.
type Column struct {
	Name     string
	DataType string
	Nullable bool
}

// Schema is the portable shape an external executor consumes; built once
// from the catalog's column rows at construction time, never re-read.
type Schema struct {
	Columns []Column
}

// PushdownResult classifies how exactly a provider's scan plan applies one
// filter (spec.md §4.6): the executor is entrusted with re-applying
// anything marked Inexact.
type PushdownResult string

const (
	PushdownExact   PushdownResult = "exact"
	PushdownInexact PushdownResult = "inexact"
)

// ExecutionPlan is a columnar-file listing plan over a resolved artifact
// URL — the hand-off point to the external SQL executor, out of this
// core's scope (spec.md §1).
type ExecutionPlan struct {
	URL        string
	Format     string // "parquet"
	Schema     Schema
	Projection []string // nil = all columns
	Limit      *int64
}

// Filter is the minimal predicate shape the provider needs to classify
// pushdown support for; the executor owns the richer expression tree.
type Filter struct {
	Column string
	Op     string // "=", "<", "<=", ">", ">="
}

// Provider is the per-logical-table object bound into the query executor.
type Provider struct {
	connectionID int64
	catalogName  *string
	schemaName   string
	tableName    string
	tableID      int64
	indexed      map[string]bool
	schema       Schema

	catalog      catalog.Store
	orchestrator *orchestrator.Orchestrator
}

// New builds a Provider for one logical table, reading its column rows
// once to build a cached Schema (spec.md §4.6: "no I/O" on schema()).
func New(ctx context.Context, catalogStore catalog.Store, orch *orchestrator.Orchestrator, tableID int64, indexedColumns []string) (*Provider, error) {
	t, err := catalogStore.GetTableByID(ctx, tableID)
	if err != nil {
		return nil, err
	}
	if t == nil {
		return nil, fmt.Errorf("table id %d not found", tableID)
	}
	cols, err := catalogStore.ListTableColumns(ctx, tableID)
	if err != nil {
		return nil, err
	}

	schema := Schema{Columns: make([]Column, len(cols))}
	for i, c := range cols {
		schema.Columns[i] = Column{Name: c.Name, DataType: c.DataType, Nullable: c.Nullable}
	}

	indexed := make(map[string]bool, len(indexedColumns))
	for _, c := range indexedColumns {
		indexed[c] = true
	}

	return &Provider{
		connectionID: t.ConnectionID,
		catalogName:  t.CatalogName,
		schemaName:   t.SchemaName,
		tableName:    t.TableName,
		tableID:      t.ID,
		indexed:      indexed,
		schema:       schema,
		catalog:      catalogStore,
		orchestrator: orch,
	}, nil
}

// Schema returns the cached portable schema; no I/O (spec.md §4.6).
func (p *Provider) Schema() Schema { return p.schema }

// Scan resolves the table's artifact and returns a plan over it,
// triggering materialization via the orchestrator if the table has never
// been fetched (spec.md §4.6 steps 1-3). A scan that resolves an old URL
// continues reading it even if the catalog pointer changes mid-scan,
// which is why the orchestrator never deletes a replaced artifact before
// its grace period elapses.
func (p *Provider) Scan(ctx context.Context, projection []string, filters []Filter, limit *int64) (ExecutionPlan, error) {
	t, err := p.catalog.GetTableByID(ctx, p.tableID)
	if err != nil {
		return ExecutionPlan{}, err
	}
	if t == nil {
		return ExecutionPlan{}, fmt.Errorf("table id %d not found", p.tableID)
	}

	url := t.ArtifactURL
	if url == nil {
		fetched, err := p.orchestrator.FetchIfAbsent(ctx, p.connectionID, p.catalogName, p.schemaName, p.tableName)
		if err != nil {
			return ExecutionPlan{}, err
		}
		url = &fetched
	}

	return ExecutionPlan{
		URL:        *url,
		Format:     "parquet",
		Schema:     p.schema,
		Projection: projection,
		Limit:      limit,
	}, nil
}

// SupportsFiltersPushdown classifies each filter exact when it is an
// equality or range predicate on an indexed column, inexact otherwise
// (spec.md §4.6); the executor must re-apply anything marked inexact.
func (p *Provider) SupportsFiltersPushdown(filters []Filter) []PushdownResult {
	out := make([]PushdownResult, len(filters))
	for i, f := range filters {
		if p.indexed[f.Column] && isEqualityOrRange(f.Op) {
			out[i] = PushdownExact
		} else {
			out[i] = PushdownInexact
		}
	}
	return out
}

func isEqualityOrRange(op string) bool {
	switch op {
	case "=", "<", "<=", ">", ">=":
		return true
	default:
		return false
	}
}
