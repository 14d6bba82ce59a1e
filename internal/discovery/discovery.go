// Package discovery wires the Driver Layer's discover() into the Catalog
// Store's upsert_tables, the step spec.md §6's `POST
// /connections/{name}/discover` maps onto. No single core component owns
// this end-to-end (spec.md §4.1 defines upsert_tables, §4.4 defines
// discover; something above both has to call one then the other) so it
// lives as its own small package, grounded on the same resolve-then-call
// shape internal/orchestrator uses to turn a Source into a ResolvedSource
// before handing it to a driver.
package discovery

import (
	"context"
	"fmt"

	"github.com/hotdata-dev/rivetdb/internal/catalog"
	"github.com/hotdata-dev/rivetdb/internal/driver"
	"github.com/hotdata-dev/rivetdb/internal/rerr"
	"github.com/hotdata-dev/rivetdb/internal/secret"
)

// Service runs discovery for a connection.
type Service struct {
	catalog   catalog.Store
	secrets   *secret.Store
	driverFor func(catalog.SourceKind) (driver.Driver, error)
}

func New(catalogStore catalog.Store, secrets *secret.Store) *Service {
	return &Service{catalog: catalogStore, secrets: secrets, driverFor: driver.For}
}

// Discover resolves the connection's source, asks its driver for the
// current table/column set, and upserts it into the catalog. When
// invalidateChanged is true, every table DiscoveryDiff reports as
// schema-changed has its artifact pointer cleared so the next scan
// rebuilds it from the new schema (spec.md §6's `?invalidate_changed=true`).
func (s *Service) Discover(ctx context.Context, connectionName string, invalidateChanged bool) (catalog.DiscoveryDiff, error) {
	conn, err := s.catalog.GetConnection(ctx, connectionName)
	if err != nil {
		return catalog.DiscoveryDiff{}, err
	}
	if conn == nil {
		return catalog.DiscoveryDiff{}, fmt.Errorf("connection %q: %w", connectionName, rerr.ErrNotFound)
	}

	resolved, err := s.resolveSource(conn.Source)
	if err != nil {
		return catalog.DiscoveryDiff{}, err
	}

	d, err := s.driverFor(conn.Source.Kind)
	if err != nil {
		return catalog.DiscoveryDiff{}, err
	}

	tables, err := d.Discover(ctx, resolved)
	if err != nil {
		return catalog.DiscoveryDiff{}, err
	}

	diff, err := s.catalog.UpsertTables(ctx, conn.ID, tables)
	if err != nil {
		return catalog.DiscoveryDiff{}, err
	}

	if invalidateChanged {
		for _, id := range diff.SchemaChanged {
			t, err := s.catalog.GetTable(ctx, conn.ID, nonEmpty(id.CatalogName), id.SchemaName, id.TableName)
			if err != nil {
				return diff, err
			}
			if t == nil {
				continue
			}
			if err := s.catalog.ClearTableArtifact(ctx, t.ID); err != nil {
				return diff, err
			}
		}
	}

	return diff, nil
}

func (s *Service) resolveSource(src catalog.Source) (driver.ResolvedSource, error) {
	if src.SecretRef == "" {
		return driver.ResolvedSource{Source: src}, nil
	}
	plaintext, err := s.secrets.GetString(src.SecretRef)
	if err != nil {
		return driver.ResolvedSource{}, fmt.Errorf("resolve secret %q: %w", src.SecretRef, err)
	}
	return driver.ResolvedSource{Source: src, Credential: plaintext}, nil
}

func nonEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
