package orchestrator

import (
	"context"

	"github.com/hotdata-dev/rivetdb/internal/blob"
	"github.com/hotdata-dev/rivetdb/internal/catalog"
	"github.com/hotdata-dev/rivetdb/internal/config"
	"github.com/hotdata-dev/rivetdb/internal/rlog"
)

// OrphanSweeper deletes blob paths under a connection's namespace that no
// table's artifact_url references (spec.md §7: catalog-commit failure
// after a successful artifact write leaves the artifact reachable only as
// an orphan). Run at startup and periodically, per spec.md §7/§9.
type OrphanSweeper struct {
	catalog catalog.Store
	blob    blob.Store
	cfg     *config.Config
}

func NewOrphanSweeper(catalogStore catalog.Store, blobStore blob.Store, cfg *config.Config) *OrphanSweeper {
	return &OrphanSweeper{catalog: catalogStore, blob: blobStore, cfg: cfg}
}

// SweepConnection reclaims orphans under one connection's prefix, returning
// how many blob paths it deleted.
func (s *OrphanSweeper) SweepConnection(ctx context.Context, connectionID int64) (int, error) {
	tables, err := s.catalog.ListTables(ctx, connectionID)
	if err != nil {
		return 0, err
	}
	referenced := make(map[string]bool, len(tables))
	for _, t := range tables {
		if t.ArtifactURL != nil {
			referenced[*t.ArtifactURL] = true
		}
	}

	present, err := s.blob.ListPrefix(ctx, blob.ConnectionPrefix(connectionID))
	if err != nil {
		return 0, err
	}

	deleted := 0
	for _, url := range present {
		if referenced[url] {
			continue
		}
		if err := s.blob.Delete(ctx, url); err != nil {
			return deleted, err
		}
		deleted++
	}
	return deleted, nil
}

// SweepAll runs SweepConnection over every connection known to the
// catalog, logging (not failing) per-connection errors — a bad connection
// never blocks reclaiming orphans for the rest.
func (s *OrphanSweeper) SweepAll(ctx context.Context) {
	conns, err := s.catalog.ListConnections(ctx)
	if err != nil {
		rlog.LogWarn(s.cfg, "orphan sweep: list connections failed:", err)
		return
	}
	for _, c := range conns {
		n, err := s.SweepConnection(ctx, c.ID)
		if err != nil {
			rlog.LogWarn(s.cfg, "orphan sweep: connection", c.Name, "failed:", err)
			continue
		}
		if n > 0 {
			rlog.LogInfo(s.cfg, "orphan sweep: connection", c.Name, "reclaimed", n, "blob path(s)")
		}
	}
}
