// rivetdbd is RivetDB's entrypoint: it wires the Catalog Store, Blob
// Store, Secret Store, Fetch Orchestrator, Refresh Scheduler, Discovery
// service and HTTP adapter together and serves spec.md §6's HTTP surface,
// the same flag-parse-then-boot-then-serve shape src/server/main.go uses
// for BemiDB's own Postgres listener.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hotdata-dev/rivetdb/internal/blob"
	"github.com/hotdata-dev/rivetdb/internal/catalog"
	"github.com/hotdata-dev/rivetdb/internal/config"
	"github.com/hotdata-dev/rivetdb/internal/discovery"
	"github.com/hotdata-dev/rivetdb/internal/httpapi"
	"github.com/hotdata-dev/rivetdb/internal/orchestrator"
	"github.com/hotdata-dev/rivetdb/internal/rlog"
	"github.com/hotdata-dev/rivetdb/internal/scheduler"
	"github.com/hotdata-dev/rivetdb/internal/secret"
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		rlog.LogError(&config.Config{LogLevel: rlog.LevelError}, "config:", err)
		return 1
	}

	ctx := context.Background()

	catalogStore, err := catalog.Open(ctx, cfg)
	if err != nil {
		rlog.LogError(cfg, "catalog store:", err)
		return 1
	}
	defer catalogStore.Close()
	rlog.LogInfo(cfg, "catalog: opened", cfg.CatalogURL)

	blobStore, err := blob.Open(cfg)
	if err != nil {
		rlog.LogError(cfg, "blob store:", err)
		return 1
	}
	rlog.LogInfo(cfg, "blob store: ready")

	secrets := secret.New(catalogStore, cfg)
	orch := orchestrator.New(catalogStore, blobStore, secrets, cfg)
	sched := scheduler.New(catalogStore, orch, cfg)
	disc := discovery.New(catalogStore, secrets)
	sweeper := orchestrator.NewOrphanSweeper(catalogStore, blobStore, cfg)

	sctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Startup sweep reclaims artifacts orphaned by a crash between a
	// successful blob write and its catalog commit (spec.md §7/§9).
	sweeper.SweepAll(sctx)
	go runPeriodically(sctx, time.Hour, sweeper.SweepAll)
	sched.RunReaper(sctx, time.Duration(cfg.JobRetentionSecs)*time.Second)

	server := httpapi.New(catalogStore, blobStore, secrets, orch, sched, disc, cfg)
	httpServer := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: server.Handler(),
	}

	serveErr := make(chan error, 1)
	go func() {
		rlog.LogInfo(cfg, "rivetdbd: listening on", cfg.HTTPAddr)
		serveErr <- httpServer.ListenAndServe()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serveErr:
		if err != nil && err != http.ErrServerClosed {
			rlog.LogError(cfg, "rivetdbd: serve failed:", err)
			return 1
		}
	case sig := <-stop:
		rlog.LogInfo(cfg, "rivetdbd: received", sig.String(), "shutting down")
		cancel()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			rlog.LogError(cfg, "rivetdbd: graceful shutdown failed:", err)
			return 1
		}
	}

	rlog.LogInfo(cfg, "rivetdbd: stopped")
	return 0
}

// runPeriodically runs fn immediately on each tick until ctx is canceled,
// used for the orphan sweep's recurring pass alongside its startup run.
func runPeriodically(ctx context.Context, interval time.Duration, fn func(context.Context)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn(ctx)
		}
	}
}
