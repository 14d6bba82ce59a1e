// Package scheduler implements the Refresh Scheduler (spec.md §4.7): runs
// Fetch Orchestrator invocations synchronously (single table or
// connection-wide bounded fan-out) or asynchronously against an in-memory
// job registry. Connection-wide fan-out uses golang.org/x/sync/errgroup's
// SetLimit, the idiomatic replacement for a hand-rolled semaphore channel
// like main.go's connectionSemaphore and a natural sibling of the
// orchestrator's singleflight.Group from the same module. The job registry
// is a mutex-guarded map exactly as spec.md §4.7/§9 describe ("arena +
// index" shape), the same discipline CatalogCache uses for its own
// in-memory state, with github.com/google/uuid job IDs.
package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/hotdata-dev/rivetdb/internal/catalog"
	"github.com/hotdata-dev/rivetdb/internal/config"
	"github.com/hotdata-dev/rivetdb/internal/orchestrator"
	"github.com/hotdata-dev/rivetdb/internal/rerr"
)

// Scheduler owns the in-memory job registry and a reference to the
// catalog/orchestrator it drives.
type Scheduler struct {
	catalog      catalog.Store
	orchestrator *orchestrator.Orchestrator
	cfg          *config.Config

	mu   sync.RWMutex
	jobs map[string]*catalog.RefreshJob
}

func New(catalogStore catalog.Store, orch *orchestrator.Orchestrator, cfg *config.Config) *Scheduler {
	return &Scheduler{
		catalog:      catalogStore,
		orchestrator: orch,
		cfg:          cfg,
		jobs:         map[string]*catalog.RefreshJob{},
	}
}

// RefreshTableSync runs one table's refresh inline and returns its result
// (spec.md §4.7 "Synchronous single-table").
func (s *Scheduler) RefreshTableSync(ctx context.Context, tableID int64) (*orchestrator.Result, error) {
	return s.orchestrator.RefreshTable(ctx, tableID)
}

// RefreshConnectionSync runs a bounded-concurrency fan-out over every
// table of a connection (spec.md §4.7 "Synchronous connection-wide").
// Per-table failures are collected, not fatal; fan-out order is table id
// ascending for deterministic tests.
func (s *Scheduler) RefreshConnectionSync(ctx context.Context, connectionID int64, parallelism int) (catalog.RefreshConnectionResult, error) {
	if parallelism <= 0 {
		parallelism = s.cfg.RefreshParallelism
	}

	tables, err := s.catalog.ListTables(ctx, connectionID)
	if err != nil {
		return catalog.RefreshConnectionResult{}, err
	}
	sort.Slice(tables, func(i, j int) bool { return tables[i].ID < tables[j].ID })

	var (
		mu     sync.Mutex
		result catalog.RefreshConnectionResult
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(parallelism)

	for _, t := range tables {
		t := t
		g.Go(func() error {
			_, err := s.orchestrator.RefreshTable(gctx, t.ID)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				result.TablesFailed++
				result.Errors = append(result.Errors, catalog.TableError{TableID: t.ID, Message: err.Error()})
			} else {
				result.TablesRefreshed++
			}
			return nil // per-table errors never fail the group (spec.md §4.7)
		})
	}
	_ = g.Wait()

	sort.Slice(result.Errors, func(i, j int) bool { return result.Errors[i].TableID < result.Errors[j].TableID })
	return result, nil
}

// RefreshConnectionAsync spawns a connection-wide refresh in the
// background, registers a Pending job, and returns its id immediately
// (spec.md §4.7 "Asynchronous").
func (s *Scheduler) RefreshConnectionAsync(connectionID int64, parallelism int) string {
	job := &catalog.RefreshJob{
		RefreshID:    uuid.NewString(),
		ConnectionID: connectionID,
		State:        catalog.JobPending,
		StartedAt:    timeNow(),
	}
	s.mu.Lock()
	s.jobs[job.RefreshID] = job
	s.mu.Unlock()

	go func() {
		s.setState(job.RefreshID, catalog.JobInProgress)
		result, err := s.RefreshConnectionSync(context.Background(), connectionID, parallelism)
		s.mu.Lock()
		defer s.mu.Unlock()
		j, ok := s.jobs[job.RefreshID]
		if !ok {
			return
		}
		now := timeNow()
		j.CompletedAt = &now
		j.Completed = result.TablesRefreshed + result.TablesFailed
		j.Total = j.Completed
		if err != nil {
			j.State = catalog.JobFailed
			j.ErrorMessage = err.Error()
			return
		}
		j.State = catalog.JobCompleted
		j.Result = &result
	}()

	return job.RefreshID
}

// RefreshTableAsync spawns a single-table refresh and returns its job id,
// mirroring RefreshConnectionAsync but targeting one table.
func (s *Scheduler) RefreshTableAsync(connectionID, tableID int64) string {
	job := &catalog.RefreshJob{
		RefreshID:    uuid.NewString(),
		ConnectionID: connectionID,
		TableID:      &tableID,
		State:        catalog.JobPending,
		StartedAt:    timeNow(),
		Total:        1,
	}
	s.mu.Lock()
	s.jobs[job.RefreshID] = job
	s.mu.Unlock()

	go func() {
		s.setState(job.RefreshID, catalog.JobInProgress)
		_, err := s.orchestrator.RefreshTable(context.Background(), tableID)
		s.mu.Lock()
		defer s.mu.Unlock()
		j, ok := s.jobs[job.RefreshID]
		if !ok {
			return
		}
		now := timeNow()
		j.CompletedAt = &now
		if err != nil {
			j.State = catalog.JobFailed
			j.ErrorMessage = err.Error()
			return
		}
		j.Completed = 1
		j.State = catalog.JobCompleted
	}()

	return job.RefreshID
}

func (s *Scheduler) setState(refreshID string, state catalog.JobState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if j, ok := s.jobs[refreshID]; ok {
		j.State = state
	}
}

// GetJob looks up a job by id (spec.md §6 GET /refresh/{id}).
func (s *Scheduler) GetJob(refreshID string) (*catalog.RefreshJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	j, ok := s.jobs[refreshID]
	if !ok {
		return nil, fmt.Errorf("refresh job %q: %w", refreshID, rerr.ErrNotFound)
	}
	cp := *j
	return &cp, nil
}

// ReapTerminalJobs removes jobs in a terminal state (Completed or Failed)
// older than the configured retention window (spec.md §4.7, default 1
// hour). Intended to run periodically.
func (s *Scheduler) ReapTerminalJobs() int {
	cutoff := timeNow().Add(-time.Duration(s.cfg.JobRetentionSecs) * time.Second)
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id, j := range s.jobs {
		if j.CompletedAt == nil {
			continue
		}
		if (j.State == catalog.JobCompleted || j.State == catalog.JobFailed) && j.CompletedAt.Before(cutoff) {
			delete(s.jobs, id)
			removed++
		}
	}
	return removed
}

// RunReaper starts a background ticker that calls ReapTerminalJobs every
// interval until ctx is canceled.
func (s *Scheduler) RunReaper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.ReapTerminalJobs()
			}
		}
	}()
}

func timeNow() time.Time { return time.Now().UTC() }
