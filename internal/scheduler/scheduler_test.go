package scheduler

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hotdata-dev/rivetdb/internal/blob"
	"github.com/hotdata-dev/rivetdb/internal/catalog"
	"github.com/hotdata-dev/rivetdb/internal/config"
	"github.com/hotdata-dev/rivetdb/internal/driver"
	"github.com/hotdata-dev/rivetdb/internal/driver/types"
	"github.com/hotdata-dev/rivetdb/internal/orchestrator"
	"github.com/hotdata-dev/rivetdb/internal/secret"
)

// fakeCatalog is a minimal in-memory catalog.Store; ListTables is the one
// method this package's tests actually rely on beyond what the
// orchestrator needs to run its pipeline.
type fakeCatalog struct {
	mu          sync.Mutex
	connections map[int64]catalog.Connection
	tables      map[int64]catalog.Table
	columns     map[int64][]catalog.Column
}

func newFakeCatalog() *fakeCatalog {
	return &fakeCatalog{
		connections: map[int64]catalog.Connection{},
		tables:      map[int64]catalog.Table{},
		columns:     map[int64][]catalog.Column{},
	}
}

func (f *fakeCatalog) addConnection(id int64, source catalog.Source) {
	f.connections[id] = catalog.Connection{ID: id, Name: fmt.Sprintf("conn%d", id), Source: source}
}

func (f *fakeCatalog) addTable(t catalog.Table, cols []catalog.Column) {
	f.tables[t.ID] = t
	f.columns[t.ID] = cols
}

func (f *fakeCatalog) CreateConnection(ctx context.Context, name string, source catalog.Source) (int64, error) {
	return 0, nil
}
func (f *fakeCatalog) GetConnection(ctx context.Context, name string) (*catalog.Connection, error) {
	return nil, nil
}
func (f *fakeCatalog) GetConnectionByID(ctx context.Context, id int64) (*catalog.Connection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.connections[id]
	if !ok {
		return nil, nil
	}
	return &c, nil
}
func (f *fakeCatalog) ListConnections(ctx context.Context) ([]catalog.Connection, error) { return nil, nil }
func (f *fakeCatalog) DeleteConnection(ctx context.Context, name string) ([]catalog.Table, error) {
	return nil, nil
}
func (f *fakeCatalog) UpsertTables(ctx context.Context, connectionID int64, tables []catalog.TableMeta) (catalog.DiscoveryDiff, error) {
	return catalog.DiscoveryDiff{}, nil
}
func (f *fakeCatalog) GetTable(ctx context.Context, connectionID int64, catalogName *string, schema, table string) (*catalog.Table, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, t := range f.tables {
		if t.ConnectionID == connectionID && t.SchemaName == schema && t.TableName == table {
			cp := t
			return &cp, nil
		}
	}
	return nil, nil
}
func (f *fakeCatalog) GetTableByID(ctx context.Context, tableID int64) (*catalog.Table, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tables[tableID]
	if !ok {
		return nil, nil
	}
	return &t, nil
}
func (f *fakeCatalog) ListTables(ctx context.Context, connectionID int64) ([]catalog.Table, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []catalog.Table
	for _, t := range f.tables {
		if t.ConnectionID == connectionID {
			out = append(out, t)
		}
	}
	return out, nil
}
func (f *fakeCatalog) ListTableColumns(ctx context.Context, tableID int64) ([]catalog.Column, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.columns[tableID], nil
}
func (f *fakeCatalog) UpdateTableArtifact(ctx context.Context, tableID int64, newURL string, rowCount int64) (*string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t := f.tables[tableID]
	old := t.ArtifactURL
	url := newURL
	t.ArtifactURL = &url
	t.RowCount = &rowCount
	f.tables[tableID] = t
	return old, nil
}
func (f *fakeCatalog) ClearTableArtifact(ctx context.Context, tableID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	t := f.tables[tableID]
	t.ArtifactURL = nil
	t.RowCount = nil
	f.tables[tableID] = t
	return nil
}
func (f *fakeCatalog) Close() error { return nil }

func (f *fakeCatalog) PutSecret(name string, blob []byte) error   { return nil }
func (f *fakeCatalog) GetSecret(name string) (*secret.Row, error) { return nil, nil }
func (f *fakeCatalog) DeleteSecret(name string) error             { return nil }
func (f *fakeCatalog) ListSecrets() ([]secret.Row, error)         { return nil, nil }

// fakeBlob is an in-memory blob.Store backed by a temp directory.
type fakeBlob struct {
	dir   string
	mu    sync.Mutex
	final map[string]string
	seq   int
}

func newFakeBlob(t *testing.T) *fakeBlob {
	return &fakeBlob{dir: t.TempDir(), final: map[string]string{}}
}

func (b *fakeBlob) PrepareWrite(ctx context.Context, connectionID int64, schema, table string) (blob.Handle, error) {
	return b.prepare(connectionID, schema, table, "data")
}
func (b *fakeBlob) PrepareVersionedWrite(ctx context.Context, connectionID int64, schema, table string) (blob.Handle, error) {
	b.mu.Lock()
	b.seq++
	name := fmt.Sprintf("data_v%d", b.seq)
	b.mu.Unlock()
	return b.prepare(connectionID, schema, table, name)
}
func (b *fakeBlob) prepare(connectionID int64, schema, table, name string) (blob.Handle, error) {
	staging := filepath.Join(b.dir, ".staging", fmt.Sprintf("%d-%s-%s-%s.parquet", connectionID, schema, table, name))
	if err := os.MkdirAll(filepath.Dir(staging), 0o755); err != nil {
		return blob.Handle{}, err
	}
	final := "file://" + filepath.Join(b.dir, fmt.Sprintf("%d/%s/%s/%s.parquet", connectionID, schema, table, name))
	b.mu.Lock()
	b.final[staging] = final
	b.mu.Unlock()
	return blob.Handle{LocalPath: staging}, nil
}

func (b *fakeBlob) Finalize(ctx context.Context, h blob.Handle) (string, error) {
	b.mu.Lock()
	final := b.final[h.LocalPath]
	b.mu.Unlock()
	path := final[len("file://"):]
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", err
	}
	if err := os.Rename(h.LocalPath, path); err != nil {
		return "", err
	}
	return final, nil
}
func (b *fakeBlob) Delete(ctx context.Context, url string) error {
	return os.Remove(url[len("file://"):])
}
func (b *fakeBlob) DeletePrefix(ctx context.Context, prefix string) error { return nil }
func (b *fakeBlob) ListPrefix(ctx context.Context, prefix string) ([]string, error) {
	return nil, nil
}

// fakeDriver writes a fixed row set, or fails for named tables, to
// exercise RefreshConnectionSync's partial-failure collection.
type fakeDriver struct {
	calls   int64
	rows    []map[string]any
	failFor map[string]bool
}

func (d *fakeDriver) Discover(ctx context.Context, rs types.ResolvedSource) ([]catalog.TableMeta, error) {
	return nil, nil
}
func (d *fakeDriver) FetchTable(ctx context.Context, rs types.ResolvedSource, catalogName *string, schema, table string, sink types.RowSink) error {
	atomic.AddInt64(&d.calls, 1)
	if d.failFor != nil && d.failFor[table] {
		return fmt.Errorf("simulated failure for %s", table)
	}
	for _, row := range d.rows {
		if err := sink.Write(row); err != nil {
			return err
		}
	}
	return nil
}

func testConfig() *config.Config {
	return &config.Config{
		LogLevel:                "ERROR",
		DefaultFetchTimeoutSecs: 30,
		GracePeriodSecs:         3600,
		RefreshParallelism:      5,
		JobRetentionSecs:        3600,
	}
}

func newTestScheduler(t *testing.T, d driver.Driver) (*Scheduler, *fakeCatalog) {
	cat := newFakeCatalog()
	bs := newFakeBlob(t)
	secrets := secret.New(cat, testConfig())
	o := orchestrator.New(cat, bs, secrets, testConfig())
	o.SetDriverFor(func(catalog.SourceKind) (driver.Driver, error) { return d, nil })
	return New(cat, o, testConfig()), cat
}

func TestRefreshConnectionSyncRefreshesEveryTable(t *testing.T) {
	d := &fakeDriver{rows: []map[string]any{{"id": int64(1)}}}
	s, cat := newTestScheduler(t, d)

	cat.addConnection(1, catalog.Source{Kind: catalog.SourcePostgres})
	for i, name := range []string{"a", "b", "c"} {
		cat.addTable(catalog.Table{ID: int64(10 + i), ConnectionID: 1, SchemaName: "public", TableName: name},
			[]catalog.Column{{TableID: int64(10 + i), Ordinal: 0, Name: "id", DataType: "int64"}})
	}

	result, err := s.RefreshConnectionSync(context.Background(), 1, 2)
	if err != nil {
		t.Fatal(err)
	}
	if result.TablesRefreshed != 3 {
		t.Fatalf("expected 3 refreshed, got %d", result.TablesRefreshed)
	}
	if result.TablesFailed != 0 {
		t.Fatalf("expected 0 failed, got %d", result.TablesFailed)
	}
	if atomic.LoadInt64(&d.calls) != 3 {
		t.Fatalf("expected 3 fetch_table calls, got %d", d.calls)
	}
}

func TestRefreshConnectionSyncCollectsPerTableFailures(t *testing.T) {
	d := &fakeDriver{rows: []map[string]any{{"id": int64(1)}}, failFor: map[string]bool{"bad": true}}
	s, cat := newTestScheduler(t, d)

	cat.addConnection(1, catalog.Source{Kind: catalog.SourcePostgres})
	cat.addTable(catalog.Table{ID: 20, ConnectionID: 1, SchemaName: "public", TableName: "good"},
		[]catalog.Column{{TableID: 20, Ordinal: 0, Name: "id", DataType: "int64"}})
	cat.addTable(catalog.Table{ID: 21, ConnectionID: 1, SchemaName: "public", TableName: "bad"},
		[]catalog.Column{{TableID: 21, Ordinal: 0, Name: "id", DataType: "int64"}})

	result, err := s.RefreshConnectionSync(context.Background(), 1, 5)
	if err != nil {
		t.Fatal(err)
	}
	if result.TablesRefreshed != 1 || result.TablesFailed != 1 {
		t.Fatalf("expected 1 refreshed and 1 failed, got %+v", result)
	}
	if len(result.Errors) != 1 || result.Errors[0].TableID != 21 {
		t.Fatalf("expected error recorded for table 21, got %+v", result.Errors)
	}
}

func TestRefreshConnectionAsyncReportsCompletedJob(t *testing.T) {
	d := &fakeDriver{rows: []map[string]any{{"id": int64(1)}}}
	s, cat := newTestScheduler(t, d)

	cat.addConnection(1, catalog.Source{Kind: catalog.SourcePostgres})
	cat.addTable(catalog.Table{ID: 30, ConnectionID: 1, SchemaName: "public", TableName: "events"},
		[]catalog.Column{{TableID: 30, Ordinal: 0, Name: "id", DataType: "int64"}})

	id := s.RefreshConnectionAsync(1, 2)

	var job *catalog.RefreshJob
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		j, err := s.GetJob(id)
		if err != nil {
			t.Fatal(err)
		}
		if j.State == catalog.JobCompleted || j.State == catalog.JobFailed {
			job = j
			break
		}
		time.Sleep(time.Millisecond)
	}
	if job == nil {
		t.Fatal("job never reached a terminal state")
	}
	if job.State != catalog.JobCompleted {
		t.Fatalf("expected completed, got %s (%s)", job.State, job.ErrorMessage)
	}
	if job.Result == nil || job.Result.TablesRefreshed != 1 {
		t.Fatalf("expected result with 1 refreshed table, got %+v", job.Result)
	}
}

func TestGetJobReturnsNotFoundForUnknownID(t *testing.T) {
	d := &fakeDriver{}
	s, _ := newTestScheduler(t, d)

	if _, err := s.GetJob("nonexistent"); err == nil {
		t.Fatal("expected error for unknown refresh id")
	}
}

func TestReapTerminalJobsRemovesOldEntries(t *testing.T) {
	d := &fakeDriver{}
	s, _ := newTestScheduler(t, d)
	s.cfg.JobRetentionSecs = 0

	past := time.Now().Add(-time.Hour)
	s.jobs["old"] = &catalog.RefreshJob{RefreshID: "old", State: catalog.JobCompleted, CompletedAt: &past}
	s.jobs["fresh"] = &catalog.RefreshJob{RefreshID: "fresh", State: catalog.JobPending}

	removed := s.ReapTerminalJobs()
	if removed != 1 {
		t.Fatalf("expected 1 job reaped, got %d", removed)
	}
	if _, ok := s.jobs["old"]; ok {
		t.Fatal("expected old terminal job to be removed")
	}
	if _, ok := s.jobs["fresh"]; !ok {
		t.Fatal("expected pending job to survive reap")
	}
}
