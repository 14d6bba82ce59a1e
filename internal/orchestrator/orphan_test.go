package orchestrator

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/hotdata-dev/rivetdb/internal/blob"
	"github.com/hotdata-dev/rivetdb/internal/catalog"
)

func TestSweepConnectionDeletesUnreferencedArtifacts(t *testing.T) {
	d := &fakeDriver{rows: []map[string]any{{"id": int64(1)}}}
	o, cat, bs := newTestOrchestrator(t, d)

	cat.addConnection(1, catalog.Source{Kind: catalog.SourcePostgres})
	cat.addTable(catalog.Table{ID: 40, ConnectionID: 1, SchemaName: "public", TableName: "events"},
		[]catalog.Column{{TableID: 40, Ordinal: 0, Name: "id", DataType: "int64"}})

	referencedURL, err := o.FetchIfAbsent(context.Background(), 1, nil, "public", "events")
	if err != nil {
		t.Fatal(err)
	}

	// Simulate an orphan: a finalized artifact under the same connection
	// that no table row points to (e.g. left behind by a catalog-commit
	// failure after a successful write, per spec.md §7).
	orphanPath := filepath.Join(bs.dir, "1/public/old_table/data.parquet")
	if err := os.MkdirAll(filepath.Dir(orphanPath), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(orphanPath, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	orphanURL := "file://" + orphanPath
	bs.mu.Lock()
	bs.finalized[orphanURL] = true
	bs.mu.Unlock()

	s := NewOrphanSweeper(cat, bs, testConfig())
	n, err := s.SweepConnection(context.Background(), 1)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("expected 1 orphan deleted, got %d", n)
	}
	if _, err := os.Stat(orphanPath); !os.IsNotExist(err) {
		t.Fatal("expected orphan blob to be removed from disk")
	}
	if _, err := os.Stat(referencedURL[len("file://"):]); err != nil {
		t.Fatalf("expected referenced artifact to survive the sweep: %v", err)
	}
}

func TestSweepAllSkipsFailingConnections(t *testing.T) {
	d := &fakeDriver{rows: []map[string]any{{"id": int64(1)}}}
	o, cat, _ := newTestOrchestrator(t, d)

	cat.addConnection(1, catalog.Source{Kind: catalog.SourcePostgres})
	cat.addTable(catalog.Table{ID: 50, ConnectionID: 1, SchemaName: "public", TableName: "events"},
		[]catalog.Column{{TableID: 50, Ordinal: 0, Name: "id", DataType: "int64"}})
	if _, err := o.FetchIfAbsent(context.Background(), 1, nil, "public", "events"); err != nil {
		t.Fatal(err)
	}

	s := NewOrphanSweeper(cat, failingBlob{}, testConfig())
	// Must not panic even though the blob backend errors on every call.
	s.SweepAll(context.Background())
}

// failingBlob is a blob.Store whose every method errors, for exercising
// SweepAll's per-connection error tolerance.
type failingBlob struct{}

func (failingBlob) PrepareWrite(ctx context.Context, connectionID int64, schema, table string) (blob.Handle, error) {
	return blob.Handle{}, errFailingBlob
}
func (failingBlob) PrepareVersionedWrite(ctx context.Context, connectionID int64, schema, table string) (blob.Handle, error) {
	return blob.Handle{}, errFailingBlob
}
func (failingBlob) Finalize(ctx context.Context, h blob.Handle) (string, error) {
	return "", errFailingBlob
}
func (failingBlob) Delete(ctx context.Context, url string) error        { return errFailingBlob }
func (failingBlob) DeletePrefix(ctx context.Context, prefix string) error { return errFailingBlob }
func (failingBlob) ListPrefix(ctx context.Context, prefix string) ([]string, error) {
	return nil, errFailingBlob
}

var errFailingBlob = errors.New("simulated blob backend failure")
