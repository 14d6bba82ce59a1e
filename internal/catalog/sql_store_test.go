package catalog

import (
	"context"
	"errors"
	"testing"

	"github.com/hotdata-dev/rivetdb/internal/rerr"
)

func newTestStore(t *testing.T) Store {
	t.Helper()
	store, err := openSQLite(context.Background(), ":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestCreateConnectionUniqueViolationMapsToNameConflict(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if _, err := store.CreateConnection(ctx, "pg1", Source{Kind: SourcePostgres}); err != nil {
		t.Fatal(err)
	}
	_, err := store.CreateConnection(ctx, "pg1", Source{Kind: SourcePostgres})
	if !errors.Is(err, rerr.ErrNameConflict) {
		t.Fatalf("got %v, want ErrNameConflict", err)
	}
}

func TestCreateConnectionRoundTripsSource(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	src := Source{Kind: SourceSnowflake, Account: "acme", Warehouse: "wh1", SecretRef: "sf-pw"}
	id, err := store.CreateConnection(ctx, "sf1", src)
	if err != nil {
		t.Fatal(err)
	}

	conn, err := store.GetConnection(ctx, "sf1")
	if err != nil {
		t.Fatal(err)
	}
	if conn == nil || conn.ID != id || conn.Source != src {
		t.Fatalf("got %+v, want id=%d source=%+v", conn, id, src)
	}

	byID, err := store.GetConnectionByID(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if byID == nil || byID.Name != "sf1" {
		t.Fatalf("GetConnectionByID: got %+v", byID)
	}
}

func TestGetConnectionMissingReturnsNil(t *testing.T) {
	store := newTestStore(t)
	conn, err := store.GetConnection(context.Background(), "nope")
	if err != nil {
		t.Fatal(err)
	}
	if conn != nil {
		t.Fatalf("got %+v, want nil", conn)
	}
}

func tableMeta(schema, table string, cols ...ColumnMeta) TableMeta {
	return TableMeta{SchemaName: schema, TableName: table, Columns: cols}
}

func col(name, dataType string) ColumnMeta {
	return ColumnMeta{Name: name, DataType: dataType, Nullable: true}
}

// TestUpsertTablesDiff exercises spec.md §8's "idempotent discovery"
// property across three discovery passes: first-seen tables are Added,
// an unseen-but-known table is Removed, and a table whose column list
// changed is reported as SchemaChanged — while an untouched table
// produces no diff entry at all.
func TestUpsertTablesDiff(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	connID, err := store.CreateConnection(ctx, "pg1", Source{Kind: SourcePostgres})
	if err != nil {
		t.Fatal(err)
	}

	diff, err := store.UpsertTables(ctx, connID, []TableMeta{
		tableMeta("public", "events", col("id", "int64")),
		tableMeta("public", "users", col("id", "int64"), col("email", "text")),
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(diff.Added) != 2 || len(diff.Removed) != 0 || len(diff.SchemaChanged) != 0 {
		t.Fatalf("first discovery: got %+v", diff)
	}
	if diff.Added[0].TableName != "events" || diff.Added[1].TableName != "users" {
		t.Fatalf("added identities not sorted by schema/table: %+v", diff.Added)
	}

	// Re-running the identical discovery must be a no-op diff (idempotent).
	diff, err = store.UpsertTables(ctx, connID, []TableMeta{
		tableMeta("public", "events", col("id", "int64")),
		tableMeta("public", "users", col("id", "int64"), col("email", "text")),
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(diff.Added) != 0 || len(diff.Removed) != 0 || len(diff.SchemaChanged) != 0 {
		t.Fatalf("repeat discovery should be a no-op, got %+v", diff)
	}

	// Third pass: drop "users", add "orders", change "events" columns.
	diff, err = store.UpsertTables(ctx, connID, []TableMeta{
		tableMeta("public", "events", col("id", "int64"), col("ts", "timestamp")),
		tableMeta("public", "orders", col("id", "int64")),
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(diff.Added) != 1 || diff.Added[0].TableName != "orders" {
		t.Fatalf("got Added %+v, want [orders]", diff.Added)
	}
	if len(diff.Removed) != 1 || diff.Removed[0].TableName != "users" {
		t.Fatalf("got Removed %+v, want [users]", diff.Removed)
	}
	if len(diff.SchemaChanged) != 1 || diff.SchemaChanged[0].TableName != "events" {
		t.Fatalf("got SchemaChanged %+v, want [events]", diff.SchemaChanged)
	}

	tables, err := store.ListTables(ctx, connID)
	if err != nil {
		t.Fatal(err)
	}
	names := map[string]bool{}
	for _, tb := range tables {
		names[tb.TableName] = true
	}
	if names["users"] || !names["events"] || !names["orders"] {
		t.Fatalf("unexpected surviving tables: %+v", tables)
	}
}

func TestUpsertTablesPersistsColumnsInOrdinalOrder(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	connID, err := store.CreateConnection(ctx, "pg1", Source{Kind: SourcePostgres})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := store.UpsertTables(ctx, connID, []TableMeta{
		tableMeta("public", "events", col("id", "int64"), col("name", "text"), col("ts", "timestamp")),
	}); err != nil {
		t.Fatal(err)
	}

	tbl, err := store.GetTable(ctx, connID, nil, "public", "events")
	if err != nil {
		t.Fatal(err)
	}
	if tbl == nil {
		t.Fatal("expected table to exist")
	}

	cols, err := store.ListTableColumns(ctx, tbl.ID)
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"id", "name", "ts"}
	if len(cols) != len(want) {
		t.Fatalf("got %d columns, want %d", len(cols), len(want))
	}
	for i, name := range want {
		if cols[i].Name != name || cols[i].Ordinal != i {
			t.Fatalf("column %d: got %+v, want name=%s ordinal=%d", i, cols[i], name, i)
		}
	}
}

func TestUpdateTableArtifactAtomicSwapReturnsPreviousURL(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	connID, err := store.CreateConnection(ctx, "pg1", Source{Kind: SourcePostgres})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := store.UpsertTables(ctx, connID, []TableMeta{tableMeta("public", "events", col("id", "int64"))}); err != nil {
		t.Fatal(err)
	}
	tbl, err := store.GetTable(ctx, connID, nil, "public", "events")
	if err != nil || tbl == nil {
		t.Fatalf("table not found: %v", err)
	}

	oldURL, err := store.UpdateTableArtifact(ctx, tbl.ID, "file:///v1.parquet", 10)
	if err != nil {
		t.Fatal(err)
	}
	if oldURL != nil {
		t.Fatalf("first swap: got oldURL %v, want nil", oldURL)
	}

	oldURL, err = store.UpdateTableArtifact(ctx, tbl.ID, "file:///v2.parquet", 20)
	if err != nil {
		t.Fatal(err)
	}
	if oldURL == nil || *oldURL != "file:///v1.parquet" {
		t.Fatalf("second swap: got oldURL %v, want file:///v1.parquet", oldURL)
	}

	refreshed, err := store.GetTableByID(ctx, tbl.ID)
	if err != nil || refreshed == nil {
		t.Fatalf("GetTableByID: %v", err)
	}
	if refreshed.ArtifactURL == nil || *refreshed.ArtifactURL != "file:///v2.parquet" {
		t.Fatalf("got ArtifactURL %v, want file:///v2.parquet", refreshed.ArtifactURL)
	}
	if refreshed.RowCount == nil || *refreshed.RowCount != 20 {
		t.Fatalf("got RowCount %v, want 20", refreshed.RowCount)
	}
}

func TestUpdateTableArtifactUnknownTableReturnsNotFound(t *testing.T) {
	store := newTestStore(t)
	_, err := store.UpdateTableArtifact(context.Background(), 999, "file:///x.parquet", 1)
	if !errors.Is(err, rerr.ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
}

func TestClearTableArtifactNullsPointerWithoutRemovingRow(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	connID, err := store.CreateConnection(ctx, "pg1", Source{Kind: SourcePostgres})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := store.UpsertTables(ctx, connID, []TableMeta{tableMeta("public", "events", col("id", "int64"))}); err != nil {
		t.Fatal(err)
	}
	tbl, err := store.GetTable(ctx, connID, nil, "public", "events")
	if err != nil || tbl == nil {
		t.Fatalf("table not found: %v", err)
	}
	if _, err := store.UpdateTableArtifact(ctx, tbl.ID, "file:///v1.parquet", 5); err != nil {
		t.Fatal(err)
	}

	if err := store.ClearTableArtifact(ctx, tbl.ID); err != nil {
		t.Fatal(err)
	}

	cleared, err := store.GetTableByID(ctx, tbl.ID)
	if err != nil || cleared == nil {
		t.Fatalf("expected row to survive clear: %v", err)
	}
	if cleared.ArtifactURL != nil || cleared.RowCount != nil {
		t.Fatalf("got ArtifactURL=%v RowCount=%v, want both nil", cleared.ArtifactURL, cleared.RowCount)
	}
}

// TestDeleteConnectionCascadesToTablesAndColumns exercises spec.md §8's
// "connection cascade" property against the real ON DELETE CASCADE
// foreign keys declared in migrations/sqlite/0001_init.sql, not a fake
// that has to remember to reimplement it.
func TestDeleteConnectionCascadesToTablesAndColumns(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	connID, err := store.CreateConnection(ctx, "pg1", Source{Kind: SourcePostgres})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := store.UpsertTables(ctx, connID, []TableMeta{
		tableMeta("public", "events", col("id", "int64")),
		tableMeta("public", "users", col("id", "int64")),
	}); err != nil {
		t.Fatal(err)
	}
	tables, err := store.ListTables(ctx, connID)
	if err != nil {
		t.Fatal(err)
	}
	if len(tables) != 2 {
		t.Fatalf("setup: got %d tables, want 2", len(tables))
	}

	removed, err := store.DeleteConnection(ctx, "pg1")
	if err != nil {
		t.Fatal(err)
	}
	if len(removed) != 2 {
		t.Fatalf("DeleteConnection reported %d removed tables, want 2", len(removed))
	}

	conn, err := store.GetConnection(ctx, "pg1")
	if err != nil {
		t.Fatal(err)
	}
	if conn != nil {
		t.Fatal("expected connection to be gone")
	}

	for _, removedTable := range removed {
		tbl, err := store.GetTableByID(ctx, removedTable.ID)
		if err != nil {
			t.Fatal(err)
		}
		if tbl != nil {
			t.Fatalf("table %d survived connection delete, expected cascade", removedTable.ID)
		}
		cols, err := store.ListTableColumns(ctx, removedTable.ID)
		if err != nil {
			t.Fatal(err)
		}
		if len(cols) != 0 {
			t.Fatalf("columns for table %d survived cascade: %+v", removedTable.ID, cols)
		}
	}
}

func TestDeleteConnectionMissingReturnsNotFound(t *testing.T) {
	store := newTestStore(t)
	_, err := store.DeleteConnection(context.Background(), "nope")
	if !errors.Is(err, rerr.ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
}
