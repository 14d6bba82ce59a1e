package catalog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/hotdata-dev/rivetdb/internal/rerr"
	"github.com/hotdata-dev/rivetdb/internal/secret"
)

// sqlStore is the shared implementation of Store over database/sql,
// parameterized by a placeholder formatter so the same query logic serves
// both the SQLite backend (mattn/go-sqlite3, "?" placeholders) and the
// Postgres backend (jackc/pgx/v5's database/sql driver, "$N" placeholders)
// — mirroring ExecTransactionContext's single-transaction-per-write
// discipline in duckdb_client.go.
type sqlStore struct {
	db *sql.DB
	ph func(n int) string
}

var _ Store = (*sqlStore)(nil)
var _ secret.Catalog = (*sqlStore)(nil)

func (s *sqlStore) Close() error { return s.db.Close() }

// q rewrites a query template with %s placeholders for bind params 1..n,
// e.g. q("SELECT * FROM t WHERE id = %s", 1) -> "SELECT * FROM t WHERE id = $1".
func (s *sqlStore) q(template string, args ...int) string {
	ifaces := make([]any, len(args))
	for i, n := range args {
		ifaces[i] = s.ph(n)
	}
	return fmt.Sprintf(template, ifaces...)
}

// --- Connections -----------------------------------------------------------

func (s *sqlStore) CreateConnection(ctx context.Context, name string, source Source) (int64, error) {
	sourceJSON, err := json.Marshal(source)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", rerr.ErrInternal, err)
	}

	query := s.q(`INSERT INTO connections (name, source_json) VALUES (%s, %s) RETURNING id`, 1, 2)
	var id int64
	err = s.db.QueryRowContext(ctx, query, name, string(sourceJSON)).Scan(&id)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, errNameConflict(name)
		}
		return 0, fmt.Errorf("%w: %v", rerr.ErrCatalog, err)
	}
	return id, nil
}

func (s *sqlStore) GetConnection(ctx context.Context, name string) (*Connection, error) {
	query := s.q(`SELECT id, name, source_json, created_at FROM connections WHERE name = %s`, 1)
	row := s.db.QueryRowContext(ctx, query, name)
	return scanConnection(row)
}

func (s *sqlStore) GetConnectionByID(ctx context.Context, id int64) (*Connection, error) {
	query := s.q(`SELECT id, name, source_json, created_at FROM connections WHERE id = %s`, 1)
	row := s.db.QueryRowContext(ctx, query, id)
	return scanConnection(row)
}

func (s *sqlStore) ListConnections(ctx context.Context) ([]Connection, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, source_json, created_at FROM connections ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", rerr.ErrCatalog, err)
	}
	defer rows.Close()

	var out []Connection
	for rows.Next() {
		conn, err := scanConnection(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *conn)
	}
	return out, rows.Err()
}

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanConnection(row scanner) (*Connection, error) {
	var (
		conn       Connection
		sourceJSON string
	)
	if err := row.Scan(&conn.ID, &conn.Name, &sourceJSON, &conn.CreatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %v", rerr.ErrCatalog, err)
	}
	if err := json.Unmarshal([]byte(sourceJSON), &conn.Source); err != nil {
		return nil, fmt.Errorf("%w: decoding source_json: %v", rerr.ErrInternal, err)
	}
	return &conn, nil
}

func (s *sqlStore) DeleteConnection(ctx context.Context, name string) ([]Table, error) {
	conn, err := s.GetConnection(ctx, name)
	if err != nil {
		return nil, err
	}
	if conn == nil {
		return nil, fmt.Errorf("connection %q: %w", name, rerr.ErrNotFound)
	}

	tables, err := s.ListTables(ctx, conn.ID)
	if err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", rerr.ErrCatalog, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, s.q(`DELETE FROM connections WHERE id = %s`, 1), conn.ID); err != nil {
		return nil, fmt.Errorf("%w: %v", rerr.ErrCatalog, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("%w: %v", rerr.ErrCatalog, err)
	}
	return tables, nil
}

// --- Tables / columns --------------------------------------------------------

func (s *sqlStore) GetTable(ctx context.Context, connectionID int64, catalogName *string, schema, table string) (*Table, error) {
	var query string
	var row *sql.Row
	if catalogName == nil {
		query = s.q(`SELECT id, connection_id, catalog_name, schema_name, table_name, artifact_url, last_sync_at, row_count
			FROM tables WHERE connection_id = %s AND catalog_name IS NULL AND schema_name = %s AND table_name = %s`, 1, 2, 3)
		row = s.db.QueryRowContext(ctx, query, connectionID, schema, table)
	} else {
		query = s.q(`SELECT id, connection_id, catalog_name, schema_name, table_name, artifact_url, last_sync_at, row_count
			FROM tables WHERE connection_id = %s AND catalog_name = %s AND schema_name = %s AND table_name = %s`, 1, 2, 3, 4)
		row = s.db.QueryRowContext(ctx, query, connectionID, *catalogName, schema, table)
	}
	return scanTable(row)
}

func (s *sqlStore) GetTableByID(ctx context.Context, tableID int64) (*Table, error) {
	query := s.q(`SELECT id, connection_id, catalog_name, schema_name, table_name, artifact_url, last_sync_at, row_count
		FROM tables WHERE id = %s`, 1)
	return scanTable(s.db.QueryRowContext(ctx, query, tableID))
}

func (s *sqlStore) ListTables(ctx context.Context, connectionID int64) ([]Table, error) {
	query := s.q(`SELECT id, connection_id, catalog_name, schema_name, table_name, artifact_url, last_sync_at, row_count
		FROM tables WHERE connection_id = %s ORDER BY id`, 1)
	rows, err := s.db.QueryContext(ctx, query, connectionID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", rerr.ErrCatalog, err)
	}
	defer rows.Close()

	var out []Table
	for rows.Next() {
		t, err := scanTable(rows)
		if err != nil {
			return nil, err
		}
		if t != nil {
			out = append(out, *t)
		}
	}
	return out, rows.Err()
}

func scanTable(row scanner) (*Table, error) {
	var t Table
	if err := row.Scan(&t.ID, &t.ConnectionID, &t.CatalogName, &t.SchemaName, &t.TableName, &t.ArtifactURL, &t.LastSyncAt, &t.RowCount); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %v", rerr.ErrCatalog, err)
	}
	return &t, nil
}

// UpsertTables reconciles a connection's discovered tables/columns against
// the catalog's existing rows in one transaction (spec.md §4.1), returning
// the added/removed/schema_changed diff. Tie-break for column comparison is
// ordinal order then name, matching spec.md §4.1's rule verbatim.
func (s *sqlStore) UpsertTables(ctx context.Context, connectionID int64, incoming []TableMeta) (DiscoveryDiff, error) {
	existing, err := s.ListTables(ctx, connectionID)
	if err != nil {
		return DiscoveryDiff{}, err
	}
	existingByIdentity := map[TableIdentity]Table{}
	for _, t := range existing {
		existingByIdentity[tableIdentity(t.CatalogName, t.SchemaName, t.TableName)] = t
	}

	incomingByIdentity := map[TableIdentity]TableMeta{}
	for _, m := range incoming {
		incomingByIdentity[tableIdentity(m.CatalogName, m.SchemaName, m.TableName)] = m
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return DiscoveryDiff{}, fmt.Errorf("%w: %v", rerr.ErrCatalog, err)
	}
	defer tx.Rollback()

	var diff DiscoveryDiff

	for identity, meta := range incomingByIdentity {
		existingTable, found := existingByIdentity[identity]
		if !found {
			tableID, err := s.insertTable(ctx, tx, connectionID, meta)
			if err != nil {
				return DiscoveryDiff{}, err
			}
			if err := s.replaceColumns(ctx, tx, tableID, meta.Columns); err != nil {
				return DiscoveryDiff{}, err
			}
			diff.Added = append(diff.Added, identity)
			continue
		}

		existingCols, err := s.columnsForTable(ctx, tx, existingTable.ID)
		if err != nil {
			return DiscoveryDiff{}, err
		}
		if columnsChanged(existingCols, meta.Columns) {
			if err := s.replaceColumns(ctx, tx, existingTable.ID, meta.Columns); err != nil {
				return DiscoveryDiff{}, err
			}
			diff.SchemaChanged = append(diff.SchemaChanged, identity)
		}
	}

	for identity, existingTable := range existingByIdentity {
		if _, stillPresent := incomingByIdentity[identity]; !stillPresent {
			if _, err := tx.ExecContext(ctx, s.q(`DELETE FROM tables WHERE id = %s`, 1), existingTable.ID); err != nil {
				return DiscoveryDiff{}, fmt.Errorf("%w: %v", rerr.ErrCatalog, err)
			}
			diff.Removed = append(diff.Removed, identity)
		}
	}

	if err := tx.Commit(); err != nil {
		return DiscoveryDiff{}, fmt.Errorf("%w: %v", rerr.ErrCatalog, err)
	}

	sortIdentities(diff.Added)
	sortIdentities(diff.Removed)
	sortIdentities(diff.SchemaChanged)
	return diff, nil
}

func tableIdentity(catalogName *string, schema, table string) TableIdentity {
	cn := ""
	if catalogName != nil {
		cn = *catalogName
	}
	return TableIdentity{CatalogName: cn, SchemaName: schema, TableName: table}
}

func sortIdentities(ids []TableIdentity) {
	sort.Slice(ids, func(i, j int) bool {
		if ids[i].SchemaName != ids[j].SchemaName {
			return ids[i].SchemaName < ids[j].SchemaName
		}
		return ids[i].TableName < ids[j].TableName
	})
}

func (s *sqlStore) insertTable(ctx context.Context, tx *sql.Tx, connectionID int64, meta TableMeta) (int64, error) {
	query := s.q(`INSERT INTO tables (connection_id, catalog_name, schema_name, table_name) VALUES (%s, %s, %s, %s) RETURNING id`, 1, 2, 3, 4)
	var id int64
	if err := tx.QueryRowContext(ctx, query, connectionID, meta.CatalogName, meta.SchemaName, meta.TableName).Scan(&id); err != nil {
		return 0, fmt.Errorf("%w: %v", rerr.ErrCatalog, err)
	}
	return id, nil
}

func (s *sqlStore) replaceColumns(ctx context.Context, tx *sql.Tx, tableID int64, columns []ColumnMeta) error {
	if _, err := tx.ExecContext(ctx, s.q(`DELETE FROM columns WHERE table_id = %s`, 1), tableID); err != nil {
		return fmt.Errorf("%w: %v", rerr.ErrCatalog, err)
	}
	insert := s.q(`INSERT INTO columns (table_id, ordinal, name, data_type, nullable) VALUES (%s, %s, %s, %s, %s)`, 1, 2, 3, 4, 5)
	for i, c := range columns {
		if _, err := tx.ExecContext(ctx, insert, tableID, i, c.Name, c.DataType, c.Nullable); err != nil {
			return fmt.Errorf("%w: %v", rerr.ErrCatalog, err)
		}
	}
	return nil
}

// ListTableColumns returns a table's columns in ordinal order, for callers
// (the orchestrator building a Streaming Writer schema) that only have a
// table id and no open transaction.
func (s *sqlStore) ListTableColumns(ctx context.Context, tableID int64) ([]Column, error) {
	query := s.q(`SELECT table_id, ordinal, name, data_type, nullable FROM columns WHERE table_id = %s ORDER BY ordinal`, 1)
	rows, err := s.db.QueryContext(ctx, query, tableID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", rerr.ErrCatalog, err)
	}
	defer rows.Close()

	var out []Column
	for rows.Next() {
		var c Column
		if err := rows.Scan(&c.TableID, &c.Ordinal, &c.Name, &c.DataType, &c.Nullable); err != nil {
			return nil, fmt.Errorf("%w: %v", rerr.ErrCatalog, err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *sqlStore) columnsForTable(ctx context.Context, tx *sql.Tx, tableID int64) ([]ColumnMeta, error) {
	query := s.q(`SELECT name, data_type, nullable FROM columns WHERE table_id = %s ORDER BY ordinal`, 1)
	rows, err := tx.QueryContext(ctx, query, tableID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", rerr.ErrCatalog, err)
	}
	defer rows.Close()

	var out []ColumnMeta
	for rows.Next() {
		var c ColumnMeta
		if err := rows.Scan(&c.Name, &c.DataType, &c.Nullable); err != nil {
			return nil, fmt.Errorf("%w: %v", rerr.ErrCatalog, err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// columnsChanged implements spec.md §4.1's schema-change rule: any add,
// remove, or type change; nullability change also counts, compared in
// ordinal order.
func columnsChanged(existing, incoming []ColumnMeta) bool {
	if len(existing) != len(incoming) {
		return true
	}
	for i := range existing {
		if existing[i].Name != incoming[i].Name ||
			existing[i].DataType != incoming[i].DataType ||
			existing[i].Nullable != incoming[i].Nullable {
			return true
		}
	}
	return false
}

// UpdateTableArtifact atomically swaps a table's cache pointer (spec.md
// §4.5 step 8), returning the previous URL for the caller to schedule
// grace-period deletion of.
func (s *sqlStore) UpdateTableArtifact(ctx context.Context, tableID int64, newURL string, rowCount int64) (*string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", rerr.ErrCatalog, err)
	}
	defer tx.Rollback()

	var oldURL *string
	selectQuery := s.q(`SELECT artifact_url FROM tables WHERE id = %s`, 1)
	if err := tx.QueryRowContext(ctx, selectQuery, tableID).Scan(&oldURL); err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("table %d: %w", tableID, rerr.ErrNotFound)
		}
		return nil, fmt.Errorf("%w: %v", rerr.ErrCatalog, err)
	}

	updateQuery := s.q(`UPDATE tables SET artifact_url = %s, row_count = %s, last_sync_at = %s WHERE id = %s`, 1, 2, 3, 4)
	if _, err := tx.ExecContext(ctx, updateQuery, newURL, rowCount, timeNowUTC().Format(rfc3339Milli), tableID); err != nil {
		return nil, fmt.Errorf("%w: %v", rerr.ErrCatalog, err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("%w: %v", rerr.ErrCatalog, err)
	}
	return oldURL, nil
}

// ClearTableArtifact nulls a table's artifact pointer without deleting the
// blob itself (discover's ?invalidate_changed=true path, spec.md §6): the
// next fetch_if_absent rebuilds it, and the orphan sweeper reclaims the
// abandoned blob once nothing references it.
func (s *sqlStore) ClearTableArtifact(ctx context.Context, tableID int64) error {
	query := s.q(`UPDATE tables SET artifact_url = NULL, row_count = NULL WHERE id = %s`, 1)
	if _, err := s.db.ExecContext(ctx, query, tableID); err != nil {
		return fmt.Errorf("%w: %v", rerr.ErrCatalog, err)
	}
	return nil
}

// --- Secrets (secret.Catalog) ------------------------------------------------

func (s *sqlStore) PutSecret(name string, blob []byte) error {
	ctx := context.Background()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	upsertSecret := s.q(`INSERT INTO secrets (name, updated_at) VALUES (%s, %s)
		ON CONFLICT (name) DO UPDATE SET updated_at = excluded.updated_at`, 1, 2)
	now := timeNowUTC().Format(rfc3339Milli)
	if _, err := tx.ExecContext(ctx, upsertSecret, name, now); err != nil {
		return err
	}

	upsertValue := s.q(`INSERT INTO encrypted_secret_values (name, encrypted_value) VALUES (%s, %s)
		ON CONFLICT (name) DO UPDATE SET encrypted_value = excluded.encrypted_value`, 1, 2)
	if _, err := tx.ExecContext(ctx, upsertValue, name, blob); err != nil {
		return err
	}

	return tx.Commit()
}

func (s *sqlStore) GetSecret(name string) (*secret.Row, error) {
	ctx := context.Background()
	query := s.q(`SELECT s.name, v.encrypted_value, s.created_at, s.updated_at
		FROM secrets s JOIN encrypted_secret_values v ON v.name = s.name WHERE s.name = %s`, 1)
	var row secret.Row
	err := s.db.QueryRowContext(ctx, query, name).Scan(&row.Name, &row.Blob, &row.CreatedAt, &row.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

func (s *sqlStore) DeleteSecret(name string) error {
	ctx := context.Background()
	_, err := s.db.ExecContext(ctx, s.q(`DELETE FROM secrets WHERE name = %s`, 1), name)
	return err
}

func (s *sqlStore) ListSecrets() ([]secret.Row, error) {
	ctx := context.Background()
	rows, err := s.db.QueryContext(ctx, `SELECT s.name, v.encrypted_value, s.created_at, s.updated_at
		FROM secrets s JOIN encrypted_secret_values v ON v.name = s.name ORDER BY s.name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []secret.Row
	for rows.Next() {
		var r secret.Row
		if err := rows.Scan(&r.Name, &r.Blob, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "duplicate key value violates unique constraint")
}
