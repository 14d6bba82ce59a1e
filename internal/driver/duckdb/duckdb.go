// Package duckdb is the DuckDB/MotherDuck driver (spec.md §4.4), built on
// github.com/marcboeker/go-duckdb/v2 — the same embedded-engine dependency
// duckdb_client.go wraps for the core's own query surface. A MotherDuck
// source is the same driver attached through an "md:" DSN rather than a
// separate client, mirroring duckdb_client.go's InitializeDucklake treating
// a remote catalog attach as a connection-string variation, not a new
// dependency.
package duckdb

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/marcboeker/go-duckdb/v2"

	"github.com/hotdata-dev/rivetdb/internal/catalog"
	"github.com/hotdata-dev/rivetdb/internal/driver/types"
	"github.com/hotdata-dev/rivetdb/internal/rerr"
)

type driver struct{}

func New() types.Driver { return driver{} }

func (driver) connect(ctx context.Context, rs types.ResolvedSource) (*sql.DB, error) {
	db, err := sql.Open("duckdb", "")
	if err != nil {
		return nil, rerr.NewDriverError("connection", err.Error())
	}

	attach, alias, err := attachQuery(rs)
	if err != nil {
		db.Close()
		return nil, err
	}
	if attach != "" {
		if _, err := db.ExecContext(ctx, attach); err != nil {
			db.Close()
			return nil, rerr.NewDriverError("connection", err.Error())
		}
		if _, err := db.ExecContext(ctx, fmt.Sprintf("USE %s", alias)); err != nil {
			db.Close()
			return nil, rerr.NewDriverError("connection", err.Error())
		}
	}
	return db, nil
}

// attachQuery returns the ATTACH statement (and resulting alias) needed to
// reach rs's database. Only DuckDB and MotherDuck sources are handled;
// any other source kind returns a DriverError.
func attachQuery(rs types.ResolvedSource) (attach, alias string, err error) {
	s := rs.Source
	switch s.Kind {
	case catalog.SourceMotherDuck:
		if s.MotherDuckDatabase == "" {
			return "", "", rerr.NewDriverError("connection", "motherduck source missing database name")
		}
		if rs.Credential == "" {
			return "", "", rerr.NewDriverError("connection", "motherduck source missing token secret")
		}
		dsn := fmt.Sprintf("md:%s?motherduck_token=%s", s.MotherDuckDatabase, rs.Credential)
		return fmt.Sprintf("ATTACH %s AS rivet_source", quoteLiteral(dsn)), "rivet_source", nil
	case catalog.SourceDuckDB:
		if s.Path == "" {
			return "", "", rerr.NewDriverError("connection", "duckdb source missing path")
		}
		return fmt.Sprintf("ATTACH %s AS rivet_source (READ_ONLY)", quoteLiteral(s.Path)), "rivet_source", nil
	default:
		return "", "", rerr.NewDriverError("connection", fmt.Sprintf("unsupported duckdb source kind %q", s.Kind))
	}
}

func quoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

func (d driver) Discover(ctx context.Context, rs types.ResolvedSource) ([]catalog.TableMeta, error) {
	db, err := d.connect(ctx, rs)
	if err != nil {
		return nil, err
	}
	defer db.Close()

	rows, err := db.QueryContext(ctx, `
		SELECT table_schema, table_name, ordinal_position, column_name, data_type, is_nullable
		FROM information_schema.columns
		WHERE table_schema NOT IN ('information_schema', 'pg_catalog')
		ORDER BY table_schema, table_name, ordinal_position
	`)
	if err != nil {
		return nil, rerr.NewDriverError("query", err.Error())
	}
	defer rows.Close()

	byTable := map[[2]string]*catalog.TableMeta{}
	var order [][2]string
	for rows.Next() {
		var schema, table, colName, dataType, isNullable string
		var ordinal int
		if err := rows.Scan(&schema, &table, &ordinal, &colName, &dataType, &isNullable); err != nil {
			return nil, rerr.NewDriverError("query", err.Error())
		}
		key := [2]string{schema, table}
		meta, ok := byTable[key]
		if !ok {
			meta = &catalog.TableMeta{SchemaName: schema, TableName: table}
			byTable[key] = meta
			order = append(order, key)
		}
		meta.Columns = append(meta.Columns, catalog.ColumnMeta{
			Name:     colName,
			DataType: portableType(dataType),
			Nullable: isNullable == "YES",
		})
	}
	if err := rows.Err(); err != nil {
		return nil, rerr.NewDriverError("query", err.Error())
	}

	out := make([]catalog.TableMeta, 0, len(order))
	for _, key := range order {
		out = append(out, *byTable[key])
	}
	return out, nil
}

func (d driver) FetchTable(ctx context.Context, rs types.ResolvedSource, catalogName *string, schema, table string, sink types.RowSink) error {
	db, err := d.connect(ctx, rs)
	if err != nil {
		return err
	}
	defer db.Close()

	query := fmt.Sprintf(`SELECT * FROM %s.%s`, duckIdent(schema), duckIdent(table))
	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return rerr.NewDriverError("query", err.Error())
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return rerr.NewDriverError("query", err.Error())
	}

	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return rerr.NewDriverError("query", err.Error())
		}
		row := make(map[string]any, len(cols))
		for i, c := range cols {
			row[c] = values[i]
		}
		if err := sink.Write(row); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return rerr.NewDriverError("query", err.Error())
	}
	return nil
}

func duckIdent(s string) string { return `"` + s + `"` }

func portableType(duckType string) string {
	switch duckType {
	case "BIGINT", "INTEGER", "SMALLINT", "TINYINT", "HUGEINT":
		return "int64"
	case "DOUBLE", "FLOAT", "DECIMAL":
		return "float64"
	case "BOOLEAN":
		return "bool"
	case "TIMESTAMP", "TIMESTAMP WITH TIME ZONE", "DATE":
		return "timestamp"
	case "BLOB":
		return "bytes"
	default:
		return "string"
	}
}
