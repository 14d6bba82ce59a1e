// Package postgres is the Postgres driver (spec.md §4.4): discovery via
// information_schema.columns, fetch via a streaming pgx.Rows iteration —
// the same github.com/jackc/pgx/v5 dependency iceberg_catalog.go's
// PostgresClient wraps, and the same remote kind
// syncer_full_refresh.go's copyFromPgTable streams from, here read through
// pgx's row iterator instead of a COPY-to-CSV pipe so rows arrive already
// typed.
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/hotdata-dev/rivetdb/internal/catalog"
	"github.com/hotdata-dev/rivetdb/internal/driver/types"
	"github.com/hotdata-dev/rivetdb/internal/rerr"
)

type driver struct{}

func New() types.Driver { return driver{} }

func (driver) connect(ctx context.Context, rs types.ResolvedSource) (*pgx.Conn, error) {
	dsn := dsnFor(rs)
	conn, err := pgx.Connect(ctx, dsn)
	if err != nil {
		return nil, rerr.NewDriverError("connection", err.Error())
	}
	return conn, nil
}

func dsnFor(rs types.ResolvedSource) string {
	s := rs.Source
	userinfo := s.Username
	if rs.Credential != "" {
		userinfo += ":" + rs.Credential
	}
	return fmt.Sprintf("postgres://%s@%s:%d/%s", userinfo, s.Host, s.Port, s.Database)
}

func (d driver) Discover(ctx context.Context, rs types.ResolvedSource) ([]catalog.TableMeta, error) {
	conn, err := d.connect(ctx, rs)
	if err != nil {
		return nil, err
	}
	defer conn.Close(ctx)

	rows, err := conn.Query(ctx, `
		SELECT table_schema, table_name, ordinal_position, column_name, data_type, is_nullable
		FROM information_schema.columns
		WHERE table_schema NOT IN ('pg_catalog', 'information_schema')
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
	conn, err := d.connect(ctx, rs)
	if err != nil {
		return err
	}
	defer conn.Close(ctx)

	query := fmt.Sprintf(`SELECT * FROM %s.%s`, pgIdent(schema), pgIdent(table))
	rows, err := conn.Query(ctx, query)
	if err != nil {
		return rerr.NewDriverError("query", err.Error())
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return rerr.NewDriverError("query", err.Error())
		}
		row := make(map[string]any, len(fields))
		for i, f := range fields {
			row[string(f.Name)] = values[i]
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

func pgIdent(s string) string { return `"` + s + `"` }

// portableType maps a Postgres information_schema.columns.data_type value
// to the columnar type tags internal/writer understands. Unrecognized
// native types fall back to "string" rather than failing discovery.
func portableType(pgType string) string {
	switch pgType {
	case "integer", "bigint", "smallint":
		return "int64"
	case "double precision", "real", "numeric", "decimal":
		return "float64"
	case "boolean":
		return "bool"
	case "timestamp without time zone", "timestamp with time zone", "date":
		return "timestamp"
	case "bytea":
		return "bytes"
	default:
		return "string"
	}
}
