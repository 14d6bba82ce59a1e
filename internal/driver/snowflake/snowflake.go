// Package snowflake is the Snowflake driver (spec.md §4.4), built on
// github.com/snowflakedb/gosnowflake — the real driver the pack's own
// Snowflake connector (flow-connectors-snowflake/snowflake.go) uses via
// gosnowflake.DSN + database/sql, not present in the teacher's own go.mod
// but added here because the spec requires a Snowflake source and nothing
// in the teacher's own stack covers it.
package snowflake

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/snowflakedb/gosnowflake"

	"github.com/hotdata-dev/rivetdb/internal/catalog"
	"github.com/hotdata-dev/rivetdb/internal/driver/types"
	"github.com/hotdata-dev/rivetdb/internal/rerr"
)

type driver struct{}

func New() types.Driver { return driver{} }

func (driver) connect(rs types.ResolvedSource) (*sql.DB, error) {
	s := rs.Source
	cfg := &gosnowflake.Config{
		Account:   s.Account,
		User:      s.Username,
		Password:  rs.Credential,
		Database:  s.Database,
		Warehouse: s.Warehouse,
	}
	dsn, err := gosnowflake.DSN(cfg)
	if err != nil {
		return nil, rerr.NewDriverError("connection", err.Error())
	}
	db, err := sql.Open("snowflake", dsn)
	if err != nil {
		return nil, rerr.NewDriverError("connection", err.Error())
	}
	return db, nil
}

func (d driver) Discover(ctx context.Context, rs types.ResolvedSource) ([]catalog.TableMeta, error) {
	db, err := d.connect(rs)
	if err != nil {
		return nil, err
	}
	defer db.Close()

	rows, err := db.QueryContext(ctx, `
		SELECT TABLE_SCHEMA, TABLE_NAME, ORDINAL_POSITION, COLUMN_NAME, DATA_TYPE, IS_NULLABLE
		FROM INFORMATION_SCHEMA.COLUMNS
		WHERE TABLE_SCHEMA NOT IN ('INFORMATION_SCHEMA')
		ORDER BY TABLE_SCHEMA, TABLE_NAME, ORDINAL_POSITION
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
			catalogName := rs.Source.Database
			meta = &catalog.TableMeta{CatalogName: &catalogName, SchemaName: schema, TableName: table}
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
	db, err := d.connect(rs)
	if err != nil {
		return err
	}
	defer db.Close()

	query := fmt.Sprintf(`SELECT * FROM %q.%q`, schema, table)
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

func portableType(snowflakeType string) string {
	switch snowflakeType {
	case "NUMBER", "INTEGER", "BIGINT", "SMALLINT":
		return "int64"
	case "FLOAT", "DOUBLE", "REAL":
		return "float64"
	case "BOOLEAN":
		return "bool"
	case "TIMESTAMP_NTZ", "TIMESTAMP_TZ", "TIMESTAMP_LTZ", "DATE":
		return "timestamp"
	case "BINARY", "VARBINARY":
		return "bytes"
	default:
		return "string"
	}
}
