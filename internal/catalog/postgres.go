package catalog

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// openPostgres opens the networked catalog backend over jackc/pgx/v5's
// database/sql driver ("pgx"), the same library iceberg_catalog.go's
// PostgresClient wraps, registered here through the stdlib-compatible
// driver so it shares sqlStore's query logic with the SQLite backend.
func openPostgres(ctx context.Context, dsn string) (Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening postgres catalog: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("connecting to postgres catalog: %w", err)
	}

	if err := applyMigrations(ctx, db, "postgres", dollarPlaceholder); err != nil {
		db.Close()
		return nil, err
	}
	return &sqlStore{db: db, ph: dollarPlaceholder}, nil
}

func dollarPlaceholder(n int) string { return fmt.Sprintf("$%d", n) }
