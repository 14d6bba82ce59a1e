package catalog

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"sort"
	"strconv"
	"strings"
)

//go:embed migrations/sqlite/*.sql migrations/postgres/*.sql
var migrationFS embed.FS

// applyMigrations runs the numbered .sql files under
// migrations/<dialect>/ in order, tracked in a schema_migrations table —
// the "tiny embedded applier" spec.md §6 calls for, not a generic
// migration framework (that's the explicitly out-of-scope migration
// runner). ph formats the Nth bind placeholder for the target dialect.
func applyMigrations(ctx context.Context, db *sql.DB, dialect string, ph func(n int) string) error {
	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (version INTEGER PRIMARY KEY, applied_at TEXT)`); err != nil {
		return fmt.Errorf("creating schema_migrations: %w", err)
	}

	applied := map[int]bool{}
	rows, err := db.QueryContext(ctx, `SELECT version FROM schema_migrations`)
	if err != nil {
		return fmt.Errorf("reading schema_migrations: %w", err)
	}
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			rows.Close()
			return err
		}
		applied[v] = true
	}
	rows.Close()

	entries, err := fs.ReadDir(migrationFS, "migrations/"+dialect)
	if err != nil {
		return fmt.Errorf("listing migrations for %s: %w", dialect, err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	for _, e := range entries {
		version, err := migrationVersion(e.Name())
		if err != nil {
			return err
		}
		if applied[version] {
			continue
		}

		sqlBytes, err := migrationFS.ReadFile("migrations/" + dialect + "/" + e.Name())
		if err != nil {
			return err
		}

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, string(sqlBytes)); err != nil {
			tx.Rollback()
			return fmt.Errorf("applying migration %s: %w", e.Name(), err)
		}
		insert := fmt.Sprintf(`INSERT INTO schema_migrations (version, applied_at) VALUES (%s, %s)`, ph(1), ph(2))
		if _, err := tx.ExecContext(ctx, insert, version, timeNowUTC().Format(rfc3339Milli)); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %s: %w", e.Name(), err)
		}
		if err := tx.Commit(); err != nil {
			return err
		}
	}
	return nil
}

func migrationVersion(filename string) (int, error) {
	base := strings.SplitN(filename, "_", 2)[0]
	v, err := strconv.Atoi(base)
	if err != nil {
		return 0, fmt.Errorf("migration file %q does not start with a numeric version: %w", filename, err)
	}
	return v, nil
}
