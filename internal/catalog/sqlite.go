package catalog

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// openSQLite opens the embedded file-based catalog backend, matching
// catalog_cache_sqlite.go's sql.Open("sqlite3", ...) + database/sql usage
// (there it's an in-memory cache of Postgres catalog tables; here it is the
// catalog of record, so it's opened against a real file path rather than
// ":memory:" unless the URL explicitly asks for one).
func openSQLite(ctx context.Context, path string) (Store, error) {
	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("opening sqlite catalog at %q: %w", path, err)
	}
	db.SetMaxOpenConns(1) // go-sqlite3 serializes writers; avoid SQLITE_BUSY under concurrent callers

	if err := applyMigrations(ctx, db, "sqlite", questionPlaceholder); err != nil {
		db.Close()
		return nil, err
	}
	return &sqlStore{db: db, ph: questionPlaceholder}, nil
}

func questionPlaceholder(int) string { return "?" }
