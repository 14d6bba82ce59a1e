package catalog

import (
	"context"
	"net/url"
	"strings"

	"github.com/hotdata-dev/rivetdb/internal/config"
	"github.com/hotdata-dev/rivetdb/internal/secret"
)

// Store is the Catalog Store's full operation set (spec.md §4.1), plus the
// secret-row operations secret.Catalog requires — one backend satisfies
// both, the way the teacher keeps catalog metadata and secret-adjacent
// config in the same store rather than splitting it across services.
type Store interface {
	secret.Catalog

	CreateConnection(ctx context.Context, name string, source Source) (int64, error)
	GetConnection(ctx context.Context, name string) (*Connection, error)
	GetConnectionByID(ctx context.Context, id int64) (*Connection, error)
	ListConnections(ctx context.Context) ([]Connection, error)
	DeleteConnection(ctx context.Context, name string) (tablesRemoved []Table, err error)

	UpsertTables(ctx context.Context, connectionID int64, tables []TableMeta) (DiscoveryDiff, error)
	GetTable(ctx context.Context, connectionID int64, catalogName *string, schema, table string) (*Table, error)
	GetTableByID(ctx context.Context, tableID int64) (*Table, error)
	ListTables(ctx context.Context, connectionID int64) ([]Table, error)
	ListTableColumns(ctx context.Context, tableID int64) ([]Column, error)
	UpdateTableArtifact(ctx context.Context, tableID int64, newURL string, rowCount int64) (oldURL *string, err error)
	ClearTableArtifact(ctx context.Context, tableID int64) error

	Close() error
}

// Open dials the backend named by cfg.CatalogURL's scheme ("sqlite://" or
// "postgres://"/"postgresql://"), mirroring config.go's catalog-database-url
// flag dispatch.
func Open(ctx context.Context, cfg *config.Config) (Store, error) {
	if cfg.CatalogURL == "" {
		return nil, errMissingCatalogURL
	}
	u, err := url.Parse(cfg.CatalogURL)
	if err != nil {
		return nil, err
	}
	switch strings.ToLower(u.Scheme) {
	case "sqlite":
		return openSQLite(ctx, sqlitePathFromURL(u))
	case "postgres", "postgresql":
		return openPostgres(ctx, cfg.CatalogURL)
	default:
		return nil, errUnknownCatalogScheme(u.Scheme)
	}
}

func sqlitePathFromURL(u *url.URL) string {
	// sqlite:///absolute/path.db -> u.Path = "/absolute/path.db"
	// sqlite://relative/path.db  -> u.Host = "relative", u.Path = "/path.db"
	// sqlite://:memory:          -> u.Host = ":memory:"
	if u.Host == ":memory:" {
		return ":memory:"
	}
	if u.Path != "" {
		return u.Host + u.Path
	}
	return u.Host
}
