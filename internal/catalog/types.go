// Package catalog implements the Catalog Store (spec.md §4.1/§6): durable,
// transactional metadata for connections, tables, columns, and secrets,
// behind one Store interface with sqlite:// and postgres:// backends —
// mirroring config.go's catalog-database-url flag and the teacher's own
// split between an embedded SQLite cache (catalog_cache_sqlite.go) and a
// networked Postgres catalog (iceberg_catalog.go's PostgresClient).
package catalog

import "time"

// SourceKind tags a Connection's remote-source variant.
type SourceKind string

const (
	SourcePostgres   SourceKind = "postgres"
	SourceSnowflake  SourceKind = "snowflake"
	SourceMotherDuck SourceKind = "motherduck"
	SourceDuckDB     SourceKind = "duckdb"
	SourceIceberg    SourceKind = "iceberg"
)

// Source is the tagged variant persisted as connections.source_json (spec.md
// §3's "Connection.source", stored as JSON the way iceberg_catalog.go
// persists flexible metadata as JSON columns). Only the fields relevant to
// Kind are meaningful; the orchestrator and drivers interpret it opaquely
// per spec.md §9's "opaque driver capability set" note.
type Source struct {
	Kind SourceKind `json:"kind"`

	// Network/DSN style sources (Postgres, Snowflake, DuckDB/MotherDuck).
	Host     string `json:"host,omitempty"`
	Port     int    `json:"port,omitempty"`
	Database string `json:"database,omitempty"`
	Username string `json:"username,omitempty"`

	// Snowflake-specific.
	Account   string `json:"account,omitempty"`
	Warehouse string `json:"warehouse,omitempty"`

	// MotherDuck-specific: the attach string's catalog-name component.
	MotherDuckDatabase string `json:"motherduck_database,omitempty"`

	// DuckDB (local/attached file) and Iceberg.
	Path         string `json:"path,omitempty"`
	CatalogURI   string `json:"catalog_uri,omitempty"` // Iceberg REST/Hadoop catalog location
	WarehousePath string `json:"warehouse_path,omitempty"`

	// FetchTimeoutSeconds overrides the global default fetch timeout for
	// this connection (spec.md §9 supplemented feature).
	FetchTimeoutSeconds int `json:"fetch_timeout_seconds,omitempty"`

	// SecretRef names a Secret Store entry holding this source's
	// credential. Resolved to plaintext only inside the orchestrator's
	// pipeline (spec.md §4.4/§9 "lifetime of plaintext credentials").
	SecretRef string `json:"secret_ref,omitempty"`
}

// Connection is a named handle to a remote source (spec.md §3).
type Connection struct {
	ID        int64
	Name      string
	Source    Source
	CreatedAt time.Time
}

// Table is a logical table inside a connection (spec.md §3).
type Table struct {
	ID           int64
	ConnectionID int64
	CatalogName  *string
	SchemaName   string
	TableName    string
	ArtifactURL  *string
	LastSyncAt   *time.Time
	RowCount     *int64
}

// Column belongs to exactly one Table, written atomically with it during
// discovery (spec.md §3).
type Column struct {
	TableID  int64
	Ordinal  int
	Name     string
	DataType string
	Nullable bool
}

// TableMeta/ColumnMeta are what a driver's discover() returns — the input
// side of upsert_tables, before catalog IDs are assigned.
type ColumnMeta struct {
	Name     string
	DataType string
	Nullable bool
}

type TableMeta struct {
	CatalogName *string
	SchemaName  string
	TableName   string
	Columns     []ColumnMeta
}

// TableIdentity names a table independent of its catalog row, for diffing.
type TableIdentity struct {
	CatalogName string // "" when the source has no catalog concept
	SchemaName  string
	TableName   string
}

// DiscoveryDiff reports what changed between the incoming discovery result
// and the catalog's existing rows for a connection (spec.md §4.1).
type DiscoveryDiff struct {
	Added         []TableIdentity
	Removed       []TableIdentity
	SchemaChanged []TableIdentity
}

// JobState is a RefreshJob's lifecycle state (spec.md §3's tagged Status).
type JobState string

const (
	JobPending    JobState = "pending"
	JobInProgress JobState = "in_progress"
	JobCompleted  JobState = "completed"
	JobFailed     JobState = "failed"
)

// RefreshJob is an in-memory-only record (never persisted across restarts,
// per spec.md §3) tracking an asynchronous refresh.
type RefreshJob struct {
	RefreshID    string
	ConnectionID int64
	TableID      *int64 // nil ⇒ connection-wide refresh
	State        JobState
	Completed    int
	Total        int
	Result       *RefreshConnectionResult
	ErrorMessage string
	StartedAt    time.Time
	CompletedAt  *time.Time
}

// RefreshConnectionResult is the partial-failure-tolerant outcome of a
// connection-wide refresh (spec.md §4.7/§8 S7).
type RefreshConnectionResult struct {
	TablesRefreshed int
	TablesFailed    int
	Errors          []TableError
}

type TableError struct {
	TableID int64
	Message string
}
