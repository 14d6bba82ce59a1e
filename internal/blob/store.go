// Package blob implements the Blob Store (spec.md §4.2): a location
// addressed store for columnar artifacts, behind one Store interface with
// a local-filesystem backend and an S3 backend, hiding the URL scheme from
// everything above it.
package blob

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/hotdata-dev/rivetdb/internal/config"
)

// Handle is a staging location a Streaming Writer writes into before
// Finalize publishes it under its final URL.
type Handle struct {
	// LocalPath is where the writer stages bytes, for both backends —
	// the S3 backend uploads from this path on Finalize (spec.md §4.2).
	LocalPath string

	// finalURL is the URL the artifact will have after Finalize.
	finalURL string
}

func (h Handle) FinalURL() string { return h.finalURL }

// Store is the Blob Store's operation set.
type Store interface {
	PrepareWrite(ctx context.Context, connectionID int64, schema, table string) (Handle, error)
	PrepareVersionedWrite(ctx context.Context, connectionID int64, schema, table string) (Handle, error)
	Finalize(ctx context.Context, h Handle) (url string, err error)
	Delete(ctx context.Context, url string) error
	DeletePrefix(ctx context.Context, prefix string) error

	// ListPrefix enumerates artifact URLs under a connection's namespace,
	// used by the orphan sweep (spec.md §9).
	ListPrefix(ctx context.Context, prefix string) ([]string, error)
}

// Open selects a backend by cfg.BlobRoot / cfg.Aws: an S3 bucket configured
// means s3://, otherwise artifacts live under BlobRoot as file://.
func Open(cfg *config.Config) (Store, error) {
	if cfg.Aws.S3Bucket != "" {
		return newS3Store(cfg)
	}
	return newLocalStore(cfg.BlobRoot)
}

// artifactPath builds the path component shared by both backends:
// <connection_id>/<schema>/<table>/data[_<version>].<ext> (spec.md §3).
func artifactPath(connectionID int64, schema, table string, versioned bool) string {
	base := fmt.Sprintf("%d/%s/%s/data", connectionID, schema, table)
	if versioned {
		base += "_" + shortToken()
	}
	return base + ".parquet"
}

// shortToken is the 8-char random version token spec.md §3 specifies for
// new writes, built from github.com/google/uuid (already a teacher
// dependency) rather than a hand-rolled RNG.
func shortToken() string {
	id := uuid.New().String()
	return strings.ReplaceAll(id, "-", "")[:8]
}

func connectionPrefix(connectionID int64) string {
	return fmt.Sprintf("%d/", connectionID)
}

// ConnectionPrefix is exported for the orphan sweep and delete_prefix
// callers that only know the connection id.
func ConnectionPrefix(connectionID int64) string { return connectionPrefix(connectionID) }
