package blob

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// LocalStore is the plain-filesystem Blob Store backend: file://
// artifacts rooted under a configured directory. Mirrors the teacher's
// reliance on plain os/io for everything that isn't talking to S3 or
// DuckDB — no dedicated local-object-store library exists in the pack.
type LocalStore struct {
	root string
}

func newLocalStore(root string) (Store, error) {
	if root == "" {
		root = "./blob-store"
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Join(abs, ".staging"), 0o755); err != nil {
		return nil, fmt.Errorf("creating blob root %q: %w", abs, err)
	}
	return &LocalStore{root: abs}, nil
}

func (l *LocalStore) stagingPath() string {
	return filepath.Join(l.root, ".staging", uuid.NewString()+".parquet")
}

func (l *LocalStore) PrepareWrite(ctx context.Context, connectionID int64, schema, table string) (Handle, error) {
	return Handle{
		LocalPath: l.stagingPath(),
		finalURL:  "file://" + filepath.Join(l.root, artifactPath(connectionID, schema, table, false)),
	}, nil
}

func (l *LocalStore) PrepareVersionedWrite(ctx context.Context, connectionID int64, schema, table string) (Handle, error) {
	return Handle{
		LocalPath: l.stagingPath(),
		finalURL:  "file://" + filepath.Join(l.root, artifactPath(connectionID, schema, table, true)),
	}, nil
}

// Finalize moves the staged file into place. A rename is atomic within the
// same filesystem, so readers never observe a partially written artifact
// at the final path.
func (l *LocalStore) Finalize(ctx context.Context, h Handle) (string, error) {
	finalPath := strings.TrimPrefix(h.finalURL, "file://")
	if err := os.MkdirAll(filepath.Dir(finalPath), 0o755); err != nil {
		return "", fmt.Errorf("creating artifact directory: %w", err)
	}
	if err := os.Rename(h.LocalPath, finalPath); err != nil {
		return "", fmt.Errorf("finalizing artifact: %w", err)
	}
	return h.finalURL, nil
}

func (l *LocalStore) Delete(ctx context.Context, url string) error {
	path := strings.TrimPrefix(url, "file://")
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("deleting artifact %q: %w", url, err)
	}
	return nil
}

func (l *LocalStore) DeletePrefix(ctx context.Context, prefix string) error {
	dir := filepath.Join(l.root, prefix)
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("deleting prefix %q: %w", prefix, err)
	}
	return nil
}

func (l *LocalStore) ListPrefix(ctx context.Context, prefix string) ([]string, error) {
	dir := filepath.Join(l.root, prefix)
	var urls []string
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if info.IsDir() {
			return nil
		}
		urls = append(urls, "file://"+path)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing prefix %q: %w", prefix, err)
	}
	return urls, nil
}
