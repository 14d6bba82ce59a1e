// Package secret implements the Secret Store (spec.md §3/§4.8): name-keyed
// encrypted byte blobs, sealed with AES-256-GCM-SIV under a single master
// key loaded from RIVETDB_SECRET_KEY. Values never appear in logs, catalog
// rows, or error messages — only the blob crosses the Catalog Store.
package secret

import (
	"crypto/rand"
	"fmt"
	"io"
	"regexp"
	"strings"
	"time"

	"github.com/hotdata-dev/rivetdb/internal/config"
	"github.com/hotdata-dev/rivetdb/internal/rerr"
)

const (
	magic      = "RVS1"
	scheme     = byte(0x01) // AES-256-GCM-SIV
	keyVersion = byte(0x01)
)

var nameRE = regexp.MustCompile(`^[a-z0-9_-]{1,128}$`)

// normalizeName lowercases a secret name the same way on every path (put,
// get, delete, AAD construction) so a name typed in mixed case can never
// desync encryption from lookup.
func normalizeName(name string) (string, error) {
	n := strings.ToLower(strings.TrimSpace(name))
	if !nameRE.MatchString(n) {
		return "", fmt.Errorf("secret name %q: %w", name, rerr.ErrInvalidName)
	}
	return n, nil
}

// Metadata is what List returns: everything about a secret except its
// value.
type Metadata struct {
	Name      string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Row is the encrypted-at-rest representation a Catalog Store backend
// persists — opaque outside this package.
type Row struct {
	Name      string
	Blob      []byte
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Catalog is the subset of the Catalog Store the Secret Store needs. The
// concrete implementation lives in internal/catalog, which imports this
// package, so the interface is declared here to avoid an import cycle.
type Catalog interface {
	PutSecret(name string, blob []byte) error
	GetSecret(name string) (*Row, error)
	DeleteSecret(name string) error
	ListSecrets() ([]Row, error)
}

// Store is the Secret Store: encryption/decryption plus name validation
// layered over a Catalog backend.
type Store struct {
	catalog Catalog
	key     []byte // 32 bytes, nil if not configured
}

func New(catalog Catalog, cfg *config.Config) *Store {
	return &Store{catalog: catalog, key: cfg.SecretKey}
}

func (s *Store) requireKey() error {
	if len(s.key) == 0 {
		return rerr.ErrNotConfigured
	}
	return nil
}

// Put encrypts value under name and persists it, overwriting any existing
// secret of the same name.
func (s *Store) Put(name string, value []byte) error {
	if err := s.requireKey(); err != nil {
		return err
	}
	n, err := normalizeName(name)
	if err != nil {
		return err
	}

	var nonce [nonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return fmt.Errorf("generating nonce: %w", err)
	}
	sealed, err := Seal(s.key, nonce, value, []byte(n))
	if err != nil {
		return fmt.Errorf("sealing secret %q: %w", n, err)
	}

	blob := make([]byte, 0, 4+1+1+nonceSize+len(sealed))
	blob = append(blob, magic...)
	blob = append(blob, scheme, keyVersion)
	blob = append(blob, nonce[:]...)
	blob = append(blob, sealed...)

	if err := s.catalog.PutSecret(n, blob); err != nil {
		return fmt.Errorf("%w: %v", rerr.ErrCatalog, err)
	}
	return nil
}

// PutString is a UTF-8 convenience wrapper over Put.
func (s *Store) PutString(name, value string) error {
	return s.Put(name, []byte(value))
}

// Get decrypts and returns the secret's raw bytes.
func (s *Store) Get(name string) ([]byte, error) {
	if err := s.requireKey(); err != nil {
		return nil, err
	}
	n, err := normalizeName(name)
	if err != nil {
		return nil, err
	}

	row, err := s.catalog.GetSecret(n)
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, fmt.Errorf("secret %q: %w", n, rerr.ErrNotFound)
	}

	value, err := decodeBlob(s.key, n, row.Blob)
	if err != nil {
		return nil, err
	}
	return value, nil
}

// GetString decrypts and returns the secret as a UTF-8 string.
func (s *Store) GetString(name string) (string, error) {
	v, err := s.Get(name)
	if err != nil {
		return "", err
	}
	return string(v), nil
}

func decodeBlob(key []byte, name string, blob []byte) ([]byte, error) {
	const headerSize = 4 + 1 + 1 + nonceSize
	if len(blob) < headerSize+tagSize {
		return nil, fmt.Errorf("secret %q: truncated blob: %w", name, rerr.ErrAuthenticationFailed)
	}
	if string(blob[0:4]) != magic {
		return nil, fmt.Errorf("secret %q: bad magic: %w", name, rerr.ErrAuthenticationFailed)
	}
	if blob[4] != scheme {
		return nil, fmt.Errorf("secret %q: unknown scheme %d: %w", name, blob[4], rerr.ErrAuthenticationFailed)
	}
	if blob[5] != keyVersion {
		return nil, fmt.Errorf("secret %q: unknown key version %d: %w", name, blob[5], rerr.ErrAuthenticationFailed)
	}

	var nonce [nonceSize]byte
	copy(nonce[:], blob[6:6+nonceSize])
	sealed := blob[headerSize:]

	value, err := Open(key, nonce, sealed, []byte(name))
	if err != nil {
		return nil, fmt.Errorf("secret %q: %w", name, rerr.ErrAuthenticationFailed)
	}
	return value, nil
}

// Delete removes a secret. It is not an error to delete an absent secret,
// matching the Catalog Store's idempotent-delete convention.
func (s *Store) Delete(name string) error {
	n, err := normalizeName(name)
	if err != nil {
		return err
	}
	if err := s.catalog.DeleteSecret(n); err != nil {
		return fmt.Errorf("%w: %v", rerr.ErrCatalog, err)
	}
	return nil
}

// List returns metadata (never values) for every stored secret.
func (s *Store) List() ([]Metadata, error) {
	rows, err := s.catalog.ListSecrets()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", rerr.ErrCatalog, err)
	}
	out := make([]Metadata, len(rows))
	for i, r := range rows {
		out[i] = Metadata{Name: r.Name, CreatedAt: r.CreatedAt, UpdatedAt: r.UpdatedAt}
	}
	return out, nil
}
