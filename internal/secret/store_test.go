package secret

import (
	"errors"
	"testing"
	"time"

	"github.com/hotdata-dev/rivetdb/internal/config"
	"github.com/hotdata-dev/rivetdb/internal/rerr"
)

type fakeCatalog struct {
	rows map[string]Row
}

func newFakeCatalog() *fakeCatalog {
	return &fakeCatalog{rows: map[string]Row{}}
}

func (f *fakeCatalog) PutSecret(name string, blob []byte) error {
	now := time.Unix(0, 0).UTC()
	row, ok := f.rows[name]
	createdAt := now
	if ok {
		createdAt = row.CreatedAt
	}
	f.rows[name] = Row{Name: name, Blob: blob, CreatedAt: createdAt, UpdatedAt: now}
	return nil
}

func (f *fakeCatalog) GetSecret(name string) (*Row, error) {
	row, ok := f.rows[name]
	if !ok {
		return nil, nil
	}
	return &row, nil
}

func (f *fakeCatalog) DeleteSecret(name string) error {
	delete(f.rows, name)
	return nil
}

func (f *fakeCatalog) ListSecrets() ([]Row, error) {
	out := make([]Row, 0, len(f.rows))
	for _, r := range f.rows {
		out = append(out, r)
	}
	return out, nil
}

func testConfig(withKey bool) *config.Config {
	cfg := &config.Config{LogLevel: "INFO"}
	if withKey {
		cfg.SecretKey = make([]byte, 32)
		for i := range cfg.SecretKey {
			cfg.SecretKey[i] = byte(i)
		}
	}
	return cfg
}

func TestStorePutGetRoundTrip(t *testing.T) {
	store := New(newFakeCatalog(), testConfig(true))

	if err := store.PutString("api-key", "sk-12345"); err != nil {
		t.Fatal(err)
	}
	got, err := store.GetString("API-KEY")
	if err != nil {
		t.Fatal(err)
	}
	if got != "sk-12345" {
		t.Fatalf("got %q, want sk-12345", got)
	}
}

func TestStoreRequiresConfiguredKey(t *testing.T) {
	store := New(newFakeCatalog(), testConfig(false))
	if err := store.PutString("x", "y"); !errors.Is(err, rerr.ErrNotConfigured) {
		t.Fatalf("Put without key: got %v, want ErrNotConfigured", err)
	}
	if _, err := store.Get("x"); !errors.Is(err, rerr.ErrNotConfigured) {
		t.Fatalf("Get without key: got %v, want ErrNotConfigured", err)
	}
}

func TestStoreRejectsInvalidNames(t *testing.T) {
	store := New(newFakeCatalog(), testConfig(true))
	for _, name := range []string{"", "Has Spaces", "slash/es", "ünïcode"} {
		if err := store.PutString(name, "v"); !errors.Is(err, rerr.ErrInvalidName) {
			t.Fatalf("name %q: got %v, want ErrInvalidName", name, err)
		}
	}
}

func TestStoreGetMissingReturnsNotFound(t *testing.T) {
	store := New(newFakeCatalog(), testConfig(true))
	if _, err := store.Get("nope"); !errors.Is(err, rerr.ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
}

func TestStoreDeleteThenGetNotFound(t *testing.T) {
	store := New(newFakeCatalog(), testConfig(true))
	if err := store.PutString("temp", "v"); err != nil {
		t.Fatal(err)
	}
	if err := store.Delete("temp"); err != nil {
		t.Fatal(err)
	}
	if _, err := store.Get("temp"); !errors.Is(err, rerr.ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
}

func TestStoreDeleteAbsentIsNotAnError(t *testing.T) {
	store := New(newFakeCatalog(), testConfig(true))
	if err := store.Delete("never-existed"); err != nil {
		t.Fatalf("expected idempotent delete, got %v", err)
	}
}

func TestStoreListOmitsValues(t *testing.T) {
	store := New(newFakeCatalog(), testConfig(true))
	if err := store.PutString("a", "1"); err != nil {
		t.Fatal(err)
	}
	if err := store.PutString("b", "2"); err != nil {
		t.Fatal(err)
	}
	list, err := store.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 2 {
		t.Fatalf("got %d entries, want 2", len(list))
	}
}

func TestDecodeBlobRejectsCorruptHeader(t *testing.T) {
	store := New(newFakeCatalog(), testConfig(true))
	cat := store.catalog.(*fakeCatalog)
	cat.rows["broken"] = Row{Name: "broken", Blob: []byte("not a valid blob at all")}
	if _, err := store.Get("broken"); !errors.Is(err, rerr.ErrAuthenticationFailed) {
		t.Fatalf("got %v, want ErrAuthenticationFailed", err)
	}
}
