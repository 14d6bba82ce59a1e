package duckdb

import (
	"testing"

	"github.com/hotdata-dev/rivetdb/internal/catalog"
	"github.com/hotdata-dev/rivetdb/internal/driver/types"
)

func TestAttachQueryForDuckDBSource(t *testing.T) {
	rs := types.ResolvedSource{Source: catalog.Source{Kind: catalog.SourceDuckDB, Path: "/data/warehouse.duckdb"}}
	attach, alias, err := attachQuery(rs)
	if err != nil {
		t.Fatal(err)
	}
	if alias != "rivet_source" {
		t.Fatalf("alias = %q", alias)
	}
	want := `ATTACH '/data/warehouse.duckdb' AS rivet_source (READ_ONLY)`
	if attach != want {
		t.Fatalf("attach = %q, want %q", attach, want)
	}
}

func TestAttachQueryForMotherDuckSource(t *testing.T) {
	rs := types.ResolvedSource{
		Source:     catalog.Source{Kind: catalog.SourceMotherDuck, MotherDuckDatabase: "analytics"},
		Credential: "tok123",
	}
	attach, alias, err := attachQuery(rs)
	if err != nil {
		t.Fatal(err)
	}
	if alias != "rivet_source" {
		t.Fatalf("alias = %q", alias)
	}
	want := `ATTACH 'md:analytics?motherduck_token=tok123' AS rivet_source`
	if attach != want {
		t.Fatalf("attach = %q, want %q", attach, want)
	}
}

func TestAttachQueryForMotherDuckRequiresToken(t *testing.T) {
	rs := types.ResolvedSource{Source: catalog.Source{Kind: catalog.SourceMotherDuck, MotherDuckDatabase: "analytics"}}
	if _, _, err := attachQuery(rs); err == nil {
		t.Fatal("expected error for missing motherduck token")
	}
}

func TestPortableTypeMapsDuckDBNativeTypes(t *testing.T) {
	cases := map[string]string{
		"BIGINT":  "int64",
		"DOUBLE":  "float64",
		"BOOLEAN": "bool",
		"DATE":    "timestamp",
		"BLOB":    "bytes",
		"VARCHAR": "string",
	}
	for native, want := range cases {
		if got := portableType(native); got != want {
			t.Errorf("portableType(%q) = %q, want %q", native, got, want)
		}
	}
}
