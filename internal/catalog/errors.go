package catalog

import (
	"fmt"

	"github.com/hotdata-dev/rivetdb/internal/rerr"
)

var errMissingCatalogURL = fmt.Errorf("CATALOG_DATABASE_URL not set: %w", rerr.ErrInvalidConfig)

func errUnknownCatalogScheme(scheme string) error {
	return fmt.Errorf("unknown catalog URL scheme %q: %w", scheme, rerr.ErrInvalidConfig)
}

func errNameConflict(name string) error {
	return fmt.Errorf("connection %q already exists: %w", name, rerr.ErrNameConflict)
}
