package cart

import (
	"context"

	domcatalog "github.com/quillmart/checkout/internal/domain/catalog"
)

type IDGenerator interface {
	NewID() string
}

// CatalogReader is the read-only view of the catalog used for advisory
// stock checks. The cart never mutates the ledger.
type CatalogReader interface {
	Get(ctx context.Context, productID string) (*domcatalog.Product, error)
}
