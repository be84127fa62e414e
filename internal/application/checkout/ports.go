package checkout

import (
	domcart "github.com/quillmart/checkout/internal/domain/cart"
	domcatalog "github.com/quillmart/checkout/internal/domain/catalog"
)

type IDGenerator interface {
	NewID() string
}

// Ledger is the stock ledger port. ConditionalAdjust must be one atomic
// read-modify-write per product at the storage layer; the coordinator is
// the only component allowed to call it with a non-zero delta.
type Ledger interface {
	domcatalog.Repository
}

// CartStore gives the coordinator read access to the buyer's cart at
// checkout time and lets it vacate the cart after a successful settlement.
type CartStore interface {
	domcart.Repository
}
