package cart

import (
	"context"
	"errors"
)

var ErrNotFound = errors.New("cart: not found")

type Repository interface {
	// FindByBuyer returns the buyer's cart or ErrNotFound; carts are
	// created lazily on first add.
	FindByBuyer(ctx context.Context, buyerID string) (*Cart, error)
	Save(ctx context.Context, cart *Cart) error
}
