package memory

import (
	"context"
	"fmt"
	"sync"

	domain "github.com/quillmart/checkout/internal/domain/cart"
)

type CartRepository struct {
	mu    sync.RWMutex
	carts map[string]*domain.Cart // keyed by buyer ID, one cart per buyer
}

func NewCartRepository() *CartRepository {
	return &CartRepository{
		carts: make(map[string]*domain.Cart),
	}
}

func (r *CartRepository) FindByBuyer(ctx context.Context, buyerID string) (*domain.Cart, error) {
	_ = ctx

	r.mu.RLock()
	defer r.mu.RUnlock()

	cart, ok := r.carts[buyerID]
	if !ok {
		return nil, domain.ErrNotFound
	}

	return cart.Clone(), nil
}

func (r *CartRepository) Save(ctx context.Context, cart *domain.Cart) error {
	_ = ctx
	if cart == nil || cart.BuyerID == "" {
		return fmt.Errorf("cart repository: buyer id is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.carts[cart.BuyerID] = cart.Clone()
	return nil
}
