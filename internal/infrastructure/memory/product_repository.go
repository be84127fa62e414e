package memory

import (
	"context"
	"sync"

	domain "github.com/quillmart/checkout/internal/domain/catalog"
)

// ProductRepository keeps the stock ledger in memory. Every mutation of a
// product happens inside one critical section, so ConditionalAdjust is a
// single atomic read-modify-write per product rather than a read-then-write
// pair.
type ProductRepository struct {
	mu       sync.RWMutex
	products map[string]*domain.Product
}

func NewProductRepository() *ProductRepository {
	return &ProductRepository{
		products: make(map[string]*domain.Product),
	}
}

// Seed registers a product, replacing any previous entry with the same ID.
func (r *ProductRepository) Seed(ctx context.Context, product *domain.Product) error {
	_ = ctx
	if product == nil || product.ID == "" {
		return domain.ErrNotFound
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.products[product.ID] = product.Clone()
	return nil
}

func (r *ProductRepository) Get(ctx context.Context, productID string) (*domain.Product, error) {
	_ = ctx

	r.mu.RLock()
	defer r.mu.RUnlock()

	product, ok := r.products[productID]
	if !ok {
		return nil, domain.ErrNotFound
	}

	return product.Clone(), nil
}

func (r *ProductRepository) ConditionalAdjust(ctx context.Context, productID string, delta int) (int, error) {
	_ = ctx

	r.mu.Lock()
	defer r.mu.Unlock()

	product, ok := r.products[productID]
	if !ok {
		return 0, domain.ErrNotFound
	}

	// Adjust rejects any delta that would drive stock negative and
	// recomputes the active flag in the same step.
	if err := product.Adjust(delta); err != nil {
		return product.Stock, err
	}
	return product.Stock, nil
}
