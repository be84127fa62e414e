package catalog

import "context"

type Repository interface {
	Get(ctx context.Context, productID string) (*Product, error)

	// ConditionalAdjust atomically applies stock += delta when the result
	// stays >= 0 and returns the remaining stock. A negative delta that
	// would drive stock below zero fails with *InsufficientStockError and
	// leaves the product untouched. This is the only write path to stock.
	ConditionalAdjust(ctx context.Context, productID string, delta int) (remaining int, err error)
}
