package catalog

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrNotFound           = errors.New("catalog: product not found")
	ErrInvalidQuantity    = errors.New("catalog: quantity must be greater than zero")
	ErrProductUnavailable = errors.New("catalog: product is unavailable")
	ErrInvalidPrice       = errors.New("catalog: price must be zero or greater")
)

// InsufficientStockError reports how many units were actually available so
// callers can surface an actionable message to the buyer.
type InsufficientStockError struct {
	ProductID string
	Requested int
	Available int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("catalog: insufficient stock for product %s: requested %d, available %d",
		e.ProductID, e.Requested, e.Available)
}

// Product carries the stock-ledger fields of a catalog entry. Stock is the
// authoritative available quantity; Active is derived and recomputed on
// every stock change.
type Product struct {
	ID          string
	Name        string
	Price       decimal.Decimal
	Stock       int
	Active      bool
	SoftDeleted bool
	UpdatedAt   time.Time
}

func NewProduct(id, name string, price decimal.Decimal, stock int) (*Product, error) {
	if price.IsNegative() {
		return nil, ErrInvalidPrice
	}
	if stock < 0 {
		return nil, ErrInvalidQuantity
	}
	p := &Product{
		ID:        id,
		Name:      name,
		Price:     price,
		Stock:     stock,
		UpdatedAt: time.Now().UTC(),
	}
	p.recomputeActive()
	return p, nil
}

// Adjust applies stock += delta only when the result stays non-negative.
// It is the single mutation primitive the settlement path is built on;
// repositories must call it inside their own critical section.
func (p *Product) Adjust(delta int) error {
	next := p.Stock + delta
	if next < 0 {
		return &InsufficientStockError{
			ProductID: p.ID,
			Requested: -delta,
			Available: p.Stock,
		}
	}
	p.Stock = next
	p.recomputeActive()
	p.touch()
	return nil
}

func (p *Product) recomputeActive() {
	p.Active = p.Stock > 0 && !p.SoftDeleted
}

func (p *Product) Clone() *Product {
	if p == nil {
		return nil
	}
	clone := *p
	return &clone
}

func (p *Product) touch() {
	p.UpdatedAt = time.Now().UTC()
}
