package cart

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrInvalidQuantity = errors.New("cart: quantity must be greater than zero")
	ErrLineNotFound    = errors.New("cart: line not found")
)

// Line is one product entry in a cart. UnitPrice is snapshotted from the
// catalog when the line is first created and kept across merges.
type Line struct {
	ID        string
	ProductID string
	Quantity  int
	UnitPrice decimal.Decimal
	Subtotal  decimal.Decimal
}

// Cart is a per-buyer staging structure. It never touches the stock ledger;
// stock checks against it are advisory only.
type Cart struct {
	ID        string
	BuyerID   string
	Lines     []Line
	Total     decimal.Decimal
	CreatedAt time.Time
	UpdatedAt time.Time
}

func New(id, buyerID string) *Cart {
	now := time.Now().UTC()
	return &Cart{
		ID:        id,
		BuyerID:   buyerID,
		Total:     decimal.Zero,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// AddLine merges quantity into an existing line for the product or appends a
// new line with the given price snapshot. At most one line per product.
func (c *Cart) AddLine(lineID, productID string, quantity int, unitPrice decimal.Decimal) (*Line, error) {
	if quantity <= 0 {
		return nil, ErrInvalidQuantity
	}
	for i := range c.Lines {
		if c.Lines[i].ProductID == productID {
			c.Lines[i].Quantity += quantity
			c.recompute()
			return &c.Lines[i], nil
		}
	}
	c.Lines = append(c.Lines, Line{
		ID:        lineID,
		ProductID: productID,
		Quantity:  quantity,
		UnitPrice: unitPrice,
	})
	c.recompute()
	return &c.Lines[len(c.Lines)-1], nil
}

// AdjustLine changes a line's quantity by delta. Dropping to zero or below
// removes the line.
func (c *Cart) AdjustLine(lineID string, delta int) (*Line, error) {
	idx := c.lineIndex(lineID)
	if idx < 0 {
		return nil, ErrLineNotFound
	}
	next := c.Lines[idx].Quantity + delta
	if next <= 0 {
		c.Lines = append(c.Lines[:idx], c.Lines[idx+1:]...)
		c.recompute()
		return nil, nil
	}
	c.Lines[idx].Quantity = next
	c.recompute()
	return &c.Lines[idx], nil
}

func (c *Cart) RemoveLine(lineID string) error {
	idx := c.lineIndex(lineID)
	if idx < 0 {
		return ErrLineNotFound
	}
	c.Lines = append(c.Lines[:idx], c.Lines[idx+1:]...)
	c.recompute()
	return nil
}

// Clear empties the cart but keeps it alive for the buyer.
func (c *Cart) Clear() {
	c.Lines = nil
	c.recompute()
}

func (c *Cart) IsEmpty() bool { return len(c.Lines) == 0 }

// Line returns the line with the given ID, or nil.
func (c *Cart) Line(lineID string) *Line {
	if idx := c.lineIndex(lineID); idx >= 0 {
		return &c.Lines[idx]
	}
	return nil
}

// QuantityOf reports the quantity currently staged for a product.
func (c *Cart) QuantityOf(productID string) int {
	for i := range c.Lines {
		if c.Lines[i].ProductID == productID {
			return c.Lines[i].Quantity
		}
	}
	return 0
}

func (c *Cart) lineIndex(lineID string) int {
	for i := range c.Lines {
		if c.Lines[i].ID == lineID {
			return i
		}
	}
	return -1
}

// recompute refreshes every subtotal and the cart total. Totals are never
// stored stale.
func (c *Cart) recompute() {
	total := decimal.Zero
	for i := range c.Lines {
		c.Lines[i].Subtotal = c.Lines[i].UnitPrice.Mul(decimal.NewFromInt(int64(c.Lines[i].Quantity)))
		total = total.Add(c.Lines[i].Subtotal)
	}
	c.Total = total
	c.UpdatedAt = time.Now().UTC()
}

func (c *Cart) Clone() *Cart {
	if c == nil {
		return nil
	}
	clone := *c
	clone.Lines = append([]Line(nil), c.Lines...)
	return &clone
}
