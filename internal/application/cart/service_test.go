package cart_test

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"

	appcart "github.com/quillmart/checkout/internal/application/cart"
	domcart "github.com/quillmart/checkout/internal/domain/cart"
	domcatalog "github.com/quillmart/checkout/internal/domain/catalog"
	"github.com/quillmart/checkout/internal/infrastructure/memory"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

type seqIDGenerator struct{ n atomic.Int64 }

func (g *seqIDGenerator) NewID() string {
	return fmt.Sprintf("id-%d", g.n.Add(1))
}

func newCartService(t *testing.T) (*appcart.Service, *memory.ProductRepository, *memory.CartRepository) {
	t.Helper()
	products := memory.NewProductRepository()
	carts := memory.NewCartRepository()
	svc := appcart.NewService(carts, products, &seqIDGenerator{}, nil)
	return svc, products, carts
}

func seedProduct(t *testing.T, repo *memory.ProductRepository, id, price string, stock int) {
	t.Helper()
	d, err := decimal.NewFromString(price)
	if err != nil {
		t.Fatalf("parse price: %v", err)
	}
	product, err := domcatalog.NewProduct(id, id, d, stock)
	if err != nil {
		t.Fatalf("new product: %v", err)
	}
	if err := repo.Seed(context.Background(), product); err != nil {
		t.Fatalf("seed: %v", err)
	}
}

func TestAddItemCreatesCartAndSnapshotsPrice(t *testing.T) {
	svc, products, _ := newCartService(t)
	seedProduct(t, products, "prod-a", "12.50", 10)

	c, err := svc.AddItem(context.Background(), "buyer-1", "prod-a", 2)
	if err != nil {
		t.Fatalf("add item: %v", err)
	}
	if len(c.Lines) != 1 {
		t.Fatalf("expected one line, got %d", len(c.Lines))
	}
	if !c.Lines[0].UnitPrice.Equal(decimal.RequireFromString("12.50")) {
		t.Fatalf("expected snapshot price 12.50, got %s", c.Lines[0].UnitPrice)
	}

	// The snapshot survives later catalog price changes.
	seedProduct(t, products, "prod-a", "99.00", 10)
	c, err = svc.View(context.Background(), "buyer-1")
	if err != nil {
		t.Fatalf("view: %v", err)
	}
	if !c.Lines[0].UnitPrice.Equal(decimal.RequireFromString("12.50")) {
		t.Fatalf("price snapshot must not follow the catalog, got %s", c.Lines[0].UnitPrice)
	}
}

func TestAddItemMergesQuantities(t *testing.T) {
	svc, products, _ := newCartService(t)
	seedProduct(t, products, "prod-a", "10.00", 10)

	if _, err := svc.AddItem(context.Background(), "buyer-1", "prod-a", 2); err != nil {
		t.Fatalf("first add: %v", err)
	}
	c, err := svc.AddItem(context.Background(), "buyer-1", "prod-a", 3)
	if err != nil {
		t.Fatalf("second add: %v", err)
	}
	if len(c.Lines) != 1 || c.Lines[0].Quantity != 5 {
		t.Fatalf("expected one merged line of quantity 5, got %+v", c.Lines)
	}
}

func TestAddItemSoftStockCheckUsesMergedQuantity(t *testing.T) {
	svc, products, _ := newCartService(t)
	seedProduct(t, products, "prod-a", "10.00", 5)

	if _, err := svc.AddItem(context.Background(), "buyer-1", "prod-a", 4); err != nil {
		t.Fatalf("first add: %v", err)
	}

	_, err := svc.AddItem(context.Background(), "buyer-1", "prod-a", 2)
	var insufficient *domcatalog.InsufficientStockError
	if !errors.As(err, &insufficient) {
		t.Fatalf("expected InsufficientStockError, got %v", err)
	}
	if insufficient.Requested != 6 || insufficient.Available != 5 {
		t.Fatalf("unexpected error detail: %+v", insufficient)
	}
}

func TestAddItemUnknownOrInactiveProduct(t *testing.T) {
	svc, products, _ := newCartService(t)
	seedProduct(t, products, "prod-out", "10.00", 0)

	if _, err := svc.AddItem(context.Background(), "buyer-1", "missing", 1); !errors.Is(err, domcatalog.ErrProductUnavailable) {
		t.Fatalf("expected ErrProductUnavailable for unknown product, got %v", err)
	}
	if _, err := svc.AddItem(context.Background(), "buyer-1", "prod-out", 1); !errors.Is(err, domcatalog.ErrProductUnavailable) {
		t.Fatalf("expected ErrProductUnavailable for zero-stock product, got %v", err)
	}
}

func TestAddItemValidation(t *testing.T) {
	svc, products, _ := newCartService(t)
	seedProduct(t, products, "prod-a", "10.00", 5)

	if _, err := svc.AddItem(context.Background(), "", "prod-a", 1); !errors.Is(err, appcart.ErrValidation) {
		t.Fatalf("expected ErrValidation for empty buyer, got %v", err)
	}
	if _, err := svc.AddItem(context.Background(), "buyer-1", "prod-a", 0); !errors.Is(err, domcart.ErrInvalidQuantity) {
		t.Fatalf("expected ErrInvalidQuantity, got %v", err)
	}
}

func TestDecreaseItemToZeroRemovesLine(t *testing.T) {
	svc, products, _ := newCartService(t)
	seedProduct(t, products, "prod-a", "10.00", 5)

	c, err := svc.AddItem(context.Background(), "buyer-1", "prod-a", 1)
	if err != nil {
		t.Fatalf("add item: %v", err)
	}
	lineID := c.Lines[0].ID

	c, err = svc.DecreaseItem(context.Background(), "buyer-1", lineID)
	if err != nil {
		t.Fatalf("decrease: %v", err)
	}
	if !c.IsEmpty() {
		t.Fatalf("expected empty cart after decrementing last unit")
	}
}

func TestIncreaseItemRespectsStock(t *testing.T) {
	svc, products, _ := newCartService(t)
	seedProduct(t, products, "prod-a", "10.00", 2)

	c, err := svc.AddItem(context.Background(), "buyer-1", "prod-a", 2)
	if err != nil {
		t.Fatalf("add item: %v", err)
	}
	_, err = svc.IncreaseItem(context.Background(), "buyer-1", c.Lines[0].ID)
	var insufficient *domcatalog.InsufficientStockError
	if !errors.As(err, &insufficient) {
		t.Fatalf("expected InsufficientStockError, got %v", err)
	}
}

// 20 concurrent adds for the same buyer must serialize on the cart: one
// merged line, no lost update.
func TestAddItemSerializesPerBuyer(t *testing.T) {
	svc, products, _ := newCartService(t)
	seedProduct(t, products, "prod-a", "10.00", 50)

	g := new(errgroup.Group)
	for i := 0; i < 20; i++ {
		g.Go(func() error {
			_, err := svc.AddItem(context.Background(), "buyer-1", "prod-a", 2)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("concurrent add: %v", err)
	}

	c, err := svc.View(context.Background(), "buyer-1")
	if err != nil {
		t.Fatalf("view: %v", err)
	}
	if len(c.Lines) != 1 {
		t.Fatalf("expected one merged line, got %d", len(c.Lines))
	}
	if c.Lines[0].Quantity != 40 {
		t.Fatalf("expected merged quantity 40, got %d", c.Lines[0].Quantity)
	}
	if !c.Total.Equal(decimal.RequireFromString("400.00")) {
		t.Fatalf("expected total 400.00, got %s", c.Total)
	}
}

func TestIncreaseItemInactiveProduct(t *testing.T) {
	svc, products, _ := newCartService(t)
	seedProduct(t, products, "prod-a", "10.00", 3)

	c, err := svc.AddItem(context.Background(), "buyer-1", "prod-a", 1)
	if err != nil {
		t.Fatalf("add item: %v", err)
	}

	// The product sells out elsewhere, deactivating it.
	seedProduct(t, products, "prod-a", "10.00", 0)

	if _, err := svc.IncreaseItem(context.Background(), "buyer-1", c.Lines[0].ID); !errors.Is(err, domcatalog.ErrProductUnavailable) {
		t.Fatalf("expected ErrProductUnavailable, got %v", err)
	}
}

func TestViewMissingCartReturnsEmpty(t *testing.T) {
	svc, _, _ := newCartService(t)

	c, err := svc.View(context.Background(), "buyer-1")
	if err != nil {
		t.Fatalf("view: %v", err)
	}
	if !c.IsEmpty() {
		t.Fatalf("expected empty cart for new buyer")
	}
	if c.BuyerID != "buyer-1" {
		t.Fatalf("expected buyer id set, got %q", c.BuyerID)
	}
}

func TestClearMissingCartIsNoop(t *testing.T) {
	svc, _, _ := newCartService(t)
	if err := svc.Clear(context.Background(), "buyer-1"); err != nil {
		t.Fatalf("clear: %v", err)
	}
}

func TestRemoveItemUnknownLine(t *testing.T) {
	svc, products, _ := newCartService(t)
	seedProduct(t, products, "prod-a", "10.00", 5)
	if _, err := svc.AddItem(context.Background(), "buyer-1", "prod-a", 1); err != nil {
		t.Fatalf("add item: %v", err)
	}

	if _, err := svc.RemoveItem(context.Background(), "buyer-1", "missing"); !errors.Is(err, domcart.ErrLineNotFound) {
		t.Fatalf("expected ErrLineNotFound, got %v", err)
	}
}
