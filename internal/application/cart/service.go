package cart

import (
	"context"
	"errors"
	"fmt"
	"sync"

	domain "github.com/quillmart/checkout/internal/domain/cart"
	domcatalog "github.com/quillmart/checkout/internal/domain/catalog"
	"github.com/quillmart/checkout/internal/observability"
	"github.com/quillmart/checkout/internal/observability/logctx"
)

const componentCartService = "cart_service"

var ErrValidation = errors.New("cart: validation")

func newValidation(msg string) error {
	return fmt.Errorf("%w: %s", ErrValidation, msg)
}

// Service is the Cart Manager: it builds a prospective purchase without
// touching the stock ledger. Stock checks here are advisory and may be
// stale by the time of settlement.
type Service struct {
	repo        domain.Repository
	catalog     CatalogReader
	idGenerator IDGenerator
	log         observability.Logger

	// Writes to the same buyer's cart must serialize.
	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

func NewService(repo domain.Repository, catalog CatalogReader, idGen IDGenerator, logger observability.Logger) *Service {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Service{
		repo:        repo,
		catalog:     catalog,
		idGenerator: idGen,
		log:         logger.With(observability.F("component", componentCartService)),
		locks:       make(map[string]*sync.Mutex),
	}
}

// AddItem merges quantity into the buyer's cart line for the product, or
// creates a new line snapshotting the current catalog price. The soft stock
// check compares the merged quantity against current stock.
func (s *Service) AddItem(ctx context.Context, buyerID, productID string, quantity int) (*domain.Cart, error) {
	logger := logctx.FromOr(ctx, s.log)
	if buyerID == "" {
		return nil, newValidation("buyer id is required")
	}
	if productID == "" {
		return nil, newValidation("product id is required")
	}
	if quantity <= 0 {
		return nil, domain.ErrInvalidQuantity
	}

	unlock := s.lockBuyer(buyerID)
	defer unlock()

	product, err := s.catalog.Get(ctx, productID)
	if err != nil {
		if errors.Is(err, domcatalog.ErrNotFound) {
			return nil, domcatalog.ErrProductUnavailable
		}
		return nil, fmt.Errorf("cart: catalog lookup: %w", err)
	}
	if !product.Active {
		return nil, domcatalog.ErrProductUnavailable
	}

	c, err := s.loadOrCreate(ctx, buyerID)
	if err != nil {
		return nil, err
	}

	merged := c.QuantityOf(productID) + quantity
	if merged > product.Stock {
		return nil, &domcatalog.InsufficientStockError{
			ProductID: productID,
			Requested: merged,
			Available: product.Stock,
		}
	}

	if _, err := c.AddLine(s.idGenerator.NewID(), productID, quantity, product.Price); err != nil {
		return nil, err
	}
	if err := s.repo.Save(ctx, c); err != nil {
		logger.Error("cart_save_failed", observability.F("buyer_id", buyerID), observability.F("error", err))
		return nil, fmt.Errorf("cart: save: %w", err)
	}

	logger.Info("cart_item_added",
		observability.F("buyer_id", buyerID),
		observability.F("product_id", productID),
		observability.F("quantity", quantity),
		observability.F("cart_total", c.Total.String()),
	)
	return c, nil
}

// IncreaseItem bumps a line's quantity by one after re-checking advisory
// stock against the line's product.
func (s *Service) IncreaseItem(ctx context.Context, buyerID, lineID string) (*domain.Cart, error) {
	if buyerID == "" {
		return nil, newValidation("buyer id is required")
	}

	unlock := s.lockBuyer(buyerID)
	defer unlock()

	c, err := s.repo.FindByBuyer(ctx, buyerID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.ErrLineNotFound
		}
		return nil, fmt.Errorf("cart: load: %w", err)
	}

	line := c.Line(lineID)
	if line == nil {
		return nil, domain.ErrLineNotFound
	}

	product, err := s.catalog.Get(ctx, line.ProductID)
	if err != nil {
		if errors.Is(err, domcatalog.ErrNotFound) {
			return nil, domcatalog.ErrProductUnavailable
		}
		return nil, fmt.Errorf("cart: catalog lookup: %w", err)
	}
	if !product.Active {
		return nil, domcatalog.ErrProductUnavailable
	}
	if line.Quantity+1 > product.Stock {
		return nil, &domcatalog.InsufficientStockError{
			ProductID: line.ProductID,
			Requested: line.Quantity + 1,
			Available: product.Stock,
		}
	}

	if _, err := c.AdjustLine(lineID, +1); err != nil {
		return nil, err
	}
	if err := s.repo.Save(ctx, c); err != nil {
		return nil, fmt.Errorf("cart: save: %w", err)
	}
	return c, nil
}

// DecreaseItem lowers a line's quantity by one; reaching zero removes the line.
func (s *Service) DecreaseItem(ctx context.Context, buyerID, lineID string) (*domain.Cart, error) {
	if buyerID == "" {
		return nil, newValidation("buyer id is required")
	}

	unlock := s.lockBuyer(buyerID)
	defer unlock()

	c, err := s.repo.FindByBuyer(ctx, buyerID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.ErrLineNotFound
		}
		return nil, fmt.Errorf("cart: load: %w", err)
	}

	if _, err := c.AdjustLine(lineID, -1); err != nil {
		return nil, err
	}
	if err := s.repo.Save(ctx, c); err != nil {
		return nil, fmt.Errorf("cart: save: %w", err)
	}
	return c, nil
}

func (s *Service) RemoveItem(ctx context.Context, buyerID, lineID string) (*domain.Cart, error) {
	if buyerID == "" {
		return nil, newValidation("buyer id is required")
	}

	unlock := s.lockBuyer(buyerID)
	defer unlock()

	c, err := s.repo.FindByBuyer(ctx, buyerID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.ErrLineNotFound
		}
		return nil, fmt.Errorf("cart: load: %w", err)
	}

	if err := c.RemoveLine(lineID); err != nil {
		return nil, err
	}
	if err := s.repo.Save(ctx, c); err != nil {
		return nil, fmt.Errorf("cart: save: %w", err)
	}
	return c, nil
}

// Clear empties the buyer's cart. Clearing a non-existent cart is a no-op.
func (s *Service) Clear(ctx context.Context, buyerID string) error {
	if buyerID == "" {
		return newValidation("buyer id is required")
	}

	unlock := s.lockBuyer(buyerID)
	defer unlock()

	c, err := s.repo.FindByBuyer(ctx, buyerID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("cart: load: %w", err)
	}

	c.Clear()
	if err := s.repo.Save(ctx, c); err != nil {
		return fmt.Errorf("cart: save: %w", err)
	}
	return nil
}

// View returns the buyer's cart, or an empty cart when none exists yet.
func (s *Service) View(ctx context.Context, buyerID string) (*domain.Cart, error) {
	if buyerID == "" {
		return nil, newValidation("buyer id is required")
	}

	c, err := s.repo.FindByBuyer(ctx, buyerID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.New("", buyerID), nil
		}
		return nil, fmt.Errorf("cart: load: %w", err)
	}
	return c, nil
}

func (s *Service) loadOrCreate(ctx context.Context, buyerID string) (*domain.Cart, error) {
	c, err := s.repo.FindByBuyer(ctx, buyerID)
	if err == nil {
		return c, nil
	}
	if errors.Is(err, domain.ErrNotFound) {
		return domain.New(s.idGenerator.NewID(), buyerID), nil
	}
	return nil, fmt.Errorf("cart: load: %w", err)
}

func (s *Service) lockBuyer(buyerID string) func() {
	s.locksMu.Lock()
	mu, ok := s.locks[buyerID]
	if !ok {
		mu = &sync.Mutex{}
		s.locks[buyerID] = mu
	}
	s.locksMu.Unlock()

	mu.Lock()
	return mu.Unlock
}
