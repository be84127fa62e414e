package checkout

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	domcart "github.com/quillmart/checkout/internal/domain/cart"
	domcatalog "github.com/quillmart/checkout/internal/domain/catalog"
	domain "github.com/quillmart/checkout/internal/domain/order"
	domoutbox "github.com/quillmart/checkout/internal/domain/outbox"
	dompay "github.com/quillmart/checkout/internal/domain/payment"
	"github.com/quillmart/checkout/internal/observability"
	"github.com/quillmart/checkout/internal/observability/logctx"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

const (
	checkoutService        = "checkout-service"
	useCaseInitiate        = "checkout.initiate"
	useCaseSettle          = "checkout.settle"
	useCaseCancel          = "checkout.cancel"
	spanPrefix             = "UC."
	paymentPeer            = "payment-processor"
	paymentEndpoint        = "charge_and_confirm"
	publishTimeout         = 300 * time.Millisecond
	defaultPaymentTimeout  = 5 * time.Second

	reasonInsufficientStock    = "insufficient_stock"
	reasonPaymentDeclined      = "payment_declined"
	reasonProcessorUnavailable = "payment_processor_unavailable"
)

var (
	ErrRepository = errors.New("checkout: repository failure")
	ErrValidation = errors.New("checkout: validation")
)

// Service is the Checkout Coordinator: the only component permitted to
// mutate the stock ledger and to call the external payment processor.
type Service struct {
	orders         domain.Repository
	carts          CartStore
	ledger         Ledger
	processor      dompay.Processor
	idGenerator    IDGenerator
	publisher      domoutbox.Publisher
	tel            observability.Observability
	paymentTimeout time.Duration

	log observability.Logger

	// Settle and cancel on the same order must serialize so the
	// idempotency guard is never raced by a simultaneous retry.
	locksMu sync.Mutex
	locks   map[string]*sync.Mutex

	reqCounter    observability.Counter   // usecase_requests_total{use_case,outcome}
	durHistogram  observability.Histogram // usecase_duration_seconds{use_case}
	extCounter    observability.Counter   // external_requests_total{peer,endpoint,outcome}
	extHistogram  observability.Histogram // external_request_duration_seconds{peer,endpoint}
	settleCounter observability.Counter   // checkout_settlements_total{outcome}
	compCounter   observability.Counter   // checkout_compensations_total{stage}
}

func NewService(
	orders domain.Repository,
	carts CartStore,
	ledger Ledger,
	processor dompay.Processor,
	idGen IDGenerator,
	publisher domoutbox.Publisher,
	tel observability.Observability,
	paymentTimeout time.Duration,
) *Service {
	baseLog := observability.NopLogger()
	if tel != nil {
		baseLog = tel.Logger()
	}
	baseLog = baseLog.With(
		observability.F("service", checkoutService),
	)

	metricsProvider := observability.NopMetrics()
	if tel != nil {
		metricsProvider = tel.Metrics()
	}

	if paymentTimeout <= 0 {
		paymentTimeout = defaultPaymentTimeout
	}

	return &Service{
		orders:         orders,
		carts:          carts,
		ledger:         ledger,
		processor:      processor,
		idGenerator:    idGen,
		publisher:      publisher,
		tel:            tel,
		paymentTimeout: paymentTimeout,
		log:            baseLog,
		locks:          make(map[string]*sync.Mutex),
		reqCounter:     metricsProvider.Counter(observability.MUsecaseRequests),
		durHistogram:   metricsProvider.Histogram(observability.MUsecaseDuration),
		extCounter:     metricsProvider.Counter(observability.MExternalRequests),
		extHistogram:   metricsProvider.Histogram(observability.MExternalRequestDuration),
		settleCounter:  metricsProvider.Counter(observability.MSettlements),
		compCounter:    metricsProvider.Counter(observability.MCompensations),
	}
}

type CheckoutResult struct {
	OrderID string
	Status  domain.Status
	Total   string
}

// InitiateCheckout snapshots the buyer's cart lines into a new pending
// order. Stock is not touched and the cart is left intact so the buyer can
// retry settlement without rebuilding it.
func (s *Service) InitiateCheckout(ctx context.Context, buyerID string) (_ *CheckoutResult, err error) {
	logger := logctx.FromOr(ctx, s.log).With(observability.F("use_case", useCaseInitiate))

	ctx, span := s.tracer().Start(ctx, spanPrefix+"InitiateCheckout",
		attribute.String("use_case", useCaseInitiate),
		attribute.String("order.buyer_id", buyerID),
	)
	start := time.Now()
	outcome, statusText := "success", "OK"

	defer func() {
		s.finishSpan(span, err, statusText)
		s.observeUseCase(useCaseInitiate, outcome, time.Since(start).Seconds())
		logger.Info("use_case_done", s.doneFields(ctx, outcome, statusText, start, err)...)
	}()

	if buyerID == "" {
		outcome, statusText = "error", "BUYER_ID_REQUIRED"
		return nil, newValidation("buyer id is required")
	}

	c, err := s.carts.FindByBuyer(ctx, buyerID)
	if err != nil {
		if errors.Is(err, domcart.ErrNotFound) {
			outcome, statusText = "error", "EMPTY_CART"
			return nil, domain.ErrEmptyCart
		}
		outcome, statusText = "error", "CART_LOAD_FAILED"
		return nil, fmt.Errorf("%w: %w", ErrRepository, err)
	}
	if c.IsEmpty() {
		outcome, statusText = "error", "EMPTY_CART"
		return nil, domain.ErrEmptyCart
	}

	// Advisory availability sweep before freezing the order; settle stays
	// the authority on stock.
	if err := s.checkAvailability(ctx, c.Lines); err != nil {
		if errors.Is(err, domcatalog.ErrProductUnavailable) {
			outcome, statusText = "error", "PRODUCT_UNAVAILABLE"
			return nil, domcatalog.ErrProductUnavailable
		}
		outcome, statusText = "error", "CATALOG_LOOKUP_FAILED"
		return nil, err
	}

	lines := make([]domain.Line, len(c.Lines))
	for i, l := range c.Lines {
		lines[i] = domain.Line{
			ProductID: l.ProductID,
			Quantity:  l.Quantity,
			UnitPrice: l.UnitPrice,
		}
	}

	orderID := s.idGenerator.NewID()
	entity, derr := domain.New(orderID, buyerID, lines)
	if derr != nil {
		outcome, statusText = "error", "DOMAIN_CONSTRUCTION_FAILED"
		return nil, fmt.Errorf("checkout: construct order: %w", derr)
	}
	if err := s.orders.Insert(ctx, entity); err != nil {
		outcome, statusText = "error", "REPO_INSERT_FAILED"
		return nil, fmt.Errorf("%w: %w", ErrRepository, err)
	}

	span.SetAttributes(attribute.String("order.id", orderID))
	span.AddEvent("order.created",
		trace.WithAttributes(attribute.String("order.id", orderID)),
	)

	return &CheckoutResult{
		OrderID: entity.ID,
		Status:  entity.Status,
		Total:   entity.Total.String(),
	}, nil
}

type SettleResult struct {
	OrderID          string
	Status           domain.Status
	PaymentReference string
	SettledAt        *time.Time
}

// Settle runs the critical sequence: per-line conditional decrement, then
// the external charge, with reverse-order compensation whenever a later
// step fails. A keyed per-order mutex serializes simultaneous retries so
// the idempotency guard cannot be raced; it is scoped to one order, so no
// ledger or cross-order lock is ever held across the processor call and
// unrelated settlements never contend.
func (s *Service) Settle(ctx context.Context, orderID, paymentMethodToken string) (_ *SettleResult, err error) {
	logger := logctx.FromOr(ctx, s.log).With(
		observability.F("use_case", useCaseSettle),
		observability.F("order_id", orderID),
	)

	ctx, span := s.tracer().Start(ctx, spanPrefix+"Settle",
		attribute.String("use_case", useCaseSettle),
		attribute.String("order.id", orderID),
	)
	start := time.Now()
	outcome, statusText := "success", "OK"

	defer func() {
		s.finishSpan(span, err, statusText)
		s.observeUseCase(useCaseSettle, outcome, time.Since(start).Seconds())
		if s.settleCounter != nil {
			s.settleCounter.Add(1, observability.L("outcome", outcome))
		}
		logger.Info("use_case_done", s.doneFields(ctx, outcome, statusText, start, err)...)
	}()

	if orderID == "" {
		outcome, statusText = "error", "ORDER_ID_REQUIRED"
		return nil, newValidation("order id is required")
	}

	unlock := s.lockOrder(orderID)
	defer unlock()

	entity, err := s.orders.Get(ctx, orderID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			outcome, statusText = "error", "ORDER_NOT_FOUND"
			return nil, domain.ErrNotFound
		}
		outcome, statusText = "error", "ORDER_LOAD_FAILED"
		return nil, fmt.Errorf("%w: %w", ErrRepository, err)
	}

	// Idempotency guard: a retry against a paid order replays the original
	// result instead of charging or decrementing again.
	if entity.IsPaid() {
		statusText = "IDEMPOTENT_REPLAY"
		span.AddEvent("order.idempotent_replay",
			trace.WithAttributes(attribute.String("order.id", orderID)),
		)
		return settleResultOf(entity), nil
	}
	if !entity.IsPending() {
		outcome, statusText = "error", "ALREADY_SETTLED"
		return nil, domain.ErrAlreadySettled
	}

	// Hard stock validation: one conditional decrement per line. The first
	// failure rolls back everything decremented so far, in reverse order.
	decremented := make([]domain.Line, 0, len(entity.Lines))
	for _, line := range entity.Lines {
		_, adjErr := s.ledger.ConditionalAdjust(ctx, line.ProductID, -line.Quantity)
		if adjErr == nil {
			decremented = append(decremented, line)
			continue
		}

		s.compensate(ctx, logger, decremented, "stock")

		var insufficient *domcatalog.InsufficientStockError
		if errors.As(adjErr, &insufficient) {
			outcome, statusText = "error", "INSUFFICIENT_STOCK"
			s.recordFailure(ctx, logger, entity, reasonInsufficientStock)
			logger.Warn("settle_stock_rejected",
				observability.F("product_id", insufficient.ProductID),
				observability.F("requested", insufficient.Requested),
				observability.F("available", insufficient.Available),
			)
			return nil, insufficient
		}
		outcome, statusText = "error", "LEDGER_FAILURE"
		return nil, fmt.Errorf("%w: %w", ErrRepository, adjErr)
	}

	// Stock is secured; charge the processor under a bounded timeout. A
	// timeout is treated as processor unavailability and compensated the
	// same way.
	reference, chargeErr := s.charge(ctx, entity, paymentMethodToken)
	if chargeErr != nil {
		s.compensate(ctx, logger, decremented, "payment")

		switch {
		case errors.Is(chargeErr, dompay.ErrDeclined):
			outcome, statusText = "error", "PAYMENT_DECLINED"
			s.recordFailure(ctx, logger, entity, reasonPaymentDeclined)
			return nil, dompay.ErrDeclined
		case errors.Is(chargeErr, dompay.ErrProcessorUnavailable),
			errors.Is(chargeErr, context.DeadlineExceeded):
			outcome, statusText = "error", "PAYMENT_PROCESSOR_UNAVAILABLE"
			s.recordFailure(ctx, logger, entity, reasonProcessorUnavailable)
			return nil, dompay.ErrProcessorUnavailable
		default:
			outcome, statusText = "error", "PAYMENT_FAILED"
			s.recordFailure(ctx, logger, entity, reasonProcessorUnavailable)
			return nil, fmt.Errorf("checkout: charge: %w", chargeErr)
		}
	}

	if err := entity.MarkPaid(reference, time.Now().UTC()); err != nil {
		// Unreachable while the coordinator owns the order during settle.
		s.compensate(ctx, logger, decremented, "transition")
		outcome, statusText = "error", "STATE_TRANSITION_FAILED"
		return nil, err
	}
	if err := s.orders.Update(ctx, entity); err != nil {
		s.compensate(ctx, logger, decremented, "persist")
		outcome, statusText = "error", "REPO_UPDATE_FAILED"
		return nil, fmt.Errorf("%w: %w", ErrRepository, err)
	}

	s.clearCart(ctx, logger, entity.BuyerID)
	s.publishPaid(ctx, logger, entity)

	span.SetAttributes(attribute.String("order.status", string(entity.Status)))
	span.AddEvent("order.paid",
		trace.WithAttributes(
			attribute.String("order.id", entity.ID),
			attribute.String("payment.reference", reference),
		),
	)

	return settleResultOf(entity), nil
}

// Cancel moves a pending order to cancelled. Stock was never decremented
// for a pending order, so no ledger restoration is needed.
func (s *Service) Cancel(ctx context.Context, orderID string) (err error) {
	logger := logctx.FromOr(ctx, s.log).With(
		observability.F("use_case", useCaseCancel),
		observability.F("order_id", orderID),
	)

	ctx, span := s.tracer().Start(ctx, spanPrefix+"Cancel",
		attribute.String("use_case", useCaseCancel),
		attribute.String("order.id", orderID),
	)
	start := time.Now()
	outcome, statusText := "success", "OK"

	defer func() {
		s.finishSpan(span, err, statusText)
		s.observeUseCase(useCaseCancel, outcome, time.Since(start).Seconds())
		logger.Info("use_case_done", s.doneFields(ctx, outcome, statusText, start, err)...)
	}()

	if orderID == "" {
		outcome, statusText = "error", "ORDER_ID_REQUIRED"
		return newValidation("order id is required")
	}

	unlock := s.lockOrder(orderID)
	defer unlock()

	entity, err := s.orders.Get(ctx, orderID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			outcome, statusText = "error", "ORDER_NOT_FOUND"
			return domain.ErrNotFound
		}
		outcome, statusText = "error", "ORDER_LOAD_FAILED"
		return fmt.Errorf("%w: %w", ErrRepository, err)
	}

	if err := entity.MarkCancelled(); err != nil {
		outcome, statusText = "error", "INVALID_TRANSITION"
		return err
	}
	if err := s.orders.Update(ctx, entity); err != nil {
		outcome, statusText = "error", "REPO_UPDATE_FAILED"
		return fmt.Errorf("%w: %w", ErrRepository, err)
	}

	if s.publisher != nil {
		pubCtx, cancel := context.WithTimeout(ctx, publishTimeout)
		if pubErr := s.publisher.Publish(pubCtx, domain.NewOrderCancelledEvent(entity)); pubErr != nil {
			logger.Warn("event_publish_failed", observability.F("error", pubErr))
		}
		cancel()
	}

	return nil
}

func (s *Service) GetOrder(ctx context.Context, orderID string) (*domain.Order, error) {
	if orderID == "" {
		return nil, newValidation("order id is required")
	}
	entity, err := s.orders.Get(ctx, orderID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("%w: %w", ErrRepository, err)
	}
	return entity, nil
}

// checkAvailability fetches every line's product concurrently and rejects
// the checkout when any is missing or inactive. It never reserves stock.
func (s *Service) checkAvailability(ctx context.Context, lines []domcart.Line) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, l := range lines {
		l := l
		g.Go(func() error {
			product, err := s.ledger.Get(gctx, l.ProductID)
			if err != nil {
				if errors.Is(err, domcatalog.ErrNotFound) {
					return domcatalog.ErrProductUnavailable
				}
				return fmt.Errorf("%w: %w", ErrRepository, err)
			}
			if !product.Active {
				return domcatalog.ErrProductUnavailable
			}
			return nil
		})
	}
	return g.Wait()
}

// charge calls the external processor with a bounded timeout and records
// external-call metrics. The caller must already have secured stock.
func (s *Service) charge(ctx context.Context, entity *domain.Order, token string) (string, error) {
	chargeCtx, cancel := context.WithTimeout(ctx, s.paymentTimeout)
	defer cancel()

	extStart := time.Now()
	reference, err := s.processor.ChargeAndConfirm(chargeCtx, entity.Total, token, dompay.Metadata{
		OrderID: entity.ID,
		BuyerID: entity.BuyerID,
	})

	extOutcome := "success"
	if err != nil {
		extOutcome = "error"
		if errors.Is(err, context.DeadlineExceeded) {
			extOutcome = "timeout"
		}
	}
	if s.extCounter != nil {
		s.extCounter.Add(1,
			observability.L("peer", paymentPeer),
			observability.L("endpoint", paymentEndpoint),
			observability.L("outcome", extOutcome),
		)
	}
	if s.extHistogram != nil {
		s.extHistogram.Observe(time.Since(extStart).Seconds(),
			observability.L("peer", paymentPeer),
			observability.L("endpoint", paymentEndpoint),
		)
	}
	return reference, err
}

// compensate restores every decremented line in reverse order. A positive
// delta cannot fail the non-negativity check, so only persistence failures
// are possible; those are logged loudly since they risk ledger drift.
func (s *Service) compensate(ctx context.Context, logger observability.Logger, decremented []domain.Line, stage string) {
	if len(decremented) == 0 {
		return
	}
	if s.compCounter != nil {
		s.compCounter.Add(1, observability.L("stage", stage))
	}
	for i := len(decremented) - 1; i >= 0; i-- {
		line := decremented[i]
		if _, err := s.ledger.ConditionalAdjust(ctx, line.ProductID, +line.Quantity); err != nil {
			logger.Error("stock_compensation_failed",
				observability.F("product_id", line.ProductID),
				observability.F("quantity", line.Quantity),
				observability.F("stage", stage),
				observability.F("error", err),
			)
			continue
		}
		logger.Info("stock_compensated",
			observability.F("product_id", line.ProductID),
			observability.F("quantity", line.Quantity),
			observability.F("stage", stage),
		)
	}
}

// recordFailure keeps the order pending with a machine-readable reason so
// the buyer can adjust and retry. Best-effort: a failed update only logs.
func (s *Service) recordFailure(ctx context.Context, logger observability.Logger, entity *domain.Order, reason string) {
	if err := entity.MarkSettleFailed(reason); err != nil {
		logger.Warn("failure_reason_rejected", observability.F("error", err))
		return
	}
	if err := s.orders.Update(ctx, entity); err != nil {
		logger.Warn("failure_reason_update_failed", observability.F("error", err))
	}
}

func (s *Service) clearCart(ctx context.Context, logger observability.Logger, buyerID string) {
	c, err := s.carts.FindByBuyer(ctx, buyerID)
	if err != nil {
		if !errors.Is(err, domcart.ErrNotFound) {
			logger.Warn("cart_clear_load_failed", observability.F("error", err))
		}
		return
	}
	c.Clear()
	if err := s.carts.Save(ctx, c); err != nil {
		logger.Warn("cart_clear_failed", observability.F("error", err))
	}
}

func (s *Service) publishPaid(ctx context.Context, logger observability.Logger, entity *domain.Order) {
	if s.publisher == nil {
		return
	}
	pubCtx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	if err := s.publisher.Publish(pubCtx, domain.NewOrderPaidEvent(entity)); err != nil {
		logger.Warn("event_publish_failed", observability.F("error", err))
	}
}

func (s *Service) lockOrder(orderID string) func() {
	s.locksMu.Lock()
	mu, ok := s.locks[orderID]
	if !ok {
		mu = &sync.Mutex{}
		s.locks[orderID] = mu
	}
	s.locksMu.Unlock()

	mu.Lock()
	return mu.Unlock
}

func (s *Service) tracer() observability.Tracer {
	if s.tel != nil {
		return s.tel.Tracer()
	}
	return observability.NopTracer()
}

func (s *Service) finishSpan(span trace.Span, err error, statusText string) {
	if span == nil {
		return
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, statusText)
	} else {
		span.SetStatus(codes.Ok, statusText)
	}
	span.End()
}

func (s *Service) observeUseCase(useCase, outcome string, latency float64) {
	if s.reqCounter != nil {
		s.reqCounter.Add(1,
			observability.L("use_case", useCase),
			observability.L("outcome", outcome),
		)
	}
	if s.durHistogram != nil {
		s.durHistogram.Observe(latency,
			observability.L("use_case", useCase),
		)
	}
}

func (s *Service) doneFields(ctx context.Context, outcome, statusText string, start time.Time, err error) []observability.Field {
	fields := []observability.Field{
		observability.F("outcome", outcome),
		observability.F("status", statusText),
		observability.F("latency_seconds", time.Since(start).Seconds()),
	}
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		fields = append(fields,
			observability.F("trace_id", sc.TraceID().String()),
			observability.F("span_id", sc.SpanID().String()),
		)
	}
	if err != nil {
		fields = append(fields, observability.F("error", err.Error()))
	}
	return fields
}

func settleResultOf(entity *domain.Order) *SettleResult {
	return &SettleResult{
		OrderID:          entity.ID,
		Status:           entity.Status,
		PaymentReference: entity.PaymentReference,
		SettledAt:        entity.SettledAt,
	}
}

func newValidation(msg string) error {
	return fmt.Errorf("%w: %s", ErrValidation, msg)
}
