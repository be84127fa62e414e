package httppresentation

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	appCart "github.com/quillmart/checkout/internal/application/cart"
	appCheckout "github.com/quillmart/checkout/internal/application/checkout"
	domcart "github.com/quillmart/checkout/internal/domain/cart"
	domcatalog "github.com/quillmart/checkout/internal/domain/catalog"
	domorder "github.com/quillmart/checkout/internal/domain/order"
	dompay "github.com/quillmart/checkout/internal/domain/payment"
	"github.com/quillmart/checkout/internal/observability"
	"github.com/quillmart/checkout/internal/observability/logctx"
)

const (
	componentHTTPHandler = "http_server"
	headerBuyerID        = "X-Buyer-ID"
)

type Handler struct {
	cartService     *appCart.Service
	checkoutService *appCheckout.Service
	log             observability.Logger
	tel             observability.Observability
}

func NewHandler(cartSvc *appCart.Service, checkoutSvc *appCheckout.Service, logger observability.Logger,
	tel observability.Observability,
) *Handler {
	baseLogger := logger
	if baseLogger == nil {
		baseLogger = observability.NopLogger()
	}
	return &Handler{
		cartService:     cartSvc,
		checkoutService: checkoutSvc,
		log:             baseLogger.With(observability.F("component", componentHTTPHandler)),
		tel:             tel,
	}
}

func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(ObservabilityMiddleware(h.log, h.tel))

	r.Route("/cart", func(r chi.Router) {
		r.Get("/", h.handleViewCart)
		r.Delete("/", h.handleClearCart)
		r.Post("/items", h.handleAddItem)
		r.Put("/items/{lineID}", h.handleAdjustItem)
		r.Delete("/items/{lineID}", h.handleRemoveItem)
	})

	r.Post("/checkout", h.handleInitiateCheckout)
	r.Post("/checkout/{orderID}/settle", h.handleSettle)
	r.Post("/checkout/{orderID}/cancel", h.handleCancel)
	r.Get("/orders/{orderID}", h.handleGetOrder)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	return r
}

type cartLineResponse struct {
	LineID    string `json:"line_id"`
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
	UnitPrice string `json:"unit_price"`
	Subtotal  string `json:"subtotal"`
}

type cartResponse struct {
	BuyerID string             `json:"buyer_id"`
	Lines   []cartLineResponse `json:"lines"`
	Total   string             `json:"total"`
	Empty   bool               `json:"empty"`
}

func toCartResponse(c *domcart.Cart) cartResponse {
	lines := make([]cartLineResponse, 0, len(c.Lines))
	for _, l := range c.Lines {
		lines = append(lines, cartLineResponse{
			LineID:    l.ID,
			ProductID: l.ProductID,
			Quantity:  l.Quantity,
			UnitPrice: l.UnitPrice.String(),
			Subtotal:  l.Subtotal.String(),
		})
	}
	return cartResponse{
		BuyerID: c.BuyerID,
		Lines:   lines,
		Total:   c.Total.String(),
		Empty:   c.IsEmpty(),
	}
}

type addItemRequest struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

func (h *Handler) handleAddItem(w http.ResponseWriter, r *http.Request) {
	buyerID, ok := h.buyerID(w, r)
	if !ok {
		return
	}
	var req addItemRequest
	if err := decodeJSON(r.Context(), r, &req); err != nil {
		writeErrorKind(w, http.StatusBadRequest, "invalid_input", err)
		return
	}

	c, err := h.cartService.AddItem(r.Context(), buyerID, req.ProductID, req.Quantity)
	if err != nil {
		h.writeDomainError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, toCartResponse(c))
}

type adjustItemRequest struct {
	Op string `json:"op"` // "increase" | "decrease"
}

func (h *Handler) handleAdjustItem(w http.ResponseWriter, r *http.Request) {
	buyerID, ok := h.buyerID(w, r)
	if !ok {
		return
	}
	lineID := chi.URLParam(r, "lineID")

	var req adjustItemRequest
	if err := decodeJSON(r.Context(), r, &req); err != nil {
		writeErrorKind(w, http.StatusBadRequest, "invalid_input", err)
		return
	}

	var (
		c   *domcart.Cart
		err error
	)
	switch req.Op {
	case "increase":
		c, err = h.cartService.IncreaseItem(r.Context(), buyerID, lineID)
	case "decrease":
		c, err = h.cartService.DecreaseItem(r.Context(), buyerID, lineID)
	default:
		writeErrorKind(w, http.StatusBadRequest, "invalid_input", errors.New("op must be increase or decrease"))
		return
	}
	if err != nil {
		h.writeDomainError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, toCartResponse(c))
}

func (h *Handler) handleRemoveItem(w http.ResponseWriter, r *http.Request) {
	buyerID, ok := h.buyerID(w, r)
	if !ok {
		return
	}
	lineID := chi.URLParam(r, "lineID")

	c, err := h.cartService.RemoveItem(r.Context(), buyerID, lineID)
	if err != nil {
		h.writeDomainError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, toCartResponse(c))
}

func (h *Handler) handleClearCart(w http.ResponseWriter, r *http.Request) {
	buyerID, ok := h.buyerID(w, r)
	if !ok {
		return
	}
	if err := h.cartService.Clear(r.Context(), buyerID); err != nil {
		h.writeDomainError(r.Context(), w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleViewCart(w http.ResponseWriter, r *http.Request) {
	buyerID, ok := h.buyerID(w, r)
	if !ok {
		return
	}
	c, err := h.cartService.View(r.Context(), buyerID)
	if err != nil {
		h.writeDomainError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, toCartResponse(c))
}

type checkoutResponse struct {
	OrderID string `json:"order_id"`
	Status  string `json:"status"`
	Total   string `json:"total"`
}

func (h *Handler) handleInitiateCheckout(w http.ResponseWriter, r *http.Request) {
	buyerID, ok := h.buyerID(w, r)
	if !ok {
		return
	}
	result, err := h.checkoutService.InitiateCheckout(r.Context(), buyerID)
	if err != nil {
		h.writeDomainError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusCreated, checkoutResponse{
		OrderID: result.OrderID,
		Status:  string(result.Status),
		Total:   result.Total,
	})
}

type settleRequest struct {
	PaymentMethodToken string `json:"payment_method_token"`
}

type settleResponse struct {
	OrderID          string     `json:"order_id"`
	Status           string     `json:"status"`
	PaymentReference string     `json:"payment_reference"`
	SettledAt        *time.Time `json:"settled_at,omitempty"`
}

func (h *Handler) handleSettle(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderID")

	var req settleRequest
	if err := decodeJSON(r.Context(), r, &req); err != nil {
		writeErrorKind(w, http.StatusBadRequest, "invalid_input", err)
		return
	}

	result, err := h.checkoutService.Settle(r.Context(), orderID, req.PaymentMethodToken)
	if err != nil {
		h.writeDomainError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, settleResponse{
		OrderID:          result.OrderID,
		Status:           string(result.Status),
		PaymentReference: result.PaymentReference,
		SettledAt:        result.SettledAt,
	})
}

func (h *Handler) handleCancel(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderID")

	if err := h.checkoutService.Cancel(r.Context(), orderID); err != nil {
		h.writeDomainError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"order_id": orderID,
		"status":   string(domorder.StatusCancelled),
	})
}

type orderLineResponse struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
	UnitPrice string `json:"unit_price_at_purchase"`
	Subtotal  string `json:"subtotal"`
}

type orderResponse struct {
	OrderID          string              `json:"order_id"`
	BuyerID          string              `json:"buyer_id"`
	Lines            []orderLineResponse `json:"lines"`
	Total            string              `json:"total"`
	Status           string              `json:"status"`
	PaymentReference string              `json:"payment_reference,omitempty"`
	FailureReason    string              `json:"failure_reason,omitempty"`
	CreatedAt        time.Time           `json:"created_at"`
	SettledAt        *time.Time          `json:"settled_at,omitempty"`
}

func (h *Handler) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderID")

	entity, err := h.checkoutService.GetOrder(r.Context(), orderID)
	if err != nil {
		h.writeDomainError(r.Context(), w, err)
		return
	}

	lines := make([]orderLineResponse, 0, len(entity.Lines))
	for _, l := range entity.Lines {
		lines = append(lines, orderLineResponse{
			ProductID: l.ProductID,
			Quantity:  l.Quantity,
			UnitPrice: l.UnitPrice.String(),
			Subtotal:  l.Subtotal.String(),
		})
	}
	writeJSON(w, http.StatusOK, orderResponse{
		OrderID:          entity.ID,
		BuyerID:          entity.BuyerID,
		Lines:            lines,
		Total:            entity.Total.String(),
		Status:           string(entity.Status),
		PaymentReference: entity.PaymentReference,
		FailureReason:    entity.FailureReason,
		CreatedAt:        entity.CreatedAt,
		SettledAt:        entity.SettledAt,
	})
}

func (h *Handler) buyerID(w http.ResponseWriter, r *http.Request) (string, bool) {
	buyerID := r.Header.Get(headerBuyerID)
	if buyerID == "" {
		writeErrorKind(w, http.StatusBadRequest, "invalid_input", errors.New("missing "+headerBuyerID+" header"))
		return "", false
	}
	return buyerID, true
}

// writeDomainError maps domain errors to HTTP statuses and stable error
// kinds, never a bare boolean or opaque 500.
func (h *Handler) writeDomainError(ctx context.Context, w http.ResponseWriter, err error) {
	var insufficient *domcatalog.InsufficientStockError
	switch {
	case errors.As(err, &insufficient):
		writeJSON(w, http.StatusConflict, errorResponse{
			Kind:      "insufficient_stock",
			Message:   insufficient.Error(),
			ProductID: insufficient.ProductID,
			Available: &insufficient.Available,
		})
	case errors.Is(err, domcatalog.ErrProductUnavailable), errors.Is(err, domcatalog.ErrNotFound):
		writeErrorKind(w, http.StatusUnprocessableEntity, "product_unavailable", err)
	case errors.Is(err, domcart.ErrInvalidQuantity), errors.Is(err, domcatalog.ErrInvalidQuantity):
		writeErrorKind(w, http.StatusBadRequest, "invalid_input", err)
	case errors.Is(err, domcart.ErrLineNotFound):
		writeErrorKind(w, http.StatusNotFound, "not_found", err)
	case errors.Is(err, domorder.ErrEmptyCart):
		writeErrorKind(w, http.StatusUnprocessableEntity, "empty_cart", err)
	case errors.Is(err, domorder.ErrNotFound):
		writeErrorKind(w, http.StatusNotFound, "not_found", err)
	case errors.Is(err, domorder.ErrAlreadySettled), errors.Is(err, domorder.ErrInvalidStateTransition):
		writeErrorKind(w, http.StatusConflict, "order_already_settled", err)
	case errors.Is(err, dompay.ErrDeclined):
		writeErrorKind(w, http.StatusPaymentRequired, "payment_declined", err)
	case errors.Is(err, dompay.ErrProcessorUnavailable):
		writeErrorKind(w, http.StatusBadGateway, "payment_processor_unavailable", err)
	case errors.Is(err, appCart.ErrValidation), errors.Is(err, appCheckout.ErrValidation):
		writeErrorKind(w, http.StatusBadRequest, "invalid_input", err)
	default:
		logger := logctx.FromOr(ctx, h.log)
		logger.Error("internal_error", observability.F("error", err))
		writeErrorKind(w, http.StatusInternalServerError, "internal", errors.New("internal error"))
	}
}

type errorResponse struct {
	Kind      string `json:"error_kind"`
	Message   string `json:"message"`
	ProductID string `json:"product_id,omitempty"`
	Available *int   `json:"available,omitempty"`
}

func writeErrorKind(w http.ResponseWriter, status int, kind string, err error) {
	writeJSON(w, status, errorResponse{Kind: kind, Message: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func decodeJSON(ctx context.Context, r *http.Request, dst any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return errors.New("invalid request body")
	}
	return nil
}

