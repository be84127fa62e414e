package httppresentation_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	appCart "github.com/quillmart/checkout/internal/application/cart"
	appCheckout "github.com/quillmart/checkout/internal/application/checkout"
	domcatalog "github.com/quillmart/checkout/internal/domain/catalog"
	"github.com/quillmart/checkout/internal/infrastructure/memory"
	paymentinfra "github.com/quillmart/checkout/internal/infrastructure/payment"
	httppresentation "github.com/quillmart/checkout/internal/presentation/http"
	"github.com/shopspring/decimal"
)

type seqIDGenerator struct{ n atomic.Int64 }

func (g *seqIDGenerator) NewID() string {
	return fmt.Sprintf("id-%d", g.n.Add(1))
}

func newTestServer(t *testing.T, opts ...paymentinfra.Option) (*httptest.Server, *memory.ProductRepository) {
	t.Helper()

	products := memory.NewProductRepository()
	carts := memory.NewCartRepository()
	orders := memory.NewOrderRepository()
	idGen := &seqIDGenerator{}

	processor := paymentinfra.NewSimulator(idGen.NewID, opts...)
	cartSvc := appCart.NewService(carts, products, idGen, nil)
	checkoutSvc := appCheckout.NewService(orders, carts, products, processor, idGen, nil, nil, time.Second)

	handler := httppresentation.NewHandler(cartSvc, checkoutSvc, nil, nil)
	server := httptest.NewServer(handler.Router())
	t.Cleanup(server.Close)
	return server, products
}

func seedProduct(t *testing.T, repo *memory.ProductRepository, id, price string, stock int) {
	t.Helper()
	product, err := domcatalog.NewProduct(id, id, decimal.RequireFromString(price), stock)
	if err != nil {
		t.Fatalf("new product: %v", err)
	}
	if err := repo.Seed(context.Background(), product); err != nil {
		t.Fatalf("seed: %v", err)
	}
}

func doJSON(t *testing.T, method, url, buyerID string, body any) (*http.Response, map[string]any) {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req, err := http.NewRequest(method, url, &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if buyerID != "" {
		req.Header.Set("X-Buyer-ID", buyerID)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })

	decoded := map[string]any{}
	if resp.StatusCode != http.StatusNoContent {
		if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
			t.Fatalf("decode response: %v", err)
		}
	}
	return resp, decoded
}

func TestMissingBuyerHeader(t *testing.T) {
	server, _ := newTestServer(t)

	resp, body := doJSON(t, http.MethodGet, server.URL+"/cart", "", nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
	if body["error_kind"] != "invalid_input" {
		t.Fatalf("expected invalid_input, got %v", body["error_kind"])
	}
}

func TestAddItemInsufficientStock(t *testing.T) {
	server, products := newTestServer(t)
	seedProduct(t, products, "prod-a", "10.00", 3)

	resp, body := doJSON(t, http.MethodPost, server.URL+"/cart/items", "buyer-1",
		map[string]any{"product_id": "prod-a", "quantity": 5})
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409, got %d", resp.StatusCode)
	}
	if body["error_kind"] != "insufficient_stock" {
		t.Fatalf("expected insufficient_stock, got %v", body["error_kind"])
	}
	if body["product_id"] != "prod-a" {
		t.Fatalf("expected product_id in payload, got %v", body["product_id"])
	}
	if body["available"] != float64(3) {
		t.Fatalf("expected available 3, got %v", body["available"])
	}
}

func TestAddItemUnknownProduct(t *testing.T) {
	server, _ := newTestServer(t)

	resp, body := doJSON(t, http.MethodPost, server.URL+"/cart/items", "buyer-1",
		map[string]any{"product_id": "missing", "quantity": 1})
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", resp.StatusCode)
	}
	if body["error_kind"] != "product_unavailable" {
		t.Fatalf("expected product_unavailable, got %v", body["error_kind"])
	}
}

func TestCheckoutEmptyCart(t *testing.T) {
	server, _ := newTestServer(t)

	resp, body := doJSON(t, http.MethodPost, server.URL+"/checkout", "buyer-1", nil)
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", resp.StatusCode)
	}
	if body["error_kind"] != "empty_cart" {
		t.Fatalf("expected empty_cart, got %v", body["error_kind"])
	}
}

func TestSettleUnknownOrder(t *testing.T) {
	server, _ := newTestServer(t)

	resp, body := doJSON(t, http.MethodPost, server.URL+"/checkout/missing/settle", "",
		map[string]any{"payment_method_token": "tok"})
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
	if body["error_kind"] != "not_found" {
		t.Fatalf("expected not_found, got %v", body["error_kind"])
	}
}

func TestFullCheckoutFlow(t *testing.T) {
	server, products := newTestServer(t)
	seedProduct(t, products, "prod-x", "10.00", 5)

	resp, cart := doJSON(t, http.MethodPost, server.URL+"/cart/items", "buyer-1",
		map[string]any{"product_id": "prod-x", "quantity": 3})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("add item: expected 200, got %d", resp.StatusCode)
	}
	if cart["total"] != "30.00" {
		t.Fatalf("expected cart total 30.00, got %v", cart["total"])
	}

	resp, checkout := doJSON(t, http.MethodPost, server.URL+"/checkout", "buyer-1", nil)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("checkout: expected 201, got %d", resp.StatusCode)
	}
	orderID, _ := checkout["order_id"].(string)
	if orderID == "" {
		t.Fatalf("expected order_id, got %v", checkout)
	}
	if checkout["status"] != "pending" {
		t.Fatalf("expected pending, got %v", checkout["status"])
	}

	resp, settled := doJSON(t, http.MethodPost, server.URL+"/checkout/"+orderID+"/settle", "",
		map[string]any{"payment_method_token": "tok-ok"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("settle: expected 200, got %d (%v)", resp.StatusCode, settled)
	}
	if settled["status"] != "paid" {
		t.Fatalf("expected paid, got %v", settled["status"])
	}
	if settled["payment_reference"] == "" {
		t.Fatalf("expected payment reference")
	}

	resp, order := doJSON(t, http.MethodGet, server.URL+"/orders/"+orderID, "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get order: expected 200, got %d", resp.StatusCode)
	}
	if order["status"] != "paid" || order["total"] != "30.00" {
		t.Fatalf("unexpected order payload: %v", order)
	}

	resp, cart = doJSON(t, http.MethodGet, server.URL+"/cart", "buyer-1", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("view cart: expected 200, got %d", resp.StatusCode)
	}
	if cart["empty"] != true {
		t.Fatalf("expected cart cleared after settle, got %v", cart)
	}
}

func TestSettleDeclinedPayment(t *testing.T) {
	server, products := newTestServer(t, paymentinfra.WithDeclineRate(1.0))
	seedProduct(t, products, "prod-x", "10.00", 5)

	if resp, _ := doJSON(t, http.MethodPost, server.URL+"/cart/items", "buyer-1",
		map[string]any{"product_id": "prod-x", "quantity": 1}); resp.StatusCode != http.StatusOK {
		t.Fatalf("add item: got %d", resp.StatusCode)
	}
	_, checkout := doJSON(t, http.MethodPost, server.URL+"/checkout", "buyer-1", nil)
	orderID, _ := checkout["order_id"].(string)

	resp, body := doJSON(t, http.MethodPost, server.URL+"/checkout/"+orderID+"/settle", "",
		map[string]any{"payment_method_token": "tok"})
	if resp.StatusCode != http.StatusPaymentRequired {
		t.Fatalf("expected 402, got %d", resp.StatusCode)
	}
	if body["error_kind"] != "payment_declined" {
		t.Fatalf("expected payment_declined, got %v", body["error_kind"])
	}

	// The failed attempt is visible on the pending order.
	_, order := doJSON(t, http.MethodGet, server.URL+"/orders/"+orderID, "", nil)
	if order["status"] != "pending" || order["failure_reason"] != "payment_declined" {
		t.Fatalf("unexpected order payload: %v", order)
	}
}

func TestCancelThenSettleConflicts(t *testing.T) {
	server, products := newTestServer(t)
	seedProduct(t, products, "prod-x", "10.00", 5)

	if resp, _ := doJSON(t, http.MethodPost, server.URL+"/cart/items", "buyer-1",
		map[string]any{"product_id": "prod-x", "quantity": 1}); resp.StatusCode != http.StatusOK {
		t.Fatalf("add item: got %d", resp.StatusCode)
	}
	_, checkout := doJSON(t, http.MethodPost, server.URL+"/checkout", "buyer-1", nil)
	orderID, _ := checkout["order_id"].(string)

	resp, cancelled := doJSON(t, http.MethodPost, server.URL+"/checkout/"+orderID+"/cancel", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("cancel: expected 200, got %d", resp.StatusCode)
	}
	if cancelled["status"] != "cancelled" {
		t.Fatalf("expected cancelled, got %v", cancelled["status"])
	}

	resp, body := doJSON(t, http.MethodPost, server.URL+"/checkout/"+orderID+"/settle", "",
		map[string]any{"payment_method_token": "tok"})
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409, got %d", resp.StatusCode)
	}
	if body["error_kind"] != "order_already_settled" {
		t.Fatalf("expected order_already_settled, got %v", body["error_kind"])
	}
}

func TestAdjustItemOps(t *testing.T) {
	server, products := newTestServer(t)
	seedProduct(t, products, "prod-x", "10.00", 5)

	_, cart := doJSON(t, http.MethodPost, server.URL+"/cart/items", "buyer-1",
		map[string]any{"product_id": "prod-x", "quantity": 1})
	lines, _ := cart["lines"].([]any)
	if len(lines) != 1 {
		t.Fatalf("expected one line, got %v", cart)
	}
	lineID, _ := lines[0].(map[string]any)["line_id"].(string)

	resp, cart := doJSON(t, http.MethodPut, server.URL+"/cart/items/"+lineID, "buyer-1",
		map[string]any{"op": "increase"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("increase: expected 200, got %d", resp.StatusCode)
	}
	if cart["total"] != "20.00" {
		t.Fatalf("expected total 20.00, got %v", cart["total"])
	}

	resp, body := doJSON(t, http.MethodPut, server.URL+"/cart/items/"+lineID, "buyer-1",
		map[string]any{"op": "noop"})
	if resp.StatusCode != http.StatusBadRequest || body["error_kind"] != "invalid_input" {
		t.Fatalf("expected 400 invalid_input, got %d %v", resp.StatusCode, body)
	}
}
