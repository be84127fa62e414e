package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	appCart "github.com/quillmart/checkout/internal/application/cart"
	appCheckout "github.com/quillmart/checkout/internal/application/checkout"
	domcatalog "github.com/quillmart/checkout/internal/domain/catalog"
	"github.com/quillmart/checkout/internal/infrastructure/config"
	"github.com/quillmart/checkout/internal/infrastructure/id"
	"github.com/quillmart/checkout/internal/infrastructure/memory"
	"github.com/quillmart/checkout/internal/infrastructure/notification"
	"github.com/quillmart/checkout/internal/infrastructure/observability/oteltrace"
	"github.com/quillmart/checkout/internal/infrastructure/observability/prometrics"
	"github.com/quillmart/checkout/internal/infrastructure/observability/telemetry"
	"github.com/quillmart/checkout/internal/infrastructure/observability/zaplogger"
	"github.com/quillmart/checkout/internal/infrastructure/outbox"
	paymentinfra "github.com/quillmart/checkout/internal/infrastructure/payment"
	"github.com/quillmart/checkout/internal/observability"
	"github.com/quillmart/checkout/internal/pkg/logging"
	httppresentation "github.com/quillmart/checkout/internal/presentation/http"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

func main() {
	cfg := config.Load()

	baseLogger := logging.MustNewLogger(cfg.ServiceName, cfg.Env)
	defer func() { _ = baseLogger.Sync() }()
	zap.ReplaceGlobals(baseLogger)

	obsLogger := zaplogger.New(baseLogger)

	registry := prometrics.New("quillmart", "checkout")
	counters := map[observability.MetricKey]observability.Counter{
		observability.MUsecaseRequests: registry.Counter(
			string(observability.MUsecaseRequests),
			"Total number of use case invocations.",
			"use_case", "outcome",
		),
		observability.MHTTPRequests: registry.Counter(
			string(observability.MHTTPRequests),
			"Total number of HTTP requests.",
			"method", "route", "status",
		),
		observability.MExternalRequests: registry.Counter(
			string(observability.MExternalRequests),
			"Total number of calls to external collaborators.",
			"peer", "endpoint", "outcome",
		),
		observability.MSettlements: registry.Counter(
			string(observability.MSettlements),
			"Total number of settlement attempts.",
			"outcome",
		),
		observability.MCompensations: registry.Counter(
			string(observability.MCompensations),
			"Total number of stock compensation runs.",
			"stage",
		),
	}
	histograms := map[observability.MetricKey]observability.Histogram{
		observability.MUsecaseDuration: registry.Histogram(
			string(observability.MUsecaseDuration),
			"Duration of use case execution in seconds.",
			nil,
			"use_case",
		),
		observability.MHTTPRequestDuration: registry.Histogram(
			string(observability.MHTTPRequestDuration),
			"Duration of HTTP requests in seconds.",
			nil,
			"method", "route", "status",
		),
		observability.MExternalRequestDuration: registry.Histogram(
			string(observability.MExternalRequestDuration),
			"Duration of calls to external collaborators in seconds.",
			nil,
			"peer", "endpoint",
		),
	}

	tel := telemetry.New(oteltrace.New(cfg.ServiceName), obsLogger, counters, histograms)

	productRepo := memory.NewProductRepository()
	cartRepo := memory.NewCartRepository()
	orderRepo := memory.NewOrderRepository()
	idGenerator := id.NewUUIDGenerator()

	if cfg.Env == "dev" {
		seedDemoProducts(productRepo, baseLogger)
	}

	bus := outbox.NewBus(obsLogger)
	bus.Start(context.Background())
	defer bus.Stop(context.Background())

	processor := paymentinfra.NewSimulator(idGenerator.NewID,
		paymentinfra.WithDeclineRate(cfg.PaymentDeclineRate),
		paymentinfra.WithUnavailableRate(cfg.PaymentUnavailableRate),
	)

	cartService := appCart.NewService(cartRepo, productRepo, idGenerator, obsLogger)
	checkoutService := appCheckout.NewService(
		orderRepo,
		cartRepo,
		productRepo,
		processor,
		idGenerator,
		bus,
		tel,
		cfg.PaymentTimeout,
	)

	notificationWorker := notification.New(bus, obsLogger)
	notificationWorker.Start()

	handler := httppresentation.NewHandler(cartService, checkoutService, obsLogger, tel)
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/", handler.Router())

	server := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: mux,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		baseLogger.Info("http_server_start",
			zap.String("addr", server.Addr),
		)
		err := server.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			baseLogger.Error("http_server_error",
				zap.Error(err),
			)
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		baseLogger.Error("http_server_shutdown_error",
			zap.Error(err),
		)
	} else {
		baseLogger.Info("http_server_stopped")
	}
}

func seedDemoProducts(repo *memory.ProductRepository, logger *zap.Logger) {
	demo := []struct {
		id    string
		name  string
		price string
		stock int
	}{
		{"prod-notebook", "Dotted notebook", "12.50", 40},
		{"prod-fountain-pen", "Fountain pen", "89.00", 5},
		{"prod-ink-bottle", "Ink bottle 50ml", "14.90", 25},
	}
	for _, d := range demo {
		price, err := decimal.NewFromString(d.price)
		if err != nil {
			logger.Warn("seed_price_invalid", zap.String("product_id", d.id), zap.Error(err))
			continue
		}
		product, err := domcatalog.NewProduct(d.id, d.name, price, d.stock)
		if err != nil {
			logger.Warn("seed_product_invalid", zap.String("product_id", d.id), zap.Error(err))
			continue
		}
		if err := repo.Seed(context.Background(), product); err != nil {
			logger.Warn("seed_failed", zap.String("product_id", d.id), zap.Error(err))
		}
	}
	logger.Info("demo_products_seeded", zap.Int("count", len(demo)))
}
