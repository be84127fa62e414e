package notification

import (
	"context"

	domorder "github.com/quillmart/checkout/internal/domain/order"
	domoutbox "github.com/quillmart/checkout/internal/domain/outbox"
	"github.com/quillmart/checkout/internal/observability"
	"github.com/quillmart/checkout/internal/observability/logctx"
)

const componentNotification = "notification_worker"

// Worker informs buyers of paid/cancelled transitions. Delivery is
// fire-and-forget: its failure never affects settlement outcome.
type Worker struct {
	subscriber domoutbox.Subscriber
	log        observability.Logger
}

func New(subscriber domoutbox.Subscriber, logger observability.Logger) *Worker {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Worker{
		subscriber: subscriber,
		log:        logger.With(observability.F("component", componentNotification)),
	}
}

func (w *Worker) Start() {
	if w.subscriber == nil {
		return
	}
	w.subscriber.Subscribe(domorder.OrderPaidEvent{}.EventName(), w.handleOrderPaid)
	w.subscriber.Subscribe(domorder.OrderCancelledEvent{}.EventName(), w.handleOrderCancelled)
}

func (w *Worker) handleOrderPaid(ctx context.Context, e domoutbox.Event) error {
	evt, ok := e.(domorder.OrderPaidEvent)
	if !ok {
		return nil
	}

	// Stand-in for email/websocket delivery.
	logger := logctx.FromOr(ctx, w.log)
	logger.Info("notify_order_paid",
		observability.F("order_id", evt.OrderID),
		observability.F("buyer_id", evt.BuyerID),
		observability.F("total", evt.Total),
		observability.F("payment_reference", evt.PaymentReference),
	)
	return nil
}

func (w *Worker) handleOrderCancelled(ctx context.Context, e domoutbox.Event) error {
	evt, ok := e.(domorder.OrderCancelledEvent)
	if !ok {
		return nil
	}

	logger := logctx.FromOr(ctx, w.log)
	logger.Info("notify_order_cancelled",
		observability.F("order_id", evt.OrderID),
		observability.F("buyer_id", evt.BuyerID),
	)
	return nil
}
