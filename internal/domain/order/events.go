package order

import "time"

// OrderPaidEvent is emitted after a successful settlement. It is consumed by
// fire-and-forget collaborators such as the notification worker.
type OrderPaidEvent struct {
	OrderID          string
	BuyerID          string
	Total            string
	PaymentReference string
	OccurredAt       time.Time
}

func (OrderPaidEvent) EventName() string { return "order.paid" }

func NewOrderPaidEvent(o *Order) OrderPaidEvent {
	return OrderPaidEvent{
		OrderID:          o.ID,
		BuyerID:          o.BuyerID,
		Total:            o.Total.String(),
		PaymentReference: o.PaymentReference,
		OccurredAt:       time.Now().UTC(),
	}
}

// OrderCancelledEvent is emitted when a pending order is cancelled.
type OrderCancelledEvent struct {
	OrderID    string
	BuyerID    string
	OccurredAt time.Time
}

func (OrderCancelledEvent) EventName() string { return "order.cancelled" }

func NewOrderCancelledEvent(o *Order) OrderCancelledEvent {
	return OrderCancelledEvent{
		OrderID:    o.ID,
		BuyerID:    o.BuyerID,
		OccurredAt: time.Now().UTC(),
	}
}
