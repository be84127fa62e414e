package order

import "time"

// OrderState implements the state pattern for order lifecycle transitions.
// There is no transition out of paid or cancelled within this core.
type OrderState interface {
	Status() Status
	OnPaymentSucceeded(o *Order, reference string, settledAt time.Time) (OrderState, error)
	OnSettleFailed(o *Order, reason string) (OrderState, error)
	OnCancelled(o *Order) (OrderState, error)
}

func stateFor(s Status) OrderState {
	switch s {
	case StatusPaid:
		return paidState{}
	case StatusCancelled:
		return cancelledState{}
	default:
		return pendingState{}
	}
}

type pendingState struct{}

func (pendingState) Status() Status { return StatusPending }

func (pendingState) OnPaymentSucceeded(o *Order, reference string, settledAt time.Time) (OrderState, error) {
	o.PaymentReference = reference
	at := settledAt.UTC()
	o.SettledAt = &at
	o.FailureReason = ""
	return paidState{}, nil
}

// OnSettleFailed keeps the order pending: stock insufficiency and processor
// failures are recoverable, the buyer may retry.
func (pendingState) OnSettleFailed(o *Order, reason string) (OrderState, error) {
	o.FailureReason = reason
	return pendingState{}, nil
}

func (pendingState) OnCancelled(o *Order) (OrderState, error) {
	o.FailureReason = ""
	return cancelledState{}, nil
}

type paidState struct{}

func (paidState) Status() Status { return StatusPaid }

func (paidState) OnPaymentSucceeded(*Order, string, time.Time) (OrderState, error) {
	return nil, ErrAlreadySettled
}

func (paidState) OnSettleFailed(*Order, string) (OrderState, error) {
	return nil, ErrAlreadySettled
}

func (paidState) OnCancelled(*Order) (OrderState, error) {
	return nil, ErrInvalidStateTransition
}

type cancelledState struct{}

func (cancelledState) Status() Status { return StatusCancelled }

func (cancelledState) OnPaymentSucceeded(*Order, string, time.Time) (OrderState, error) {
	return nil, ErrAlreadySettled
}

func (cancelledState) OnSettleFailed(*Order, string) (OrderState, error) {
	return nil, ErrAlreadySettled
}

func (cancelledState) OnCancelled(*Order) (OrderState, error) {
	return cancelledState{}, nil
}
