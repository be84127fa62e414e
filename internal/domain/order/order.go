package order

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrNotFound               = errors.New("order: not found")
	ErrEmptyCart              = errors.New("order: cart has no lines")
	ErrAlreadySettled         = errors.New("order: already settled")
	ErrInvalidStateTransition = errors.New("order: invalid state transition")
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusPaid      Status = "paid"
	StatusCancelled Status = "cancelled"
)

// Line is a frozen copy of a cart line at checkout time. Prices are never
// re-read from the catalog after creation.
type Line struct {
	ProductID string
	Quantity  int
	UnitPrice decimal.Decimal
	Subtotal  decimal.Decimal
}

// Order is the authoritative record of a purchase. Total is fixed at
// creation; once paid the order is immutable within this core.
type Order struct {
	ID               string
	BuyerID          string
	Lines            []Line
	Total            decimal.Decimal
	Status           Status
	PaymentReference string
	// FailureReason holds the machine-readable reason of the last failed
	// settle attempt while the order is still pending.
	FailureReason string
	CreatedAt     time.Time
	SettledAt     *time.Time
	UpdatedAt     time.Time

	state OrderState
}

// New snapshots the given lines into a pending order. Total is the sum of
// line subtotals and is not recomputed afterwards.
func New(id, buyerID string, lines []Line) (*Order, error) {
	if len(lines) == 0 {
		return nil, ErrEmptyCart
	}
	total := decimal.Zero
	copied := make([]Line, len(lines))
	for i, l := range lines {
		copied[i] = l
		copied[i].Subtotal = l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
		total = total.Add(copied[i].Subtotal)
	}

	now := time.Now().UTC()
	return &Order{
		ID:        id,
		BuyerID:   buyerID,
		Lines:     copied,
		Total:     total,
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
		state:     pendingState{},
	}, nil
}

// MarkPaid transitions pending -> paid, recording the processor reference
// and settlement time.
func (o *Order) MarkPaid(paymentReference string, settledAt time.Time) error {
	next, err := o.currentState().OnPaymentSucceeded(o, paymentReference, settledAt)
	if err != nil {
		return err
	}
	o.applyState(next)
	return nil
}

// MarkSettleFailed keeps the order pending and records why the last settle
// attempt failed so the buyer can adjust and retry.
func (o *Order) MarkSettleFailed(reason string) error {
	next, err := o.currentState().OnSettleFailed(o, reason)
	if err != nil {
		return err
	}
	o.applyState(next)
	return nil
}

// MarkCancelled transitions pending -> cancelled. No ledger restoration is
// needed because stock is only decremented inside a successful settle.
func (o *Order) MarkCancelled() error {
	next, err := o.currentState().OnCancelled(o)
	if err != nil {
		return err
	}
	o.applyState(next)
	return nil
}

func (o *Order) IsPending() bool { return o.Status == StatusPending }
func (o *Order) IsPaid() bool    { return o.Status == StatusPaid }

func (o *Order) currentState() OrderState {
	if o.state == nil {
		o.state = stateFor(o.Status)
	}
	return o.state
}

func (o *Order) applyState(next OrderState) {
	o.state = next
	o.Status = next.Status()
	o.touch()
}

func (o *Order) touch() {
	o.UpdatedAt = time.Now().UTC()
}

func (o *Order) Clone() *Order {
	if o == nil {
		return nil
	}
	clone := *o
	clone.Lines = append([]Line(nil), o.Lines...)
	if o.SettledAt != nil {
		t := *o.SettledAt
		clone.SettledAt = &t
	}
	return &clone
}
