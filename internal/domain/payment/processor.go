package payment

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
)

var (
	// ErrDeclined means the processor refused the charge; the buyer may
	// retry with a different payment method.
	ErrDeclined = errors.New("payment: declined")
	// ErrProcessorUnavailable covers timeouts and transport failures
	// talking to the external processor.
	ErrProcessorUnavailable = errors.New("payment: processor unavailable")
)

// Metadata tags a charge for reconciliation with the order it settles.
type Metadata struct {
	OrderID string
	BuyerID string
}

// Processor is the outbound port to the external payment processor. Errors
// beyond declined/unavailable are opaque to this core.
type Processor interface {
	ChargeAndConfirm(ctx context.Context, amount decimal.Decimal, paymentMethodToken string, meta Metadata) (reference string, err error)
}
