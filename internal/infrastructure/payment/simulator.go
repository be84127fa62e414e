package payment

import (
	"context"
	"math/rand"
	"sync"
	"time"

	domain "github.com/quillmart/checkout/internal/domain/payment"
	"github.com/shopspring/decimal"
)

// Simulator stands in for the external payment processor. Outcomes are
// drawn from configurable decline/unavailable rates; an optional latency
// lets tests exercise the coordinator's timeout path.
type Simulator struct {
	mu              sync.Mutex
	random          *rand.Rand
	declineRate     float64
	unavailableRate float64
	latency         time.Duration
	newReference    func() string
}

type Option func(*Simulator)

func WithDeclineRate(rate float64) Option {
	return func(s *Simulator) { s.declineRate = rate }
}

func WithUnavailableRate(rate float64) Option {
	return func(s *Simulator) { s.unavailableRate = rate }
}

func WithLatency(d time.Duration) Option {
	return func(s *Simulator) { s.latency = d }
}

func NewSimulator(newReference func() string, opts ...Option) *Simulator {
	s := &Simulator{
		random:       rand.New(rand.NewSource(time.Now().UnixNano())),
		newReference: newReference,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Simulator) ChargeAndConfirm(ctx context.Context, amount decimal.Decimal, paymentMethodToken string, meta domain.Metadata) (string, error) {
	_ = amount
	_ = meta
	if paymentMethodToken == "" {
		return "", domain.ErrDeclined
	}

	if s.latency > 0 {
		select {
		case <-time.After(s.latency):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	s.mu.Lock()
	roll := s.random.Float64()
	s.mu.Unlock()

	switch {
	case roll < s.unavailableRate:
		return "", domain.ErrProcessorUnavailable
	case roll < s.unavailableRate+s.declineRate:
		return "", domain.ErrDeclined
	}

	return s.newReference(), nil
}
