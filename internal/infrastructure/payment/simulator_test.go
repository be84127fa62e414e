package payment

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/quillmart/checkout/internal/domain/payment"
	"github.com/shopspring/decimal"
)

func refGen() func() string {
	return func() string { return "pay-ref-1" }
}

func TestChargeSucceedsByDefault(t *testing.T) {
	s := NewSimulator(refGen())

	reference, err := s.ChargeAndConfirm(context.Background(), decimal.NewFromInt(30), "tok", domain.Metadata{})
	if err != nil {
		t.Fatalf("charge: %v", err)
	}
	if reference != "pay-ref-1" {
		t.Fatalf("expected reference, got %q", reference)
	}
}

func TestChargeRejectsEmptyToken(t *testing.T) {
	s := NewSimulator(refGen())

	if _, err := s.ChargeAndConfirm(context.Background(), decimal.NewFromInt(30), "", domain.Metadata{}); !errors.Is(err, domain.ErrDeclined) {
		t.Fatalf("expected ErrDeclined, got %v", err)
	}
}

func TestChargeDeclineRate(t *testing.T) {
	s := NewSimulator(refGen(), WithDeclineRate(1.0))

	if _, err := s.ChargeAndConfirm(context.Background(), decimal.NewFromInt(30), "tok", domain.Metadata{}); !errors.Is(err, domain.ErrDeclined) {
		t.Fatalf("expected ErrDeclined, got %v", err)
	}
}

func TestChargeUnavailableRate(t *testing.T) {
	s := NewSimulator(refGen(), WithUnavailableRate(1.0))

	if _, err := s.ChargeAndConfirm(context.Background(), decimal.NewFromInt(30), "tok", domain.Metadata{}); !errors.Is(err, domain.ErrProcessorUnavailable) {
		t.Fatalf("expected ErrProcessorUnavailable, got %v", err)
	}
}

func TestChargeHonorsContextDeadline(t *testing.T) {
	s := NewSimulator(refGen(), WithLatency(time.Second))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	if _, err := s.ChargeAndConfirm(ctx, decimal.NewFromInt(30), "tok", domain.Metadata{}); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected DeadlineExceeded, got %v", err)
	}
}
