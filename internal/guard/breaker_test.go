package guard

import (
	"testing"

	"github.com/shopspring/decimal"
)

func d(v int64) decimal.Decimal {
	return decimal.NewFromInt(v)
}

func TestDrawdown(t *testing.T) {
	got := Drawdown(d(750), d(1000))
	if !got.Equal(d(250_000)) {
		t.Errorf("expected 250000, got %s", got)
	}
}

func TestDrawdown_AbovePeak(t *testing.T) {
	if got := Drawdown(d(1200), d(1000)); !got.IsZero() {
		t.Errorf("expected zero drawdown, got %s", got)
	}
	if got := Drawdown(d(0), d(0)); !got.IsZero() {
		t.Errorf("expected zero drawdown for empty pool, got %s", got)
	}
}

func TestCheck_WithinLimits(t *testing.T) {
	b, err := NewBreaker(d(200_000), d(500_000))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := b.Check(d(900), d(1000)); err != nil {
		t.Errorf("expected no error, got %v", err)
	}
}

func TestCheck_SoftBreak(t *testing.T) {
	b, _ := NewBreaker(d(200_000), d(500_000))

	// 25% drawdown: past soft, short of hard.
	if err := b.Check(d(750), d(1000)); err != ErrSoftBreak {
		t.Errorf("expected ErrSoftBreak, got %v", err)
	}
	if !b.Soft(d(750), d(1000)) {
		t.Error("expected soft break")
	}
	if b.Hard(d(750), d(1000)) {
		t.Error("expected no hard break")
	}
}

func TestCheck_HardBreak(t *testing.T) {
	b, _ := NewBreaker(d(200_000), d(500_000))

	if err := b.Check(d(400), d(1000)); err != ErrHardBreak {
		t.Errorf("expected ErrHardBreak, got %v", err)
	}
	// A hard break implies soft.
	if !b.Soft(d(400), d(1000)) || !b.Hard(d(400), d(1000)) {
		t.Error("expected soft and hard break")
	}
}

func TestCheck_Disabled(t *testing.T) {
	b, _ := NewBreaker(decimal.Zero, decimal.Zero)
	if err := b.Check(d(1), d(1000)); err != nil {
		t.Errorf("expected disabled breaker, got %v", err)
	}
}

func TestNewBreaker_Invalid(t *testing.T) {
	if _, err := NewBreaker(d(500_000), d(200_000)); err != ErrInvalidThresholds {
		t.Errorf("expected ErrInvalidThresholds, got %v", err)
	}
	if _, err := NewBreaker(d(-1), d(200_000)); err != ErrInvalidThresholds {
		t.Errorf("expected ErrInvalidThresholds, got %v", err)
	}
}
