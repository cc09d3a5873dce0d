// Package guard implements the pool drawdown circuit breaker.
//
// A pool tracks its high-water mark. Once the current balance falls far
// enough below that peak the breaker trips:
//   - soft break: new risk-taking (position increases) is blocked
//   - hard break: all order activity on the pool is blocked
//
// Thresholds are expressed in the fixed-point precision used throughout
// the engine, so 200_000 means a 20% drawdown.
package guard

import (
	"errors"

	"github.com/shopspring/decimal"

	"github.com/atmx/settlement-engine/internal/calc"
)

var (
	// ErrSoftBreak is returned when drawdown exceeds the soft threshold.
	ErrSoftBreak = errors.New("guard: soft break tripped")

	// ErrHardBreak is returned when drawdown exceeds the hard threshold.
	ErrHardBreak = errors.New("guard: hard break tripped")

	ErrInvalidThresholds = errors.New("guard: soft threshold must not exceed hard threshold")
)

// Breaker evaluates drawdown against a soft and a hard threshold.
// A zero threshold disables that level.
type Breaker struct {
	SoftDrawdown decimal.Decimal
	HardDrawdown decimal.Decimal
}

// NewBreaker creates a breaker with the given thresholds.
func NewBreaker(soft, hard decimal.Decimal) (*Breaker, error) {
	if soft.IsNegative() || hard.IsNegative() {
		return nil, ErrInvalidThresholds
	}
	if soft.IsPositive() && hard.IsPositive() && soft.GreaterThan(hard) {
		return nil, ErrInvalidThresholds
	}
	return &Breaker{SoftDrawdown: soft, HardDrawdown: hard}, nil
}

// Drawdown returns (peak - balance) / peak in fixed-point precision.
// An empty or growing pool has zero drawdown.
func Drawdown(balance, peak decimal.Decimal) decimal.Decimal {
	if !peak.IsPositive() || balance.GreaterThanOrEqual(peak) {
		return decimal.Zero
	}
	return calc.MulDiv(peak.Sub(balance), calc.Precision, peak)
}

// Check returns ErrHardBreak or ErrSoftBreak if the drawdown has
// reached the respective threshold, nil otherwise.
func (b *Breaker) Check(balance, peak decimal.Decimal) error {
	dd := Drawdown(balance, peak)

	if b.HardDrawdown.IsPositive() && dd.GreaterThanOrEqual(b.HardDrawdown) {
		return ErrHardBreak
	}
	if b.SoftDrawdown.IsPositive() && dd.GreaterThanOrEqual(b.SoftDrawdown) {
		return ErrSoftBreak
	}
	return nil
}

// Soft reports whether the soft level (or worse) is tripped.
func (b *Breaker) Soft(balance, peak decimal.Decimal) bool {
	return b.Check(balance, peak) != nil
}

// Hard reports whether the hard level is tripped.
func (b *Breaker) Hard(balance, peak decimal.Decimal) bool {
	return errors.Is(b.Check(balance, peak), ErrHardBreak)
}
