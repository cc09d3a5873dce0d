// Package vault implements the liquidity pool that takes the other side of
// every position. Trader losses and the pool's share of fees are deposited;
// trader profits are withdrawn. A drawdown breaker guards the pool.
package vault

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/atmx/settlement-engine/internal/guard"
)

var (
	ErrInsufficientLiquidity = errors.New("vault: insufficient liquidity")
	ErrInvalidAmount         = errors.New("vault: amount must not be negative")
)

type reserve struct {
	balance decimal.Decimal
	peak    decimal.Decimal
}

// Pool is an in-memory liquidity vault keyed by collateral asset.
type Pool struct {
	mu       sync.Mutex
	reserves map[string]*reserve
	breaker  *guard.Breaker
}

// NewPool creates an empty pool guarded by breaker. A nil breaker never trips.
func NewPool(breaker *guard.Breaker) *Pool {
	if breaker == nil {
		breaker = &guard.Breaker{}
	}
	return &Pool{
		reserves: make(map[string]*reserve),
		breaker:  breaker,
	}
}

func (p *Pool) reserve(asset string) *reserve {
	r, ok := p.reserves[asset]
	if !ok {
		r = &reserve{}
		p.reserves[asset] = r
	}
	return r
}

// Provide adds liquidity-provider capital and raises the high-water mark.
func (p *Pool) Provide(_ context.Context, asset string, amount decimal.Decimal) error {
	if amount.IsNegative() {
		return fmt.Errorf("%w: %s", ErrInvalidAmount, amount)
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	r := p.reserve(asset)
	r.balance = r.balance.Add(amount)
	r.peak = r.peak.Add(amount)
	slog.Info("liquidity provided", "asset", asset, "amount", amount.String(), "balance", r.balance.String())
	return nil
}

// Redeem removes liquidity-provider capital. The high-water mark drops by
// the same amount so redemptions never register as drawdown.
func (p *Pool) Redeem(_ context.Context, asset string, amount decimal.Decimal) error {
	if amount.IsNegative() {
		return fmt.Errorf("%w: %s", ErrInvalidAmount, amount)
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	r := p.reserve(asset)
	if r.balance.LessThan(amount) {
		return fmt.Errorf("%w: %s has %s, needs %s", ErrInsufficientLiquidity, asset, r.balance, amount)
	}
	r.balance = r.balance.Sub(amount)
	r.peak = decimal.Max(r.peak.Sub(amount), decimal.Zero)
	return nil
}

// Deposit takes trader losses and fee shares into the pool.
func (p *Pool) Deposit(_ context.Context, asset string, amount decimal.Decimal) error {
	if amount.IsNegative() {
		return fmt.Errorf("%w: %s", ErrInvalidAmount, amount)
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	r := p.reserve(asset)
	r.balance = r.balance.Add(amount)
	if r.balance.GreaterThan(r.peak) {
		r.peak = r.balance
	}
	return nil
}

// Withdraw pays trader profits out of the pool.
func (p *Pool) Withdraw(_ context.Context, asset string, amount decimal.Decimal) error {
	if amount.IsNegative() {
		return fmt.Errorf("%w: %s", ErrInvalidAmount, amount)
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	r := p.reserve(asset)
	if r.balance.LessThan(amount) {
		return fmt.Errorf("%w: %s has %s, needs %s", ErrInsufficientLiquidity, asset, r.balance, amount)
	}
	r.balance = r.balance.Sub(amount)
	return nil
}

// Balance returns the pool's balance of asset.
func (p *Pool) Balance(asset string) decimal.Decimal {
	p.mu.Lock()
	defer p.mu.Unlock()
	if r, ok := p.reserves[asset]; ok {
		return r.balance
	}
	return decimal.Zero
}

// Peak returns the high-water mark of asset.
func (p *Pool) Peak(asset string) decimal.Decimal {
	p.mu.Lock()
	defer p.mu.Unlock()
	if r, ok := p.reserves[asset]; ok {
		return r.peak
	}
	return decimal.Zero
}

// CheckSoftBreak reports whether new risk-taking should be blocked.
func (p *Pool) CheckSoftBreak(_ context.Context, asset string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	r := p.reserve(asset)
	return p.breaker.Soft(r.balance, r.peak)
}

// CheckHardBreak reports whether all order activity should be blocked.
func (p *Pool) CheckHardBreak(_ context.Context, asset string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	r := p.reserve(asset)
	return p.breaker.Hard(r.balance, r.peak)
}
