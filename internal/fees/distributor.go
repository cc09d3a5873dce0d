// Package fees splits trading fees between referrers, the liquidity pool,
// stakers and the treasury.
package fees

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/atmx/settlement-engine/internal/calc"
)

var (
	ErrInvalidSplit  = errors.New("fees: shares must be non-negative and sum to precision")
	ErrInvalidRebate = errors.New("fees: rebate must be within [0, precision]")
	ErrSelfReferral  = errors.New("fees: account cannot refer itself")
)

// PoolDepositor receives the pool's share of fees.
type PoolDepositor interface {
	Deposit(ctx context.Context, asset string, amount decimal.Decimal) error
}

// Crediter pays fee shares into accounts.
type Crediter interface {
	Credit(ctx context.Context, account, asset string, amount decimal.Decimal) error
}

// Split holds the fee shares over calc.Precision.
type Split struct {
	Pool     decimal.Decimal `json:"pool"`
	Stake    decimal.Decimal `json:"stake"`
	Treasury decimal.Decimal `json:"treasury"`
}

// Validate checks that the shares cover the whole fee.
func (s Split) Validate() error {
	if s.Pool.IsNegative() || s.Stake.IsNegative() || s.Treasury.IsNegative() {
		return ErrInvalidSplit
	}
	if !s.Pool.Add(s.Stake).Add(s.Treasury).Equal(calc.Precision) {
		return ErrInvalidSplit
	}
	return nil
}

// Config configures a Distributor.
type Config struct {
	Split           Split
	Rebate          decimal.Decimal // referrer share over calc.Precision
	StakeAccount    string
	TreasuryAccount string
}

// Distribution is the breakdown of one fee deposit.
type Distribution struct {
	Referrer string
	Rebate   decimal.Decimal
	Pool     decimal.Decimal
	Stake    decimal.Decimal
	Treasury decimal.Decimal
}

// Distributor implements fee distribution with referral rebates.
type Distributor struct {
	pool   PoolDepositor
	wallet Crediter
	cfg    Config

	mu        sync.RWMutex
	referrers map[string]string // account -> referrer
}

// NewDistributor validates cfg and creates a distributor.
func NewDistributor(pool PoolDepositor, wallet Crediter, cfg Config) (*Distributor, error) {
	if err := cfg.Split.Validate(); err != nil {
		return nil, err
	}
	if cfg.Rebate.IsNegative() || cfg.Rebate.GreaterThan(calc.Precision) {
		return nil, ErrInvalidRebate
	}
	return &Distributor{
		pool:      pool,
		wallet:    wallet,
		cfg:       cfg,
		referrers: make(map[string]string),
	}, nil
}

// SetReferrer records who referred account.
func (d *Distributor) SetReferrer(account, referrer string) error {
	if account == referrer {
		return ErrSelfReferral
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.referrers[account] = referrer
	return nil
}

// Referrer returns the referrer of account, if any.
func (d *Distributor) Referrer(account string) (string, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	r, ok := d.referrers[account]
	return r, ok
}

// Plan computes how amount would be distributed for a fee paid by
// beneficiary. Rounding dust goes to the pool.
func (d *Distributor) Plan(amount decimal.Decimal, beneficiary string) Distribution {
	var out Distribution
	rest := amount
	if referrer, ok := d.Referrer(beneficiary); ok && d.cfg.Rebate.IsPositive() {
		out.Referrer = referrer
		out.Rebate = calc.MulDiv(amount, d.cfg.Rebate, calc.Precision)
		rest = rest.Sub(out.Rebate)
	}
	out.Stake = calc.MulDiv(rest, d.cfg.Split.Stake, calc.Precision)
	out.Treasury = calc.MulDiv(rest, d.cfg.Split.Treasury, calc.Precision)
	out.Pool = rest.Sub(out.Stake).Sub(out.Treasury)
	return out
}

// DepositFeeWithRebate distributes a fee of amount paid in asset on
// behalf of beneficiary: the referral rebate first, then the pool, stake
// and treasury shares.
func (d *Distributor) DepositFeeWithRebate(ctx context.Context, asset string, amount decimal.Decimal, beneficiary string) error {
	if !amount.IsPositive() {
		return nil
	}
	dist := d.Plan(amount, beneficiary)

	if dist.Rebate.IsPositive() {
		if err := d.wallet.Credit(ctx, dist.Referrer, asset, dist.Rebate); err != nil {
			return fmt.Errorf("credit rebate: %w", err)
		}
	}
	if dist.Stake.IsPositive() {
		if err := d.wallet.Credit(ctx, d.cfg.StakeAccount, asset, dist.Stake); err != nil {
			return fmt.Errorf("credit stake: %w", err)
		}
	}
	if dist.Treasury.IsPositive() {
		if err := d.wallet.Credit(ctx, d.cfg.TreasuryAccount, asset, dist.Treasury); err != nil {
			return fmt.Errorf("credit treasury: %w", err)
		}
	}
	if dist.Pool.IsPositive() {
		if err := d.pool.Deposit(ctx, asset, dist.Pool); err != nil {
			return fmt.Errorf("deposit pool share: %w", err)
		}
	}

	slog.Debug("fee distributed",
		"asset", asset,
		"amount", amount.String(),
		"beneficiary", beneficiary,
		"rebate", dist.Rebate.String(),
		"pool", dist.Pool.String(),
	)
	return nil
}
