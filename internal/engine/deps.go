package engine

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atmx/settlement-engine/internal/access"
	"github.com/atmx/settlement-engine/internal/model"
)

// PriceFeed supplies reference prices. Update stores an executor-supplied
// price after checking its proof; Read returns the price to trade at,
// favouring the higher quote when maximize is set.
type PriceFeed interface {
	Update(ctx context.Context, key model.PairKey, price decimal.Decimal, proof []byte) error
	Read(ctx context.Context, key model.PairKey, maximize bool) (decimal.Decimal, error)
}

// Vault is the pooled counterparty of every position.
type Vault interface {
	Deposit(ctx context.Context, asset string, amount decimal.Decimal) error
	Withdraw(ctx context.Context, asset string, amount decimal.Decimal) error
	CheckSoftBreak(ctx context.Context, asset string) bool
	CheckHardBreak(ctx context.Context, asset string) bool
}

// FeeDistributor receives trading fees.
type FeeDistributor interface {
	DepositFeeWithRebate(ctx context.Context, asset string, amount decimal.Decimal, beneficiary string) error
}

// Accounts moves collateral between traders and engine custody.
type Accounts interface {
	Debit(ctx context.Context, account, asset string, amount decimal.Decimal) error
	Credit(ctx context.Context, account, asset string, amount decimal.Decimal) error
}

// Authorizer vouches for capabilities presented to privileged calls.
type Authorizer interface {
	Verify(c access.Capability, kind access.Kind) error
}

// Deps are the collaborators of an Engine. Sink may be nil.
type Deps struct {
	Feed     PriceFeed
	Vault    Vault
	Fees     FeeDistributor
	Accounts Accounts
	Access   Authorizer
	Sink     Sink
}

// Options tunes an Engine.
type Options struct {
	// MarketOrderTimeout is how long a market order stays executable.
	MarketOrderTimeout time.Duration
	Now                func() time.Time
}

// DefaultMarketOrderTimeout applies when Options leaves it unset.
const DefaultMarketOrderTimeout = 30 * time.Second
