// Package model defines the core domain types shared across the settlement engine.
// All monetary values use shopspring/decimal, never float64 for money.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// PairKey identifies a tradable (instrument, collateral) combination.
// Written as INSTRUMENT:COLLATERAL, e.g. BTC_USD:USDC.
type PairKey struct {
	Instrument string `json:"instrument"`
	Collateral string `json:"collateral"`
}

func (k PairKey) String() string {
	return k.Instrument + ":" + k.Collateral
}

// FeeModel selects how entry and exit fees are charged.
type FeeModel string

const (
	// FeeModelMakerTaker charges the maker rate on the part of a trade that
	// reduces the long/short skew and the taker rate on the rest.
	FeeModelMakerTaker FeeModel = "maker_taker"
	// FeeModelFlat charges EntryFee on increases and ExitFee on decreases.
	FeeModelFlat FeeModel = "flat"
)

// FundingModel selects how the funding accumulator advances.
type FundingModel string

const (
	// FundingModelVelocity drifts the funding rate at a velocity proportional
	// to the open-interest skew.
	FundingModelVelocity FundingModel = "skew_velocity"
	// FundingModelFlat charges FundingRate scaled by the relative skew.
	FundingModelFlat FundingModel = "flat"
)

// PairConfig holds the admin-controlled parameters of one pair.
// Rates are integers over calc.Precision; time-based rates are per hour.
type PairConfig struct {
	Paused bool `json:"paused"`

	MinLeverage decimal.Decimal `json:"min_leverage"`
	MaxLeverage decimal.Decimal `json:"max_leverage"`

	FeeModel FeeModel        `json:"fee_model"`
	MakerFee decimal.Decimal `json:"maker_fee"`
	TakerFee decimal.Decimal `json:"taker_fee"`
	EntryFee decimal.Decimal `json:"entry_fee"`
	ExitFee  decimal.Decimal `json:"exit_fee"`
	Spread   decimal.Decimal `json:"spread"`

	RolloverRate decimal.Decimal `json:"rollover_rate"`

	FundingModel       FundingModel    `json:"funding_model"`
	FundingRate        decimal.Decimal `json:"funding_rate"`
	SkewFactor         decimal.Decimal `json:"skew_factor"`
	MaxFundingVelocity decimal.Decimal `json:"max_funding_velocity"`
	MaxFundingRate     decimal.Decimal `json:"max_funding_rate"` // 0 = uncapped

	MaxOpenInterest decimal.Decimal `json:"max_open_interest"`
	MarketDepth     decimal.Decimal `json:"market_depth"` // 0 = no price impact

	ExecutionCooldown time.Duration `json:"execution_cooldown"`

	// LiquidationThreshold is the fraction of collateral at or under which
	// a position may be liquidated.
	LiquidationThreshold decimal.Decimal `json:"liquidation_threshold"`
	// MaxProfit caps realized profit as a multiple of collateral.
	MaxProfit decimal.Decimal `json:"max_profit"`
	// CapProfitAfterRiskFee measures the profit cap against collateral after
	// the risk fee has been settled instead of before.
	CapProfitAfterRiskFee bool `json:"cap_profit_after_risk_fee"`

	MinOrderCollateral    decimal.Decimal `json:"min_order_collateral"`
	MinPositionCollateral decimal.Decimal `json:"min_position_collateral"`
	MaxPositionCollateral decimal.Decimal `json:"max_position_collateral"`
	MinPositionSize       decimal.Decimal `json:"min_position_size"`

	ExecutionFee decimal.Decimal `json:"execution_fee"` // 0 = none
}

// PairState is the mutable ledger of one pair.
type PairState struct {
	NextOrderID uint64 `json:"next_order_id"`

	LongOpenInterest  decimal.Decimal `json:"long_open_interest"`
	ShortOpenInterest decimal.Decimal `json:"short_open_interest"`

	// AccRollover is the cumulative rollover fee per unit of collateral.
	AccRollover decimal.Decimal `json:"acc_rollover"`
	// AccFunding is the cumulative signed funding fee per unit of size;
	// positive means longs pay.
	AccFunding decimal.Decimal `json:"acc_funding"`
	// FundingRate is the current per-hour funding rate (signed).
	FundingRate decimal.Decimal `json:"funding_rate"`
	LastAccrual time.Time       `json:"last_accrual"`

	Orders map[uint64]*Order    `json:"orders"`
	Longs  map[string]*Position `json:"longs"`
	Shorts map[string]*Position `json:"shorts"`
}

// NewPairState returns an empty state whose accrual clock starts at now.
func NewPairState(now time.Time) *PairState {
	return &PairState{
		NextOrderID: 1,
		LastAccrual: now,
		Orders:      make(map[uint64]*Order),
		Longs:       make(map[string]*Position),
		Shorts:      make(map[string]*Position),
	}
}

// Positions returns the position table for one side.
func (s *PairState) Positions(isLong bool) map[string]*Position {
	if isLong {
		return s.Longs
	}
	return s.Shorts
}

// OpenInterest returns the open interest of one side.
func (s *PairState) OpenInterest(isLong bool) decimal.Decimal {
	if isLong {
		return s.LongOpenInterest
	}
	return s.ShortOpenInterest
}

// Order is a pending request against a pair. It is consumed exactly once,
// by execution or by cancellation.
type Order struct {
	ID         uint64          `json:"id"`
	Pair       PairKey         `json:"pair"`
	Account    string          `json:"account"`
	PositionID string          `json:"position_id"`
	SizeDelta  decimal.Decimal `json:"size_delta"`
	// CollateralDelta is deposited at placement for increases and requested
	// back for decreases.
	CollateralDelta decimal.Decimal `json:"collateral_delta"`
	// Price is the limit price, or the slippage bound of a market order.
	Price                decimal.Decimal `json:"price"`
	IsLong               bool            `json:"is_long"`
	IsIncrease           bool            `json:"is_increase"`
	IsMarket             bool            `json:"is_market"`
	CanExecuteAbovePrice bool            `json:"can_execute_above_price"`
	StopLoss             decimal.Decimal `json:"stop_loss"`
	TakeProfit           decimal.Decimal `json:"take_profit"`
	ExecutionFee         decimal.Decimal `json:"execution_fee"`
	CreatedAt            time.Time       `json:"created_at"`
}

// Position is an account's exposure on one side of a pair.
type Position struct {
	ID           string          `json:"id"`
	Pair         PairKey         `json:"pair"`
	Account      string          `json:"account"`
	IsLong       bool            `json:"is_long"`
	Size         decimal.Decimal `json:"size"`
	Collateral   decimal.Decimal `json:"collateral"`
	AvgPrice     decimal.Decimal `json:"avg_price"`
	LastExecuted time.Time       `json:"last_executed"`

	// Accumulator snapshots taken at the last touch.
	EntryRollover decimal.Decimal `json:"entry_rollover"`
	EntryFunding  decimal.Decimal `json:"entry_funding"`

	StopLoss   decimal.Decimal `json:"stop_loss"`
	TakeProfit decimal.Decimal `json:"take_profit"`
}

// IsOpen reports whether the position holds any size.
func (p *Position) IsOpen() bool {
	return p != nil && p.Size.IsPositive()
}

// OrderRef addresses an order from the per-account index.
type OrderRef struct {
	Pair    PairKey `json:"pair"`
	OrderID uint64  `json:"order_id"`
}

// PositionRef addresses a position from the per-account index.
type PositionRef struct {
	Pair   PairKey `json:"pair"`
	IsLong bool    `json:"is_long"`
}

// PairSnapshot is a persisted copy of a pair's configuration and state.
type PairSnapshot struct {
	Pair      PairKey    `json:"pair"`
	Config    PairConfig `json:"config"`
	State     PairState  `json:"state"`
	UpdatedAt time.Time  `json:"updated_at"`
}
