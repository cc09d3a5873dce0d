package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// EventType names an engine notification.
type EventType string

const (
	EventOrderPlaced        EventType = "order_placed"
	EventOrderCancelled     EventType = "order_cancelled"
	EventPositionOpened     EventType = "position_opened"
	EventPositionUpdated    EventType = "position_updated"
	EventPositionClosed     EventType = "position_closed"
	EventPositionLiquidated EventType = "position_liquidated"
	EventPositionTakeProfit EventType = "position_take_profit"
	EventPositionStopLoss   EventType = "position_stop_loss"
)

// CancelReason explains why an order left the book without executing.
type CancelReason string

const (
	CancelByOwner             CancelReason = "owner"
	CancelExpired             CancelReason = "market_order_expired"
	CancelSoftBreak           CancelReason = "soft_break"
	CancelHardBreak           CancelReason = "hard_break"
	CancelPriceNotExecutable  CancelReason = "price_not_executable"
	CancelMaxOpenInterest     CancelReason = "max_open_interest"
	CancelInsufficientSize    CancelReason = "insufficient_position_size"
	CancelNotEnoughCollateral CancelReason = "not_enough_collateral"
	CancelUnderMinLeverage    CancelReason = "under_min_leverage"
	CancelOverMaxLeverage     CancelReason = "over_max_leverage"
)

// Event is an append-only notification emitted by the engine. Fields that
// do not apply to a given type are left zero.
type Event struct {
	ID         string    `json:"id"`
	Type       EventType `json:"type"`
	Pair       PairKey   `json:"pair"`
	Account    string    `json:"account"`
	OrderID    uint64    `json:"order_id,omitempty"`
	PositionID string    `json:"position_id,omitempty"`
	IsLong     bool      `json:"is_long"`
	IsIncrease bool      `json:"is_increase"`
	IsMarket   bool      `json:"is_market"`

	CancelReason CancelReason `json:"cancel_reason,omitempty"`

	Price           decimal.Decimal `json:"price"`
	SizeDelta       decimal.Decimal `json:"size_delta"`
	CollateralDelta decimal.Decimal `json:"collateral_delta"`

	OriginalSize       decimal.Decimal `json:"original_size"`
	OriginalCollateral decimal.Decimal `json:"original_collateral"`
	NewSize            decimal.Decimal `json:"new_size"`
	NewCollateral      decimal.Decimal `json:"new_collateral"`
	AvgPrice           decimal.Decimal `json:"avg_price"`

	PnL         decimal.Decimal `json:"pnl"`
	EntryFee    decimal.Decimal `json:"entry_fee"`
	ExitFee     decimal.Decimal `json:"exit_fee"`
	RolloverFee decimal.Decimal `json:"rollover_fee"`
	FundingFee  decimal.Decimal `json:"funding_fee"`
	Payout      decimal.Decimal `json:"payout"`

	// Open interest before the trade was applied.
	LongOpenInterest  decimal.Decimal `json:"long_open_interest"`
	ShortOpenInterest decimal.Decimal `json:"short_open_interest"`

	Timestamp time.Time `json:"timestamp"`
}

// IsPositionEvent reports whether the event describes a position transition.
func (e Event) IsPositionEvent() bool {
	switch e.Type {
	case EventOrderPlaced, EventOrderCancelled:
		return false
	}
	return true
}
