package engine

import "errors"

// Configuration errors.
var (
	ErrPairNotFound = errors.New("engine: pair not found")
	ErrPairExists   = errors.New("engine: pair already registered")
	ErrPairPaused   = errors.New("engine: pair is paused")
)

// Authorization errors.
var (
	ErrUnauthorized = errors.New("engine: capability rejected")
	ErrNotOwner     = errors.New("engine: caller does not own the order")
)

// Risk guard errors.
var (
	ErrSoftBreak = errors.New("engine: soft break tripped, increases are blocked")
	ErrHardBreak = errors.New("engine: hard break tripped, orders are blocked")
)

// Placement bound violations.
var (
	ErrZeroPrice              = errors.New("engine: price must be positive")
	ErrNotWhole               = errors.New("engine: amount must be a whole number")
	ErrZeroCollateral         = errors.New("engine: collateral delta must be positive")
	ErrInvalidSize            = errors.New("engine: invalid size delta")
	ErrInvalidCollateral      = errors.New("engine: invalid collateral delta")
	ErrOrderCollateralTooLow  = errors.New("engine: order collateral below minimum")
	ErrPositionCollateral     = errors.New("engine: position collateral out of bounds")
	ErrPositionSizeTooSmall   = errors.New("engine: position size below minimum")
	ErrInsufficientSize       = errors.New("engine: position does not hold enough size")
	ErrMaxOpenInterest        = errors.New("engine: max open interest exceeded")
	ErrLeverageOutOfBounds    = errors.New("engine: leverage out of bounds")
	ErrEntryFeeExceedsDeposit = errors.New("engine: entry fee exceeds collateral delta")
)

// Execution errors.
var (
	ErrOrderNotFound       = errors.New("engine: order not found")
	ErrPositionNotFound    = errors.New("engine: position not found")
	ErrPriceNotExecutable  = errors.New("engine: price not executable")
	ErrCooldownActive      = errors.New("engine: execution cooldown active")
	ErrExitConditionNotMet = errors.New("engine: no exit condition met")
)
