package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/atmx/settlement-engine/internal/calc"
	"github.com/atmx/settlement-engine/internal/model"
)

// PlaceRequest describes a new order.
type PlaceRequest struct {
	Pair    model.PairKey
	Account string

	SizeDelta       decimal.Decimal
	CollateralDelta decimal.Decimal
	Price           decimal.Decimal

	IsLong               bool
	IsIncrease           bool
	IsMarket             bool
	CanExecuteAbovePrice bool

	StopLoss   decimal.Decimal
	TakeProfit decimal.Decimal
}

// PlaceOrder validates and stores an order. Increase orders move their
// collateral delta from the account into engine custody right away; the
// pair's execution fee, if any, is taken from every order.
func (e *Engine) PlaceOrder(ctx context.Context, req PlaceRequest) (order model.Order, err error) {
	p, err := e.pair(req.Pair)
	if err != nil {
		return model.Order{}, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	cfg, st := p.cfg, p.st
	asset := req.Pair.Collateral

	if cfg.Paused {
		return model.Order{}, fmt.Errorf("%w: %s", ErrPairPaused, req.Pair)
	}
	if e.deps.Vault.CheckHardBreak(ctx, asset) {
		return model.Order{}, ErrHardBreak
	}
	if req.IsIncrease && e.deps.Vault.CheckSoftBreak(ctx, asset) {
		return model.Order{}, ErrSoftBreak
	}
	if !req.Price.IsPositive() {
		return model.Order{}, ErrZeroPrice
	}
	if err := checkWhole(req); err != nil {
		return model.Order{}, err
	}

	now := e.now()
	saved := saveAccruals(st)
	defer func() {
		if err != nil {
			saved.restore(st)
		}
	}()
	accrue(cfg, st, now)

	pos := st.Positions(req.IsLong)[req.Account]
	if req.IsIncrease {
		err = validateIncrease(cfg, st, pos, req)
	} else {
		err = validateDecrease(cfg, pos, req)
	}
	if err != nil {
		return model.Order{}, err
	}

	debit := cfg.ExecutionFee
	if req.IsIncrease {
		debit = debit.Add(req.CollateralDelta)
	}
	if err = e.deps.Accounts.Debit(ctx, req.Account, asset, debit); err != nil {
		return model.Order{}, fmt.Errorf("debit collateral: %w", err)
	}
	e.moveCustody(asset, debit)

	if pos == nil {
		pos = &model.Position{Pair: req.Pair, Account: req.Account, IsLong: req.IsLong}
		st.Positions(req.IsLong)[req.Account] = pos
	}
	if pos.ID == "" {
		pos.ID = uuid.NewString()
	}

	collateralDelta := req.CollateralDelta
	if !req.IsIncrease && req.SizeDelta.Equal(pos.Size) {
		collateralDelta = pos.Collateral
	}

	o := &model.Order{
		ID:                   st.NextOrderID,
		Pair:                 req.Pair,
		Account:              req.Account,
		PositionID:           pos.ID,
		SizeDelta:            req.SizeDelta,
		CollateralDelta:      collateralDelta,
		Price:                req.Price,
		IsLong:               req.IsLong,
		IsIncrease:           req.IsIncrease,
		IsMarket:             req.IsMarket,
		CanExecuteAbovePrice: req.CanExecuteAbovePrice,
		StopLoss:             req.StopLoss,
		TakeProfit:           req.TakeProfit,
		ExecutionFee:         cfg.ExecutionFee,
		CreatedAt:            now,
	}
	st.NextOrderID++
	st.Orders[o.ID] = o
	e.index.addOrder(o.Account, model.OrderRef{Pair: req.Pair, OrderID: o.ID})

	ev := newEvent(model.EventOrderPlaced, req.Pair, st, now)
	fillOrderEvent(&ev, o)
	e.emit(ctx, ev)

	slog.Info("order placed",
		"pair", req.Pair.String(),
		"order_id", o.ID,
		"account", o.Account,
		"is_long", o.IsLong,
		"is_increase", o.IsIncrease,
		"size_delta", o.SizeDelta.String(),
		"collateral_delta", o.CollateralDelta.String(),
	)
	return *o, nil
}

func checkWhole(req PlaceRequest) error {
	amounts := []struct {
		name  string
		value decimal.Decimal
	}{
		{"size_delta", req.SizeDelta},
		{"collateral_delta", req.CollateralDelta},
		{"price", req.Price},
		{"stop_loss", req.StopLoss},
		{"take_profit", req.TakeProfit},
	}
	for _, a := range amounts {
		if !a.value.IsInteger() {
			return fmt.Errorf("%w: %s %s", ErrNotWhole, a.name, a.value)
		}
	}
	return nil
}

func validateIncrease(cfg model.PairConfig, st *model.PairState, pos *model.Position, req PlaceRequest) error {
	if !req.CollateralDelta.IsPositive() {
		return ErrZeroCollateral
	}
	if req.SizeDelta.IsNegative() {
		return fmt.Errorf("%w: %s", ErrInvalidSize, req.SizeDelta)
	}
	if req.CollateralDelta.LessThan(cfg.MinOrderCollateral) {
		return fmt.Errorf("%w: %s < %s", ErrOrderCollateralTooLow, req.CollateralDelta, cfg.MinOrderCollateral)
	}

	fee := tradeFee(cfg, st, req.SizeDelta, calc.IsBuy(req.IsLong, true), true)
	if fee.GreaterThanOrEqual(req.CollateralDelta) {
		return fmt.Errorf("%w: fee %s on %s", ErrEntryFeeExceedsDeposit, fee, req.CollateralDelta)
	}

	size := req.SizeDelta
	collateral := req.CollateralDelta.Sub(fee)
	if pos.IsOpen() {
		rollover, funding := riskFees(st, pos)
		size = size.Add(pos.Size)
		collateral = collateral.Add(pos.Collateral).Sub(rollover).Sub(funding)
	}

	if collateral.LessThan(cfg.MinPositionCollateral) || collateral.GreaterThan(cfg.MaxPositionCollateral) {
		return fmt.Errorf("%w: %s not in [%s, %s]", ErrPositionCollateral, collateral, cfg.MinPositionCollateral, cfg.MaxPositionCollateral)
	}
	if size.LessThan(cfg.MinPositionSize) {
		return fmt.Errorf("%w: %s < %s", ErrPositionSizeTooSmall, size, cfg.MinPositionSize)
	}
	if st.OpenInterest(req.IsLong).Add(req.SizeDelta).GreaterThan(cfg.MaxOpenInterest) {
		return fmt.Errorf("%w: %s", ErrMaxOpenInterest, cfg.MaxOpenInterest)
	}
	if !calc.WithinLeverage(size, collateral, cfg.MinLeverage, cfg.MaxLeverage) {
		return fmt.Errorf("%w: size %s on collateral %s", ErrLeverageOutOfBounds, size, collateral)
	}
	return nil
}

func validateDecrease(cfg model.PairConfig, pos *model.Position, req PlaceRequest) error {
	if !pos.IsOpen() {
		return fmt.Errorf("%w: %s %s", ErrPositionNotFound, req.Pair, req.Account)
	}
	if !req.SizeDelta.IsPositive() {
		return fmt.Errorf("%w: %s", ErrInvalidSize, req.SizeDelta)
	}
	if req.SizeDelta.GreaterThan(pos.Size) {
		return fmt.Errorf("%w: %s > %s", ErrInsufficientSize, req.SizeDelta, pos.Size)
	}
	if req.CollateralDelta.IsNegative() || req.CollateralDelta.GreaterThan(pos.Collateral) {
		return fmt.Errorf("%w: %s", ErrInvalidCollateral, req.CollateralDelta)
	}
	remaining := pos.Size.Sub(req.SizeDelta)
	if remaining.IsPositive() && remaining.LessThan(cfg.MinPositionSize) {
		return fmt.Errorf("%w: %s < %s", ErrPositionSizeTooSmall, remaining, cfg.MinPositionSize)
	}
	return nil
}

func fillOrderEvent(ev *model.Event, o *model.Order) {
	ev.Account = o.Account
	ev.OrderID = o.ID
	ev.PositionID = o.PositionID
	ev.IsLong = o.IsLong
	ev.IsIncrease = o.IsIncrease
	ev.IsMarket = o.IsMarket
	ev.Price = o.Price
	ev.SizeDelta = o.SizeDelta
	ev.CollateralDelta = o.CollateralDelta
}
