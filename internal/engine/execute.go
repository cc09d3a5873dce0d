package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atmx/settlement-engine/internal/access"
	"github.com/atmx/settlement-engine/internal/calc"
	"github.com/atmx/settlement-engine/internal/model"
)

// ExecuteOrder executes a pending order at the price the executor
// observed. The returned event is the position transition, or the
// cancellation if the order could no longer be executed.
//
// A limit order whose price the market does not satisfy is left pending
// and ErrPriceNotExecutable is returned.
func (e *Engine) ExecuteOrder(ctx context.Context, c access.Capability, key model.PairKey, orderID uint64, price decimal.Decimal, proof []byte) (ev model.Event, err error) {
	if err := e.authorize(c, access.KindExecute); err != nil {
		return model.Event{}, err
	}
	if !price.IsPositive() {
		return model.Event{}, ErrZeroPrice
	}
	if !price.IsInteger() {
		return model.Event{}, fmt.Errorf("%w: price %s", ErrNotWhole, price)
	}
	p, err := e.pair(key)
	if err != nil {
		return model.Event{}, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	cfg, st := p.cfg, p.st

	if cfg.Paused {
		return model.Event{}, fmt.Errorf("%w: %s", ErrPairPaused, key)
	}
	o, ok := st.Orders[orderID]
	if !ok {
		return model.Event{}, fmt.Errorf("%w: %s #%d", ErrOrderNotFound, key, orderID)
	}

	now := e.now()
	executor := c.Holder
	saved := saveAccruals(st)
	defer func() {
		if err != nil {
			saved.restore(st)
		}
	}()

	if o.IsMarket && now.Sub(o.CreatedAt) > e.opts.MarketOrderTimeout {
		return e.cancel(ctx, p, o, model.CancelExpired, executor, now)
	}
	if e.deps.Vault.CheckHardBreak(ctx, key.Collateral) {
		return e.cancel(ctx, p, o, model.CancelHardBreak, executor, now)
	}
	if o.IsIncrease && e.deps.Vault.CheckSoftBreak(ctx, key.Collateral) {
		return e.cancel(ctx, p, o, model.CancelSoftBreak, executor, now)
	}

	accrue(cfg, st, now)

	isBuy := calc.IsBuy(o.IsLong, o.IsIncrease)
	px, err := e.executionPrice(ctx, p, isBuy, o.SizeDelta, price, proof)
	if err != nil {
		return model.Event{}, err
	}
	if !executable(o, px) {
		if o.IsMarket {
			return e.cancel(ctx, p, o, model.CancelPriceNotExecutable, executor, now)
		}
		return model.Event{}, fmt.Errorf("%w: %s against limit %s", ErrPriceNotExecutable, px, o.Price)
	}

	if o.IsIncrease {
		return e.executeIncrease(ctx, p, o, px, executor, now)
	}
	return e.executeDecrease(ctx, p, o, px, executor, now)
}

// executionPrice records the executor's price in the feed, reads it back
// on the side that disfavours the trader, and applies spread and impact.
func (e *Engine) executionPrice(ctx context.Context, p *pairEntry, isBuy bool, size, price decimal.Decimal, proof []byte) (decimal.Decimal, error) {
	if err := e.deps.Feed.Update(ctx, p.key, price, proof); err != nil {
		return decimal.Zero, fmt.Errorf("update price: %w", err)
	}
	px, err := e.deps.Feed.Read(ctx, p.key, isBuy)
	if err != nil {
		return decimal.Zero, fmt.Errorf("read price: %w", err)
	}
	px = calc.ApplySpread(px, p.cfg.Spread, isBuy)
	return calc.PriceImpact(px, size, isBuy, p.st.LongOpenInterest, p.st.ShortOpenInterest, p.cfg.MarketDepth), nil
}

func executable(o *model.Order, px decimal.Decimal) bool {
	if o.CanExecuteAbovePrice {
		return px.GreaterThanOrEqual(o.Price)
	}
	return px.LessThanOrEqual(o.Price)
}

func (e *Engine) executeIncrease(ctx context.Context, p *pairEntry, o *model.Order, px decimal.Decimal, executor string, now time.Time) (model.Event, error) {
	cfg, st := p.cfg, p.st
	asset := p.key.Collateral

	if st.OpenInterest(o.IsLong).Add(o.SizeDelta).GreaterThan(cfg.MaxOpenInterest) {
		return e.cancel(ctx, p, o, model.CancelMaxOpenInterest, executor, now)
	}
	fee := tradeFee(cfg, st, o.SizeDelta, calc.IsBuy(o.IsLong, true), true)
	if fee.GreaterThanOrEqual(o.CollateralDelta) {
		return e.cancel(ctx, p, o, model.CancelNotEnoughCollateral, executor, now)
	}

	positions := st.Positions(o.IsLong)
	pos, ok := positions[o.Account]
	if !ok {
		pos = &model.Position{Pair: p.key, Account: o.Account, IsLong: o.IsLong}
	}
	before := *pos

	collateral := pos.Collateral.Add(o.CollateralDelta).Sub(fee)
	rollover, funding := riskFees(st, pos)
	riskFee := decimal.Min(rollover.Add(funding), collateral)

	// The vault leg is the only transfer that can fail for lack of funds,
	// so it goes first.
	switch {
	case riskFee.IsNegative():
		if err := e.deps.Vault.Withdraw(ctx, asset, riskFee.Neg()); err != nil {
			return model.Event{}, fmt.Errorf("settle risk fee: %w", err)
		}
	case riskFee.IsPositive():
		if err := e.deps.Vault.Deposit(ctx, asset, riskFee); err != nil {
			return model.Event{}, fmt.Errorf("settle risk fee: %w", err)
		}
	}
	if err := e.deps.Fees.DepositFeeWithRebate(ctx, asset, fee, o.Account); err != nil {
		return model.Event{}, fmt.Errorf("distribute entry fee: %w", err)
	}
	if err := e.payExecutionFee(ctx, asset, o, executor); err != nil {
		return model.Event{}, err
	}
	e.moveCustody(asset, fee.Add(riskFee).Neg())

	collateral = collateral.Sub(riskFee)
	avg := calc.AveragePrice(pos.Size, pos.AvgPrice, o.SizeDelta, px)
	size := calc.ClampSizeToLeverage(pos.Size.Add(o.SizeDelta), collateral, cfg.MinLeverage, cfg.MaxLeverage)
	realized := size.Sub(pos.Size)

	ev := newEvent(model.EventPositionOpened, p.key, st, now)
	if before.IsOpen() {
		ev.Type = model.EventPositionUpdated
	}

	pos.Size = size
	pos.Collateral = collateral
	pos.AvgPrice = avg
	pos.LastExecuted = now
	pos.EntryRollover = st.AccRollover
	pos.EntryFunding = st.AccFunding
	if pos.ID == "" {
		pos.ID = o.PositionID
	}
	if !o.StopLoss.IsZero() {
		pos.StopLoss = o.StopLoss
	}
	if !o.TakeProfit.IsZero() {
		pos.TakeProfit = o.TakeProfit
	}
	pos.TakeProfit = calc.ClampTakeProfit(
		pos.TakeProfit,
		calc.TakeProfitEdge(avg, size, collateral, cfg.MaxProfit, o.IsLong),
		o.IsLong,
	)
	if !size.IsPositive() {
		zeroPosition(pos)
	}
	positions[o.Account] = pos

	if o.IsLong {
		st.LongOpenInterest = st.LongOpenInterest.Add(realized)
	} else {
		st.ShortOpenInterest = st.ShortOpenInterest.Add(realized)
	}

	delete(st.Orders, o.ID)
	e.index.removeOrder(o.Account, model.OrderRef{Pair: p.key, OrderID: o.ID})
	if pos.IsOpen() {
		e.index.addPosition(o.Account, model.PositionRef{Pair: p.key, IsLong: o.IsLong})
	}

	fillOrderEvent(&ev, o)
	fillPositionEvent(&ev, &before, pos)
	ev.Price = px
	ev.SizeDelta = realized
	ev.EntryFee = fee
	ev.RolloverFee = rollover
	ev.FundingFee = funding
	e.emit(ctx, ev)

	slog.Info("position increased",
		"pair", p.key.String(),
		"order_id", o.ID,
		"account", o.Account,
		"is_long", o.IsLong,
		"price", px.String(),
		"size", pos.Size.String(),
		"collateral", pos.Collateral.String(),
		"entry_fee", fee.String(),
	)
	return ev, nil
}

func (e *Engine) executeDecrease(ctx context.Context, p *pairEntry, o *model.Order, px decimal.Decimal, executor string, now time.Time) (model.Event, error) {
	cfg, st := p.cfg, p.st
	asset := p.key.Collateral

	pos, ok := st.Positions(o.IsLong)[o.Account]
	if !ok {
		return model.Event{}, fmt.Errorf("%w: %s %s", ErrPositionNotFound, p.key, o.Account)
	}
	// The order was placed against a position that has since been closed,
	// even if the account reopened the side afterwards.
	if !pos.IsOpen() || pos.ID != o.PositionID || pos.Size.LessThan(o.SizeDelta) {
		return e.cancel(ctx, p, o, model.CancelInsufficientSize, executor, now)
	}
	if now.Sub(pos.LastExecuted) < cfg.ExecutionCooldown {
		return model.Event{}, fmt.Errorf("%w: last executed at %s", ErrCooldownActive, pos.LastExecuted.Format(time.RFC3339))
	}

	q := quoteClose(cfg, st, pos, o.SizeDelta, px)
	remaining := pos.Size.Sub(o.SizeDelta)
	full := remaining.IsZero()

	var s calc.Settlement
	if full {
		s = calc.SettleClose(pos.Collateral, q.pnl, q.riskFee, q.exitFee)
	} else {
		s = calc.SettlePartial(pos.Collateral, o.CollateralDelta, q.pnl, q.riskFee, q.exitFee)
		if reason, ok := partialCloseRejection(cfg, remaining, s.Collateral); !ok {
			return e.cancel(ctx, p, o, reason, executor, now)
		}
	}

	if err := e.settle(ctx, asset, o.Account, s); err != nil {
		return model.Event{}, err
	}
	if err := e.payExecutionFee(ctx, asset, o, executor); err != nil {
		return model.Event{}, err
	}

	before := *pos
	ev := newEvent(model.EventPositionUpdated, p.key, st, now)
	if full {
		ev.Type = model.EventPositionClosed
	}

	pos.Size = remaining
	pos.Collateral = s.Collateral
	pos.LastExecuted = now
	pos.EntryRollover = st.AccRollover
	pos.EntryFunding = st.AccFunding
	if full {
		zeroPosition(pos)
	}

	if o.IsLong {
		st.LongOpenInterest = st.LongOpenInterest.Sub(o.SizeDelta)
	} else {
		st.ShortOpenInterest = st.ShortOpenInterest.Sub(o.SizeDelta)
	}

	delete(st.Orders, o.ID)
	e.index.removeOrder(o.Account, model.OrderRef{Pair: p.key, OrderID: o.ID})
	if full {
		e.index.removePosition(o.Account, model.PositionRef{Pair: p.key, IsLong: o.IsLong})
	}

	fillOrderEvent(&ev, o)
	fillPositionEvent(&ev, &before, pos)
	fillSettlementEvent(&ev, q, s)
	ev.Price = px
	ev.PositionID = before.ID
	e.emit(ctx, ev)

	slog.Info("position decreased",
		"pair", p.key.String(),
		"order_id", o.ID,
		"account", o.Account,
		"is_long", o.IsLong,
		"price", px.String(),
		"pnl", q.pnl.String(),
		"payout", s.Payout.String(),
		"closed", full,
	)
	return ev, nil
}

// partialCloseRejection checks what is left after a partial close.
func partialCloseRejection(cfg model.PairConfig, size, collateral decimal.Decimal) (model.CancelReason, bool) {
	if !collateral.IsPositive() || collateral.LessThan(cfg.MinPositionCollateral) {
		return model.CancelNotEnoughCollateral, false
	}
	if calc.WithinLeverage(size, collateral, cfg.MinLeverage, cfg.MaxLeverage) {
		return "", true
	}
	lev, _ := calc.Leverage(size, collateral)
	if lev.LessThan(cfg.MinLeverage) {
		return model.CancelUnderMinLeverage, false
	}
	return model.CancelOverMaxLeverage, false
}

// settle moves the money of a decrease or exit out of custody: the vault
// leg first, then the exit fee, then the payout to the owner.
func (e *Engine) settle(ctx context.Context, asset, owner string, s calc.Settlement) error {
	switch {
	case s.VaultDelta.IsPositive():
		if err := e.deps.Vault.Withdraw(ctx, asset, s.VaultDelta); err != nil {
			return fmt.Errorf("settle pnl: %w", err)
		}
	case s.VaultDelta.IsNegative():
		if err := e.deps.Vault.Deposit(ctx, asset, s.VaultDelta.Neg()); err != nil {
			return fmt.Errorf("settle pnl: %w", err)
		}
	}
	if err := e.deps.Fees.DepositFeeWithRebate(ctx, asset, s.Fee, owner); err != nil {
		return fmt.Errorf("distribute exit fee: %w", err)
	}
	if err := e.deps.Accounts.Credit(ctx, owner, asset, s.Payout); err != nil {
		return fmt.Errorf("pay out: %w", err)
	}
	e.moveCustody(asset, s.VaultDelta.Sub(s.Fee).Sub(s.Payout))
	return nil
}

func (e *Engine) payExecutionFee(ctx context.Context, asset string, o *model.Order, executor string) error {
	if !o.ExecutionFee.IsPositive() {
		return nil
	}
	if err := e.deps.Accounts.Credit(ctx, executor, asset, o.ExecutionFee); err != nil {
		return fmt.Errorf("pay execution fee: %w", err)
	}
	e.moveCustody(asset, o.ExecutionFee.Neg())
	return nil
}

// zeroPosition clears a closed position. The entry stays in the table so
// the account keeps its slot on this side of the pair.
func zeroPosition(pos *model.Position) {
	pos.ID = ""
	pos.Size = decimal.Zero
	pos.Collateral = decimal.Zero
	pos.AvgPrice = decimal.Zero
	pos.StopLoss = decimal.Zero
	pos.TakeProfit = decimal.Zero
}

func fillPositionEvent(ev *model.Event, before, after *model.Position) {
	ev.PositionID = after.ID
	ev.OriginalSize = before.Size
	ev.OriginalCollateral = before.Collateral
	ev.NewSize = after.Size
	ev.NewCollateral = after.Collateral
	ev.AvgPrice = after.AvgPrice
	if !after.IsOpen() {
		ev.AvgPrice = before.AvgPrice
	}
}

func fillSettlementEvent(ev *model.Event, q closeQuote, s calc.Settlement) {
	ev.PnL = q.pnl
	ev.ExitFee = s.Fee
	ev.RolloverFee = q.rollover
	ev.FundingFee = q.funding
	ev.Payout = s.Payout
}
