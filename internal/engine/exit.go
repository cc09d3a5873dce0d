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

// ExecuteExit fully closes a position whose liquidation, take-profit or
// stop-loss condition holds at the executor's price. It fails with
// ErrExitConditionNotMet when none does.
//
// Exits are not blocked by the break guard or by pausing the pair, so
// that risk can always be taken off the pool.
func (e *Engine) ExecuteExit(ctx context.Context, c access.Capability, key model.PairKey, account string, isLong bool, price decimal.Decimal, proof []byte) (ev model.Event, err error) {
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

	pos, ok := st.Positions(isLong)[account]
	if !ok || !pos.IsOpen() {
		return model.Event{}, fmt.Errorf("%w: %s %s", ErrPositionNotFound, key, account)
	}

	now := e.now()
	saved := saveAccruals(st)
	defer func() {
		if err != nil {
			saved.restore(st)
		}
	}()
	accrue(cfg, st, now)

	isBuy := calc.IsBuy(isLong, false)
	px, err := e.executionPrice(ctx, p, isBuy, pos.Size, price, proof)
	if err != nil {
		return model.Event{}, err
	}

	q := quoteClose(cfg, st, pos, pos.Size, px)
	trigger, ok := exitTrigger(cfg, pos, q, px)
	if !ok {
		return model.Event{}, fmt.Errorf("%w: %s %s at %s", ErrExitConditionNotMet, key, account, px)
	}
	if trigger != model.EventPositionLiquidated && now.Sub(pos.LastExecuted) < cfg.ExecutionCooldown {
		return model.Event{}, fmt.Errorf("%w: last executed at %s", ErrCooldownActive, pos.LastExecuted.Format(time.RFC3339))
	}

	s := calc.SettleClose(pos.Collateral, q.pnl, q.riskFee, q.exitFee)
	if err := e.settle(ctx, key.Collateral, account, s); err != nil {
		return model.Event{}, err
	}

	before := *pos
	ev = newEvent(trigger, key, st, now)
	ev.Account = account
	ev.IsLong = isLong
	ev.Price = px
	ev.SizeDelta = before.Size
	ev.CollateralDelta = before.Collateral

	zeroPosition(pos)
	pos.LastExecuted = now
	pos.EntryRollover = st.AccRollover
	pos.EntryFunding = st.AccFunding
	if isLong {
		st.LongOpenInterest = st.LongOpenInterest.Sub(before.Size)
	} else {
		st.ShortOpenInterest = st.ShortOpenInterest.Sub(before.Size)
	}
	e.index.removePosition(account, model.PositionRef{Pair: key, IsLong: isLong})

	fillPositionEvent(&ev, &before, pos)
	fillSettlementEvent(&ev, q, s)
	ev.PositionID = before.ID
	e.emit(ctx, ev)

	slog.Info("position exited",
		"pair", key.String(),
		"account", account,
		"is_long", isLong,
		"trigger", trigger,
		"price", px.String(),
		"pnl", q.pnl.String(),
		"payout", s.Payout.String(),
	)
	return ev, nil
}

// exitTrigger picks the exit event for a full close at px. Liquidation
// takes precedence over take-profit, which takes precedence over
// stop-loss.
func exitTrigger(cfg model.PairConfig, pos *model.Position, q closeQuote, px decimal.Decimal) (model.EventType, bool) {
	remaining := pos.Collateral.Add(q.pnl).Sub(q.riskFee).Sub(q.exitFee)
	if remaining.LessThanOrEqual(calc.LiquidationLevel(pos.Collateral, cfg.LiquidationThreshold)) {
		return model.EventPositionLiquidated, true
	}

	tp, sl := pos.TakeProfit, pos.StopLoss
	if pos.IsLong {
		if q.maxProfitHit || (tp.IsPositive() && px.GreaterThanOrEqual(tp)) {
			return model.EventPositionTakeProfit, true
		}
		if sl.IsPositive() && px.LessThanOrEqual(sl) {
			return model.EventPositionStopLoss, true
		}
		return "", false
	}
	if q.maxProfitHit || (tp.IsPositive() && px.LessThanOrEqual(tp)) {
		return model.EventPositionTakeProfit, true
	}
	if sl.IsPositive() && px.GreaterThanOrEqual(sl) {
		return model.EventPositionStopLoss, true
	}
	return "", false
}
