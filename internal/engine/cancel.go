package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atmx/settlement-engine/internal/model"
)

// CancelOrder removes a pending order on behalf of its owner and refunds
// its collateral delta and execution fee in full.
func (e *Engine) CancelOrder(ctx context.Context, account string, key model.PairKey, orderID uint64) (model.Event, error) {
	p, err := e.pair(key)
	if err != nil {
		return model.Event{}, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	o, ok := p.st.Orders[orderID]
	if !ok {
		return model.Event{}, fmt.Errorf("%w: %s #%d", ErrOrderNotFound, key, orderID)
	}
	if o.Account != account {
		return model.Event{}, ErrNotOwner
	}
	return e.cancel(ctx, p, o, model.CancelByOwner, "", e.now())
}

// cancel consumes o. The collateral of an increase order goes back to its
// owner. The execution fee goes to executor when one is named and back to
// the owner otherwise.
func (e *Engine) cancel(ctx context.Context, p *pairEntry, o *model.Order, reason model.CancelReason, executor string, now time.Time) (model.Event, error) {
	asset := p.key.Collateral

	released := o.ExecutionFee
	refund := o.ExecutionFee
	if executor != "" {
		refund = decimal.Zero
		if err := e.deps.Accounts.Credit(ctx, executor, asset, o.ExecutionFee); err != nil {
			return model.Event{}, fmt.Errorf("pay execution fee: %w", err)
		}
	}
	if o.IsIncrease {
		released = released.Add(o.CollateralDelta)
		refund = refund.Add(o.CollateralDelta)
	}
	if err := e.deps.Accounts.Credit(ctx, o.Account, asset, refund); err != nil {
		return model.Event{}, fmt.Errorf("refund collateral: %w", err)
	}
	e.moveCustody(asset, released.Neg())

	delete(p.st.Orders, o.ID)
	e.index.removeOrder(o.Account, model.OrderRef{Pair: p.key, OrderID: o.ID})

	ev := newEvent(model.EventOrderCancelled, p.key, p.st, now)
	fillOrderEvent(&ev, o)
	ev.CancelReason = reason
	e.emit(ctx, ev)

	slog.Info("order cancelled",
		"pair", p.key.String(),
		"order_id", o.ID,
		"account", o.Account,
		"reason", reason,
	)
	return ev, nil
}
