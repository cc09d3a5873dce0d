package engine

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atmx/settlement-engine/internal/model"
)

func TestPlaceOrder_Increase(t *testing.T) {
	h := newHarness(t)

	o := h.place(h.increaseReq("alice", true, 1_000_000, 100_000))

	assert.Equal(t, uint64(1), o.ID)
	assert.NotEmpty(t, o.PositionID)
	assert.True(t, h.balance("alice").Equal(d(900_000)))
	assert.True(t, h.eng.Custody("USDC").Equal(d(100_000)))

	// A pending zero position backs the order.
	pos := h.position("alice", true)
	assert.Equal(t, o.PositionID, pos.ID)
	assert.True(t, pos.Size.IsZero())
	assert.Empty(t, h.eng.PositionsOf("alice"))

	orders := h.eng.OrdersOf("alice")
	require.Len(t, orders, 1)
	assert.Equal(t, o.ID, orders[0].ID)

	ev, ok := h.rec.Last()
	require.True(t, ok)
	assert.Equal(t, model.EventOrderPlaced, ev.Type)
	assert.Equal(t, o.ID, ev.OrderID)

	h.checkInvariants()
}

func TestPlaceOrder_PositionIDReused(t *testing.T) {
	h := newHarness(t)

	first := h.place(h.increaseReq("alice", true, 1_000_000, 100_000))
	second := h.place(h.increaseReq("alice", true, 1_000_000, 100_000))
	assert.Equal(t, first.PositionID, second.PositionID)
	assert.Equal(t, first.ID+1, second.ID)

	short := h.place(h.increaseReq("alice", false, 1_000_000, 100_000))
	assert.NotEqual(t, first.PositionID, short.PositionID)
}

func TestPlaceOrder_Rejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*PlaceRequest)
		want   error
	}{
		{"zero price", func(r *PlaceRequest) { r.Price = d(0) }, ErrZeroPrice},
		{"zero collateral", func(r *PlaceRequest) { r.CollateralDelta = d(0) }, ErrZeroCollateral},
		{"negative size", func(r *PlaceRequest) { r.SizeDelta = d(-1) }, ErrInvalidSize},
		{"order collateral", func(r *PlaceRequest) { r.CollateralDelta = d(999); r.SizeDelta = d(5000) }, ErrOrderCollateralTooLow},
		{"position size", func(r *PlaceRequest) { r.SizeDelta = d(0) }, ErrPositionSizeTooSmall},
		{"over max leverage", func(r *PlaceRequest) { r.SizeDelta = d(6_000_000) }, ErrLeverageOutOfBounds},
		{"under min leverage", func(r *PlaceRequest) { r.SizeDelta = d(50_000) }, ErrLeverageOutOfBounds},
		{"fractional size", func(r *PlaceRequest) { r.SizeDelta = decimal.RequireFromString("1000000.5") }, ErrNotWhole},
		{"fractional collateral", func(r *PlaceRequest) { r.CollateralDelta = decimal.RequireFromString("100000.75") }, ErrNotWhole},
		{"fractional price", func(r *PlaceRequest) { r.Price = decimal.RequireFromString("30000.123") }, ErrNotWhole},
		{"fractional stop loss", func(r *PlaceRequest) { r.StopLoss = decimal.RequireFromString("95000.5") }, ErrNotWhole},
		{"pair missing", func(r *PlaceRequest) { r.Pair = model.PairKey{Instrument: "ETH_USD", Collateral: "USDC"} }, ErrPairNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			req := h.increaseReq("alice", true, 1_000_000, 100_000)
			tt.mutate(&req)

			_, err := h.eng.PlaceOrder(h.ctx, req)
			assert.ErrorIs(t, err, tt.want)
			assert.True(t, h.balance("alice").Equal(d(1_000_000)), "balance moved on rejected order")
			assert.Empty(t, h.eng.OrdersOf("alice"))
		})
	}
}

func TestPlaceOrder_EntryFeeExceedsDeposit(t *testing.T) {
	h := newHarness(t, func(c *model.PairConfig) {
		c.EntryFee = d(200_000)
	})

	// 20% of 1M size is 200_000, more than the 100_000 deposited.
	_, err := h.eng.PlaceOrder(h.ctx, h.increaseReq("alice", true, 1_000_000, 100_000))
	assert.ErrorIs(t, err, ErrEntryFeeExceedsDeposit)
	assert.True(t, h.balance("alice").Equal(d(1_000_000)))
}

func TestPlaceOrder_PositionCollateralBounds(t *testing.T) {
	h := newHarness(t, func(c *model.PairConfig) {
		c.MaxPositionCollateral = d(150_000)
	})
	h.open("alice", true, 1_000_000, 100_000, 100_000)

	// 99_000 held + 60_000 new - fee exceeds the ceiling.
	_, err := h.eng.PlaceOrder(h.ctx, h.increaseReq("alice", true, 600_000, 60_000))
	assert.ErrorIs(t, err, ErrPositionCollateral)
}

func TestPlaceOrder_MaxOpenInterest(t *testing.T) {
	h := newHarness(t, func(c *model.PairConfig) {
		c.MaxOpenInterest = d(1_500_000)
	})
	h.open("alice", true, 1_000_000, 100_000, 100_000)

	_, err := h.eng.PlaceOrder(h.ctx, h.increaseReq("bob", true, 1_000_000, 100_000))
	assert.ErrorIs(t, err, ErrMaxOpenInterest)

	// The other side is unaffected.
	h.place(h.increaseReq("bob", false, 1_000_000, 100_000))
}

func TestPlaceOrder_InsufficientBalance(t *testing.T) {
	h := newHarness(t)
	_, err := h.eng.PlaceOrder(h.ctx, h.increaseReq("alice", true, 10_000_000, 1_000_001))
	assert.Error(t, err)
	assert.True(t, h.eng.Custody("USDC").IsZero())
	h.checkInvariants()
}

func TestPlaceOrder_Decrease(t *testing.T) {
	h := newHarness(t)

	_, err := h.eng.PlaceOrder(h.ctx, h.decreaseReq("alice", true, 500_000, 0))
	assert.ErrorIs(t, err, ErrPositionNotFound)

	h.open("alice", true, 1_000_000, 100_000, 100_000)

	_, err = h.eng.PlaceOrder(h.ctx, h.decreaseReq("alice", true, 1_000_001, 0))
	assert.ErrorIs(t, err, ErrInsufficientSize)

	_, err = h.eng.PlaceOrder(h.ctx, h.decreaseReq("alice", true, 999_500, 0))
	assert.ErrorIs(t, err, ErrPositionSizeTooSmall)

	_, err = h.eng.PlaceOrder(h.ctx, h.decreaseReq("alice", true, 0, 0))
	assert.ErrorIs(t, err, ErrInvalidSize)

	_, err = h.eng.PlaceOrder(h.ctx, h.decreaseReq("alice", true, 500_000, 200_000))
	assert.ErrorIs(t, err, ErrInvalidCollateral)

	o := h.place(h.decreaseReq("alice", true, 500_000, 0))
	assert.True(t, o.CollateralDelta.IsZero())

	// A full close requests the whole collateral.
	full := h.place(h.decreaseReq("alice", true, 1_000_000, 0))
	assert.True(t, full.CollateralDelta.Equal(d(99_000)))
}

func TestPlaceOrder_Paused(t *testing.T) {
	h := newHarness(t)
	o := h.place(h.increaseReq("alice", true, 1_000_000, 100_000))

	require.NoError(t, h.eng.SetPaused(h.ctx, h.admin, btc, true))

	_, err := h.eng.PlaceOrder(h.ctx, h.increaseReq("alice", true, 1_000_000, 100_000))
	assert.ErrorIs(t, err, ErrPairPaused)
	_, err = h.execute(o.ID, 100_000)
	assert.ErrorIs(t, err, ErrPairPaused)

	// Owners can still get out.
	_, err = h.eng.CancelOrder(h.ctx, "alice", btc, o.ID)
	assert.NoError(t, err)

	require.NoError(t, h.eng.SetPaused(h.ctx, h.admin, btc, false))
	h.place(h.increaseReq("alice", true, 1_000_000, 100_000))
}

func TestPlaceOrder_BreakGuard(t *testing.T) {
	h := newHarness(t)
	h.open("alice", true, 1_000_000, 100_000, 100_000)

	// 25% drawdown trips the soft break.
	require.NoError(t, h.pool.Withdraw(h.ctx, "USDC", d(2_600_000)))

	_, err := h.eng.PlaceOrder(h.ctx, h.increaseReq("bob", true, 1_000_000, 100_000))
	assert.ErrorIs(t, err, ErrSoftBreak)
	h.place(h.decreaseReq("alice", true, 500_000, 0))

	// 60% drawdown trips the hard break.
	require.NoError(t, h.pool.Withdraw(h.ctx, "USDC", d(3_500_000)))

	_, err = h.eng.PlaceOrder(h.ctx, h.increaseReq("bob", true, 1_000_000, 100_000))
	assert.ErrorIs(t, err, ErrHardBreak)
	_, err = h.eng.PlaceOrder(h.ctx, h.decreaseReq("alice", true, 500_000, 0))
	assert.ErrorIs(t, err, ErrHardBreak)
}

func TestPlaceOrder_ExecutionFee(t *testing.T) {
	h := newHarness(t, func(c *model.PairConfig) {
		c.ExecutionFee = d(50)
	})

	o := h.place(h.increaseReq("alice", true, 1_000_000, 100_000))
	assert.True(t, o.ExecutionFee.Equal(d(50)))
	assert.True(t, h.balance("alice").Equal(d(899_950)))

	h.mustExecute(o.ID, 100_000)
	assert.True(t, h.balance("keeper").Equal(d(50)))
	h.checkInvariants()
}

func TestCancelOrder(t *testing.T) {
	h := newHarness(t, func(c *model.PairConfig) {
		c.ExecutionFee = d(50)
	})
	o := h.place(h.increaseReq("alice", true, 1_000_000, 100_000))

	_, err := h.eng.CancelOrder(h.ctx, "bob", btc, o.ID)
	assert.ErrorIs(t, err, ErrNotOwner)

	ev, err := h.eng.CancelOrder(h.ctx, "alice", btc, o.ID)
	require.NoError(t, err)
	assert.Equal(t, model.EventOrderCancelled, ev.Type)
	assert.Equal(t, model.CancelByOwner, ev.CancelReason)

	// Collateral and execution fee come back untouched.
	assert.True(t, h.balance("alice").Equal(d(1_000_000)))
	assert.True(t, h.eng.Custody("USDC").IsZero())
	assert.Empty(t, h.eng.OrdersOf("alice"))

	_, err = h.eng.CancelOrder(h.ctx, "alice", btc, o.ID)
	assert.ErrorIs(t, err, ErrOrderNotFound)
	h.checkInvariants()
}

func TestCancelOrder_Decrease(t *testing.T) {
	h := newHarness(t)
	h.open("alice", true, 1_000_000, 100_000, 100_000)
	before := h.balance("alice")

	o := h.place(h.decreaseReq("alice", true, 500_000, 10_000))
	_, err := h.eng.CancelOrder(h.ctx, "alice", btc, o.ID)
	require.NoError(t, err)

	// Decrease orders hold no collateral of their own.
	assert.True(t, h.balance("alice").Equal(before))
	assert.True(t, h.position("alice", true).Collateral.Equal(d(99_000)))
	h.checkInvariants()
}
