package engine

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atmx/settlement-engine/internal/model"
)

func (h *harness) exit(account string, isLong bool, price int64) (model.Event, error) {
	return h.eng.ExecuteExit(h.ctx, h.exec, btc, account, isLong, d(price), nil)
}

func (h *harness) openWithTriggers(account string, isLong bool, sl, tp int64) {
	h.t.Helper()
	req := h.increaseReq(account, isLong, 1_000_000, 100_000)
	req.StopLoss = d(sl)
	req.TakeProfit = d(tp)
	o := h.place(req)
	h.mustExecute(o.ID, 100_000)
}

func TestExecuteExit_ConditionNotMet(t *testing.T) {
	h := newHarness(t)
	h.openWithTriggers("alice", true, 95_000, 120_000)

	_, err := h.exit("alice", true, 100_000)
	assert.ErrorIs(t, err, ErrExitConditionNotMet)
	assert.True(t, h.position("alice", true).Size.Equal(d(1_000_000)))
	h.checkInvariants()
}

func TestExecuteExit_StopLoss(t *testing.T) {
	h := newHarness(t)
	h.openWithTriggers("alice", true, 95_000, 120_000)

	ev, err := h.exit("alice", true, 94_000)
	require.NoError(t, err)

	assert.Equal(t, model.EventPositionStopLoss, ev.Type)
	assert.True(t, ev.PnL.Equal(d(-60_000)))
	assert.True(t, ev.Payout.Equal(d(38_000)))
	assert.True(t, h.balance("alice").Equal(d(938_000)))
	pos := h.position("alice", true)
	assert.False(t, pos.IsOpen())
	assert.Empty(t, h.eng.PositionsOf("alice"))
	h.checkInvariants()
}

func TestExecuteExit_TakeProfit(t *testing.T) {
	h := newHarness(t)
	h.openWithTriggers("alice", true, 95_000, 120_000)

	ev, err := h.exit("alice", true, 121_000)
	require.NoError(t, err)

	assert.Equal(t, model.EventPositionTakeProfit, ev.Type)
	assert.True(t, ev.PnL.Equal(d(210_000)))
	assert.True(t, ev.Payout.Equal(d(308_000)))
	h.checkInvariants()
}

func TestExecuteExit_Liquidation(t *testing.T) {
	h := newHarness(t, func(c *model.PairConfig) {
		c.ExecutionCooldown = time.Hour
	})
	h.openWithTriggers("alice", true, 95_000, 120_000)

	// The stop loss is crossed too; liquidation wins. Liquidations are
	// not subject to the cooldown.
	ev, err := h.exit("alice", true, 91_000)
	require.NoError(t, err)

	assert.Equal(t, model.EventPositionLiquidated, ev.Type)
	assert.True(t, ev.PnL.Equal(d(-90_000)))
	assert.True(t, ev.ExitFee.Equal(d(1000)))
	assert.True(t, ev.Payout.Equal(d(8000)))
	h.checkInvariants()
}

func TestExecuteExit_CooldownAppliesToTriggers(t *testing.T) {
	h := newHarness(t, func(c *model.PairConfig) {
		c.ExecutionCooldown = time.Hour
	})
	h.openWithTriggers("alice", true, 95_000, 120_000)

	_, err := h.exit("alice", true, 94_000)
	assert.ErrorIs(t, err, ErrCooldownActive)
}

func TestExecuteExit_LiquidationShortfallReducesFee(t *testing.T) {
	h := newHarness(t)
	h.openWithTriggers("alice", false, 0, 0)

	// A 100% move against the short wipes out the collateral; the fee is
	// what absorbs the shortfall.
	ev, err := h.exit("alice", false, 200_000)
	require.NoError(t, err)

	assert.Equal(t, model.EventPositionLiquidated, ev.Type)
	assert.True(t, ev.ExitFee.IsZero())
	assert.True(t, ev.Payout.IsZero())
	assert.True(t, h.balance("alice").Equal(d(900_000)))
	h.checkInvariants()
}

func TestExecuteExit_MaxProfit(t *testing.T) {
	h := newHarness(t, func(c *model.PairConfig) {
		c.MaxProfit = d(1_000_000)
	})
	h.openWithTriggers("alice", true, 0, 0)

	ev, err := h.exit("alice", true, 300_000)
	require.NoError(t, err)

	// Capped at 1x the collateral.
	assert.Equal(t, model.EventPositionTakeProfit, ev.Type)
	assert.True(t, ev.PnL.Equal(d(99_000)))
	h.checkInvariants()
}

func TestExecuteExit_ProfitCapOrdering(t *testing.T) {
	setup := func(t *testing.T, afterRiskFee bool) model.Event {
		h := newHarness(t, func(c *model.PairConfig) {
			c.MaxProfit = d(1_000_000)
			c.RolloverRate = d(36_000)
			c.CapProfitAfterRiskFee = afterRiskFee
		})
		h.openWithTriggers("alice", true, 0, 0)
		h.clock.Advance(time.Hour)

		ev, err := h.exit("alice", true, 200_000)
		require.NoError(t, err)
		h.checkInvariants()
		return ev
	}

	// Rollover over one hour: 36_000 * 99_000 / 1_000_000.
	before := setup(t, false)
	assert.True(t, before.RolloverFee.Equal(d(3564)))
	assert.True(t, before.PnL.Equal(d(99_000)))

	after := setup(t, true)
	assert.True(t, after.PnL.Equal(d(95_436)))
}

func TestExecuteExit_PositionNotFound(t *testing.T) {
	h := newHarness(t)
	_, err := h.exit("alice", true, 100_000)
	assert.ErrorIs(t, err, ErrPositionNotFound)
}

func TestFunding_Flat(t *testing.T) {
	h := newHarness(t, func(c *model.PairConfig) {
		c.FundingRate = d(3600)
	})
	h.open("alice", true, 1_000_000, 100_000, 100_000)
	h.clock.Advance(time.Hour)

	o := h.place(h.decreaseReq("alice", true, 1_000_000, 0))
	ev := h.mustExecute(o.ID, 100_000)

	// Longs carry all of the skew and pay the full rate.
	assert.True(t, ev.FundingFee.Equal(d(3600)))
	assert.True(t, ev.Payout.Equal(d(99_000-3600-1000)))

	snap, err := h.eng.Snapshot(btc)
	require.NoError(t, err)
	assert.True(t, snap.State.FundingRate.Equal(d(3600)))
	h.checkInvariants()
}

func TestFunding_FlatBalancedBook(t *testing.T) {
	h := newHarness(t, func(c *model.PairConfig) {
		c.FundingRate = d(3600)
	})
	h.open("alice", true, 1_000_000, 100_000, 100_000)
	h.open("bob", false, 1_000_000, 100_000, 100_000)
	h.clock.Advance(time.Hour)

	o := h.place(h.decreaseReq("alice", true, 1_000_000, 0))
	ev := h.mustExecute(o.ID, 100_000)
	assert.True(t, ev.FundingFee.IsZero())
}

func TestFunding_Velocity(t *testing.T) {
	h := newHarness(t, func(c *model.PairConfig) {
		c.FundingModel = model.FundingModelVelocity
		c.SkewFactor = d(1_000_000)
		c.MaxFundingVelocity = d(3600)
	})
	h.open("alice", true, 1_000_000, 100_000, 100_000)
	h.open("bob", false, 500_000, 100_000, 100_000)
	h.clock.Advance(time.Hour)

	o := h.place(h.decreaseReq("alice", true, 1_000_000, 0))
	ev := h.mustExecute(o.ID, 100_000)

	// Skew 500k of a 1M factor: the rate drifts to 1800 over the hour and
	// the accumulator takes the average, 900.
	assert.True(t, ev.FundingFee.Equal(d(900)))

	// Shorts receive what longs pay.
	o = h.place(h.decreaseReq("bob", false, 500_000, 0))
	ev = h.mustExecute(o.ID, 100_000)
	assert.True(t, ev.FundingFee.Equal(d(-450)))
	assert.True(t, ev.Payout.Equal(d(99_500+450-500)))
	h.checkInvariants()
}

func TestAccrue_IdempotentWithinSecond(t *testing.T) {
	cfg := baseConfig()
	cfg.RolloverRate = d(3600)
	st := model.NewPairState(time.Unix(1_700_000_000, 0))

	now := time.Unix(1_700_000_010, 500_000_000)
	accrue(cfg, st, now)
	accrue(cfg, st, now)

	assert.True(t, st.AccRollover.Equal(d(10)))
	// The half second carries over.
	assert.Equal(t, time.Unix(1_700_000_010, 0), st.LastAccrual)

	accrue(cfg, st, now.Add(-time.Minute))
	assert.Equal(t, time.Unix(1_700_000_010, 0), st.LastAccrual, "accrual never moves backwards")
}

func TestInvariants_MixedFlow(t *testing.T) {
	h := newHarness(t, func(c *model.PairConfig) {
		c.FeeModel = model.FeeModelMakerTaker
		c.MakerFee = d(200)
		c.TakerFee = d(700)
		c.FundingModel = model.FundingModelVelocity
		c.SkewFactor = d(5_000_000)
		c.MaxFundingVelocity = d(7200)
		c.RolloverRate = d(100)
		c.MarketDepth = d(100_000_000)
	})

	prices := []int64{100_000, 101_500, 98_700, 103_200, 99_900, 104_400}
	for i, px := range prices {
		h.clock.Advance(17 * time.Minute)
		for j, account := range []string{"alice", "bob", "carol"} {
			isLong := (i+j)%2 == 0
			if existing, err := h.eng.Position(btc, account, isLong); err == nil && existing.IsOpen() && i%3 == 2 {
				o := h.place(h.decreaseReq(account, isLong, existing.Size.IntPart()/2, 0))
				_, err := h.execute(o.ID, px)
				require.NoError(t, err)
			} else {
				o := h.place(h.increaseReq(account, isLong, 300_000+int64(j)*100_000, 40_000))
				_, err := h.execute(o.ID, px)
				require.NoError(t, err)
			}
			h.checkInvariants()
		}
	}

	for _, account := range []string{"alice", "bob", "carol"} {
		for _, pos := range h.eng.PositionsOf(account) {
			o := h.place(h.decreaseReq(account, pos.IsLong, pos.Size.IntPart(), 0))
			h.mustExecute(o.ID, 100_000)
		}
	}
	h.checkInvariants()

	snap, err := h.eng.Snapshot(btc)
	require.NoError(t, err)
	assert.True(t, snap.State.LongOpenInterest.IsZero())
	assert.True(t, snap.State.ShortOpenInterest.IsZero())
	assert.True(t, h.eng.Custody("USDC").IsZero())
}

func TestExecuteExit_FractionalPrice(t *testing.T) {
	h := newHarness(t)
	h.openWithTriggers("alice", true, 95_000, 120_000)

	_, err := h.eng.ExecuteExit(h.ctx, h.exec, btc, "alice", true, decimal.RequireFromString("94000.5"), nil)
	assert.ErrorIs(t, err, ErrNotWhole)
	pos := h.position("alice", true)
	assert.True(t, pos.IsOpen())
}
