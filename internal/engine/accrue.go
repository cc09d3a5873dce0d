package engine

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/atmx/settlement-engine/internal/calc"
	"github.com/atmx/settlement-engine/internal/model"
)

// accrue advances the rollover and funding accumulators to now. Time is
// consumed in whole seconds; the remainder carries over to the next call.
func accrue(cfg model.PairConfig, st *model.PairState, now time.Time) {
	elapsed := int64(now.Sub(st.LastAccrual) / time.Second)
	if elapsed <= 0 {
		return
	}

	st.AccRollover = st.AccRollover.Add(calc.RolloverDelta(cfg.RolloverRate, elapsed))

	switch cfg.FundingModel {
	case model.FundingModelFlat:
		rate := calc.FlatFundingRate(cfg.FundingRate, st.LongOpenInterest, st.ShortOpenInterest)
		st.FundingRate = rate
		st.AccFunding = st.AccFunding.Add(calc.FlatFundingDelta(rate, elapsed))
	default:
		rate, delta := calc.VelocityFunding(
			st.FundingRate,
			calc.Skew(st.LongOpenInterest, st.ShortOpenInterest),
			cfg.SkewFactor,
			cfg.MaxFundingVelocity,
			cfg.MaxFundingRate,
			elapsed,
		)
		st.FundingRate = rate
		st.AccFunding = st.AccFunding.Add(delta)
	}

	st.LastAccrual = st.LastAccrual.Add(time.Duration(elapsed) * time.Second)
}

// accruals is the part of a pair state that accrue touches.
type accruals struct {
	rollover decimal.Decimal
	funding  decimal.Decimal
	rate     decimal.Decimal
	last     time.Time
}

func saveAccruals(st *model.PairState) accruals {
	return accruals{
		rollover: st.AccRollover,
		funding:  st.AccFunding,
		rate:     st.FundingRate,
		last:     st.LastAccrual,
	}
}

func (a accruals) restore(st *model.PairState) {
	st.AccRollover = a.rollover
	st.AccFunding = a.funding
	st.FundingRate = a.rate
	st.LastAccrual = a.last
}

// tradeFee is the entry or exit fee for trading size under the pair's
// fee model.
func tradeFee(cfg model.PairConfig, st *model.PairState, size decimal.Decimal, isBuy, isIncrease bool) decimal.Decimal {
	if cfg.FeeModel == model.FeeModelFlat {
		if isIncrease {
			return calc.FlatFee(size, cfg.EntryFee)
		}
		return calc.FlatFee(size, cfg.ExitFee)
	}
	return calc.MakerTakerFee(size, isBuy, st.LongOpenInterest, st.ShortOpenInterest, cfg.MakerFee, cfg.TakerFee)
}

// riskFees returns the rollover and funding a position owes since its
// last snapshot. Their sum is positive when the position pays the vault.
func riskFees(st *model.PairState, pos *model.Position) (rollover, funding decimal.Decimal) {
	if !pos.IsOpen() {
		return decimal.Zero, decimal.Zero
	}
	rollover = calc.RolloverFee(st.AccRollover, pos.EntryRollover, pos.Collateral)
	funding = calc.FundingFee(st.AccFunding, pos.EntryFunding, pos.Size, pos.IsLong)
	return rollover, funding
}

// closeQuote is the settlement math of closing part or all of a position.
type closeQuote struct {
	pnl          decimal.Decimal
	rollover     decimal.Decimal
	funding      decimal.Decimal
	riskFee      decimal.Decimal
	exitFee      decimal.Decimal
	maxProfitHit bool
}

func quoteClose(cfg model.PairConfig, st *model.PairState, pos *model.Position, sizeDelta, price decimal.Decimal) closeQuote {
	var q closeQuote
	q.rollover, q.funding = riskFees(st, pos)
	q.riskFee = q.rollover.Add(q.funding)

	base := pos.Collateral
	if cfg.CapProfitAfterRiskFee {
		base = decimal.Max(base.Sub(q.riskFee), decimal.Zero)
	}
	limit := calc.MaxProfit(base, sizeDelta, pos.Size, cfg.MaxProfit)

	q.pnl = calc.PnL(pos.AvgPrice, price, sizeDelta, pos.IsLong)
	if q.pnl.GreaterThanOrEqual(limit) {
		q.pnl = limit
		q.maxProfitHit = true
	}

	q.exitFee = tradeFee(cfg, st, sizeDelta, calc.IsBuy(pos.IsLong, false), false)
	return q
}
