// Package calc implements the fee and risk arithmetic of the settlement
// engine: price impact, spread, trading fees, PnL, leverage, funding and
// rollover accrual, and the split of a settlement between the liquidity
// vault, the fee distributor and the trader.
//
// Every function is pure. Amounts are integer-valued decimals; rates are
// integers over Precision. Integer division truncates toward zero, the
// same way fixed-point ledgers do. Accumulators are the one exception and
// keep a fractional part so that frequent accruals do not lose value.
package calc

import (
	"errors"

	"github.com/shopspring/decimal"
)

var (
	// ErrZeroCollateral is returned when leverage is requested for a
	// position without collateral.
	ErrZeroCollateral = errors.New("calc: collateral must be positive")

	// Precision is the denominator of every rate, fee and leverage value.
	// 5x leverage is 5_000_000; a 0.05% fee is 500.
	Precision = decimal.NewFromInt(1_000_000)

	// RatePeriodSeconds is the period that time-based rates are quoted in.
	RatePeriodSeconds = decimal.NewFromInt(3600)

	// AccumulatorScale bounds the fractional digits kept in accumulators.
	AccumulatorScale int32 = 18

	one = decimal.NewFromInt(1)
	two = decimal.NewFromInt(2)
)

// MulDiv returns a*b/c truncated toward zero. A zero divisor yields zero.
func MulDiv(a, b, c decimal.Decimal) decimal.Decimal {
	if c.IsZero() {
		return decimal.Zero
	}
	q, _ := a.Mul(b).QuoRem(c, 0)
	return q
}

// IsBuy reports whether a trade adds to the long side of the skew: opening
// a long or closing a short.
func IsBuy(isLong, isIncrease bool) bool {
	return isLong == isIncrease
}

// Skew returns long minus short open interest.
func Skew(longOI, shortOI decimal.Decimal) decimal.Decimal {
	return longOI.Sub(shortOI)
}

// PriceImpact adjusts price by the average skew the trade moves through,
// relative to the configured market depth:
//
//	impacted = price + price * (skew + skew') / (2 * depth)
//
// where skew' is the skew after the trade. A zero depth disables impact.
// The result never drops below one unit.
func PriceImpact(price, size decimal.Decimal, isBuy bool, longOI, shortOI, depth decimal.Decimal) decimal.Decimal {
	if !depth.IsPositive() || !size.IsPositive() {
		return price
	}
	skew := Skew(longOI, shortOI)
	after := skew.Sub(size)
	if isBuy {
		after = skew.Add(size)
	}
	impacted := price.Add(MulDiv(price, skew.Add(after), depth.Mul(two)))
	if impacted.LessThan(one) {
		return one
	}
	return impacted
}

// ApplySpread widens price against the trader: buys pay price*(1+spread),
// sells receive price*(1-spread).
func ApplySpread(price, spread decimal.Decimal, isBuy bool) decimal.Decimal {
	if !spread.IsPositive() {
		return price
	}
	if isBuy {
		return MulDiv(price, Precision.Add(spread), Precision)
	}
	return MulDiv(price, Precision.Sub(spread), Precision)
}

// MakerTakerFee charges makerFee on the part of size that reduces the
// absolute skew and takerFee on the remainder.
func MakerTakerFee(size decimal.Decimal, isBuy bool, longOI, shortOI, makerFee, takerFee decimal.Decimal) decimal.Decimal {
	skew := Skew(longOI, shortOI)
	maker := decimal.Zero
	switch {
	case isBuy && skew.IsNegative():
		maker = decimal.Min(size, skew.Neg())
	case !isBuy && skew.IsPositive():
		maker = decimal.Min(size, skew)
	}
	taker := size.Sub(maker)
	return MulDiv(maker, makerFee, Precision).Add(MulDiv(taker, takerFee, Precision))
}

// FlatFee charges rate on the full size.
func FlatFee(size, rate decimal.Decimal) decimal.Decimal {
	return MulDiv(size, rate, Precision)
}

// PnL returns the signed profit of closing size at exit for a position
// entered at entry. Sizes are notional, so the price move is applied as a
// fraction of the entry price.
func PnL(entry, exit, size decimal.Decimal, isLong bool) decimal.Decimal {
	if !entry.IsPositive() {
		return decimal.Zero
	}
	move := exit.Sub(entry)
	if !isLong {
		move = move.Neg()
	}
	return MulDiv(move, size, entry)
}

// Leverage returns size/collateral over Precision.
func Leverage(size, collateral decimal.Decimal) (decimal.Decimal, error) {
	if !collateral.IsPositive() {
		return decimal.Zero, ErrZeroCollateral
	}
	return MulDiv(size, Precision, collateral), nil
}

// WithinLeverage reports whether size/collateral lies in [min, max] with
// one unit of tolerance on each side for integer rounding.
func WithinLeverage(size, collateral, min, max decimal.Decimal) bool {
	if !collateral.IsPositive() {
		return false
	}
	scaled := size.Mul(Precision)
	lo := min.Sub(one).Mul(collateral)
	hi := max.Add(one).Mul(collateral)
	return scaled.GreaterThanOrEqual(lo) && scaled.LessThanOrEqual(hi)
}

// ClampSizeToLeverage resizes size so that size/collateral lies within
// [min, max].
func ClampSizeToLeverage(size, collateral, min, max decimal.Decimal) decimal.Decimal {
	maxSize := MulDiv(collateral, max, Precision)
	if size.GreaterThan(maxSize) {
		return maxSize
	}
	minSize := MulDiv(collateral, min, Precision)
	if size.LessThan(minSize) {
		return minSize
	}
	return size
}

// AveragePrice blends a new fill of delta at price into a position of size
// at avg. Sizes are notional, so the blend is harmonic:
//
//	avg' = (size + delta) * avg * price / (size * price + delta * avg)
func AveragePrice(size, avg, delta, price decimal.Decimal) decimal.Decimal {
	if !size.IsPositive() || !avg.IsPositive() {
		return price
	}
	if !delta.IsPositive() {
		return avg
	}
	num := size.Add(delta).Mul(avg).Mul(price)
	den := size.Mul(price).Add(delta.Mul(avg))
	return MulDiv(num, one, den)
}

// accrue returns rate * elapsed / RatePeriodSeconds at accumulator scale.
func accrue(rate decimal.Decimal, elapsed int64) decimal.Decimal {
	return rate.Mul(decimal.NewFromInt(elapsed)).
		DivRound(RatePeriodSeconds, AccumulatorScale)
}

// RolloverDelta is the rollover accumulator advance over elapsed seconds.
func RolloverDelta(rate decimal.Decimal, elapsed int64) decimal.Decimal {
	if elapsed <= 0 {
		return decimal.Zero
	}
	return accrue(rate, elapsed)
}

// FlatFundingRate scales the configured rate by the relative skew:
//
//	rate = fundingRate * (long - short) / (long + short)
//
// Positive means longs pay.
func FlatFundingRate(fundingRate, longOI, shortOI decimal.Decimal) decimal.Decimal {
	total := longOI.Add(shortOI)
	if !total.IsPositive() {
		return decimal.Zero
	}
	return MulDiv(fundingRate, Skew(longOI, shortOI), total)
}

// FlatFundingDelta is the funding accumulator advance of the flat model.
func FlatFundingDelta(rate decimal.Decimal, elapsed int64) decimal.Decimal {
	if elapsed <= 0 {
		return decimal.Zero
	}
	return accrue(rate, elapsed)
}

// VelocityFunding advances the funding rate of the skew-velocity model and
// returns the new rate with the accumulator advance over elapsed seconds.
//
//	prop     = clamp(skew / skewFactor, -1, 1)
//	velocity = prop * maxVelocity
//	rate'    = clamp(rate + velocity * elapsed, ±maxRate)
//	acc     += (rate + rate') / 2 * elapsed
//
// A zero maxRate leaves the rate uncapped.
func VelocityFunding(rate, skew, skewFactor, maxVelocity, maxRate decimal.Decimal, elapsed int64) (decimal.Decimal, decimal.Decimal) {
	if elapsed <= 0 {
		return rate, decimal.Zero
	}
	prop := decimal.Zero
	if skewFactor.IsPositive() {
		prop = MulDiv(skew, Precision, skewFactor)
		prop = decimal.Min(decimal.Max(prop, Precision.Neg()), Precision)
	}
	velocity := MulDiv(prop, maxVelocity, Precision)
	next := rate.Add(accrue(velocity, elapsed))
	if maxRate.IsPositive() {
		next = decimal.Min(decimal.Max(next, maxRate.Neg()), maxRate)
	}
	mid := rate.Add(next).Div(two)
	return next, accrue(mid, elapsed)
}

// RolloverFee is what a position owes for holding collateral since its
// accumulator snapshot.
func RolloverFee(accNow, accEntry, collateral decimal.Decimal) decimal.Decimal {
	fee := MulDiv(accNow.Sub(accEntry), collateral, Precision)
	if fee.IsNegative() {
		return decimal.Zero
	}
	return fee
}

// FundingFee is the signed funding owed by a position since its snapshot.
// Positive means the position pays.
func FundingFee(accNow, accEntry, size decimal.Decimal, isLong bool) decimal.Decimal {
	fee := MulDiv(accNow.Sub(accEntry), size, Precision)
	if !isLong {
		return fee.Neg()
	}
	return fee
}

// MaxProfit caps the profit of closing sizeDelta out of size as a multiple
// of the proportional collateral.
func MaxProfit(collateral, sizeDelta, size, maxProfit decimal.Decimal) decimal.Decimal {
	if !size.IsPositive() {
		return decimal.Zero
	}
	portion := MulDiv(collateral, sizeDelta, size)
	return MulDiv(portion, maxProfit, Precision)
}

// TakeProfitEdge is the price at which a position reaches its maximum
// profit. For shorts the edge is floored at zero.
func TakeProfitEdge(avg, size, collateral, maxProfit decimal.Decimal, isLong bool) decimal.Decimal {
	if !size.IsPositive() {
		return decimal.Zero
	}
	limit := MulDiv(collateral, maxProfit, Precision)
	move := MulDiv(avg, limit, size)
	if isLong {
		return avg.Add(move)
	}
	edge := avg.Sub(move)
	if edge.IsNegative() {
		return decimal.Zero
	}
	return edge
}

// ClampTakeProfit keeps tp inside the maximum-profit envelope. A zero tp
// is set to the envelope edge.
func ClampTakeProfit(tp, edge decimal.Decimal, isLong bool) decimal.Decimal {
	if isLong {
		if tp.IsZero() || tp.GreaterThan(edge) {
			return edge
		}
		return tp
	}
	if !edge.IsPositive() {
		return tp
	}
	if tp.IsZero() || tp.LessThan(edge) {
		return edge
	}
	return tp
}

// LiquidationLevel is the remaining collateral at or under which a
// position may be liquidated.
func LiquidationLevel(collateral, threshold decimal.Decimal) decimal.Decimal {
	return MulDiv(collateral, threshold, Precision)
}
