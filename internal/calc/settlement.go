package calc

import "github.com/shopspring/decimal"

// Settlement is the money movement of a decrease or exit.
type Settlement struct {
	// VaultDelta is PnL net of the risk fee. Positive: the vault pays the
	// position. Negative: the position pays the vault.
	VaultDelta decimal.Decimal
	// Fee is the exit fee actually collected.
	Fee decimal.Decimal
	// Payout is returned to the owner.
	Payout decimal.Decimal
	// Collateral is what remains in the position.
	Collateral decimal.Decimal
}

// SettlePartial settles a decrease that leaves size in the position. The
// net result is applied to the requested collateral withdrawal first; a
// negative payout is taken from the remaining collateral instead.
//
// The remaining collateral may come out negative; callers must reject that.
func SettlePartial(collateral, collateralDelta, pnl, riskFee, exitFee decimal.Decimal) Settlement {
	vaultDelta := pnl.Sub(riskFee)
	payout := collateralDelta.Add(vaultDelta).Sub(exitFee)
	remaining := collateral.Sub(collateralDelta)
	if payout.IsNegative() {
		remaining = remaining.Add(payout)
		payout = decimal.Zero
	}
	return Settlement{
		VaultDelta: vaultDelta,
		Fee:        exitFee,
		Payout:     payout,
		Collateral: remaining,
	}
}

// SettleClose settles a decrease that closes the position. The loss leg
// is capped by the collateral; the exit fee is taken from what is left, so
// a shortfall reduces the fee rather than failing the close.
func SettleClose(collateral, pnl, riskFee, exitFee decimal.Decimal) Settlement {
	vaultDelta := pnl.Sub(riskFee)
	available := collateral
	if vaultDelta.IsNegative() {
		loss := decimal.Min(vaultDelta.Neg(), available)
		vaultDelta = loss.Neg()
		available = available.Sub(loss)
	} else {
		available = available.Add(vaultDelta)
	}
	fee := decimal.Min(exitFee, available)
	return Settlement{
		VaultDelta: vaultDelta,
		Fee:        fee,
		Payout:     available.Sub(fee),
		Collateral: decimal.Zero,
	}
}
