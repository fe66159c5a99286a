package detectors

import "github.com/shopspring/decimal"

// KellyFraction reports the full-Kelly and half-Kelly (fractional) betting
// fractions for a signal with the given win confidence and expected profit
// per unit staked, clamped to maxPositionPct.
//
// This is a reporting helper surfaced for operators and backtests only — no
// detector's sizing path calls it. Every detector above sizes from its own
// spec-defined formula (capital fraction, max_position, or max_position ×
// confidence); wiring Kelly sizing into any of them would silently change
// documented behavior.
func KellyFraction(winProbability, expectedProfitPerUnit, maxPositionPct decimal.Decimal) (full, half decimal.Decimal) {
	if expectedProfitPerUnit.IsZero() || winProbability.IsZero() {
		return decimal.Zero, decimal.Zero
	}

	lossProbability := decimal.NewFromInt(1).Sub(winProbability)
	// Kelly f* = p - q/b, where b is the profit odds (profit per unit staked).
	full = winProbability.Sub(lossProbability.Div(expectedProfitPerUnit))
	if full.IsNegative() {
		full = decimal.Zero // never short on a detector that doesn't explicitly support it
	}
	full = decimal.Min(full, maxPositionPct)

	half = full.Div(decimal.NewFromInt(2))
	return full, half
}
