package types

import "github.com/shopspring/decimal"

// ClampDecimal restricts v to [lo, hi].
func ClampDecimal(v, lo, hi decimal.Decimal) decimal.Decimal {
	if v.LessThan(lo) {
		return lo
	}
	if v.GreaterThan(hi) {
		return hi
	}
	return v
}

// PercentChange returns (to-from)/from. Callers must guard against a zero
// "from" themselves — returning zero here would silently hide a div-by-zero
// bug in a caller that forgot to check.
func PercentChange(from, to decimal.Decimal) decimal.Decimal {
	return to.Sub(from).Div(from)
}

// RoundToTick rounds v down to the nearest multiple of tick (tick must be
// positive). Used to quantize order prices to venue precision.
func RoundToTick(v, tick decimal.Decimal) decimal.Decimal {
	if tick.IsZero() {
		return v
	}
	units := v.Div(tick).Floor()
	return units.Mul(tick)
}
