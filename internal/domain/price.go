package domain

import "github.com/shopspring/decimal"

// One is the maximum price of a binary-outcome share.
var One = decimal.NewFromInt(1)

// FloorToTick rounds price down to a multiple of tick.
func FloorToTick(price, tick decimal.Decimal) decimal.Decimal {
	if !tick.IsPositive() {
		return price
	}
	return price.Div(tick).Floor().Mul(tick)
}

// CeilToTick rounds price up to a multiple of tick.
func CeilToTick(price, tick decimal.Decimal) decimal.Decimal {
	if !tick.IsPositive() {
		return price
	}
	return price.Div(tick).Ceil().Mul(tick)
}

// ClampPrice keeps a quote inside the valid band [tick, 1-tick].
func ClampPrice(price, tick decimal.Decimal) decimal.Decimal {
	max := One.Sub(tick)
	if price.LessThan(tick) {
		return tick
	}
	if price.GreaterThan(max) {
		return max
	}
	return price
}

// ValidPrice reports whether price is strictly inside (0, 1) and on the
// tick grid. Prices of exactly 0 or 1 are never tradable.
func ValidPrice(price, tick decimal.Decimal) bool {
	if !price.IsPositive() || price.GreaterThanOrEqual(One) {
		return false
	}
	if !tick.IsPositive() {
		return true
	}
	return price.Mod(tick).IsZero()
}

// BPSFactor converts basis points to a multiplier, e.g. 25 -> 0.0025.
func BPSFactor(bps float64) decimal.Decimal {
	return decimal.NewFromFloat(bps).Div(decimal.NewFromInt(10_000))
}
