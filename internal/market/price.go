package market

import "github.com/shopspring/decimal"

// RoundToIncrement rounds v to the nearest multiple of inc, half away from zero.
// A non-positive increment returns v untouched.
func RoundToIncrement(v, inc float64) float64 {
	if inc <= 0 {
		return v
	}
	step := decimal.NewFromFloat(inc)
	return decimal.NewFromFloat(v).Div(step).Round(0).Mul(step).InexactFloat64()
}

// TruncateToIncrement floors a non-negative quantity to a multiple of inc.
// Negative quantities collapse to zero.
func TruncateToIncrement(v, inc float64) float64 {
	if v <= 0 {
		return 0
	}
	if inc <= 0 {
		return v
	}
	step := decimal.NewFromFloat(inc)
	return decimal.NewFromFloat(v).Div(step).Floor().Mul(step).InexactFloat64()
}
