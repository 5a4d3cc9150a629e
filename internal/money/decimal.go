// Package money centralises the fixed-precision arithmetic the crash
// engine relies on for multipliers and wagered amounts. Binary floats
// drift at the boundary; every quantity that crosses the wire or
// touches a wallet goes through decimal.Decimal instead.
package money

import "github.com/shopspring/decimal"

// hundred is used by FloorTo2 for the "floor to two decimals" rule.
var hundred = decimal.NewFromInt(100)

// FloorTo2 truncates d to two decimal places without rounding, matching
// the "floor(raw * 100) / 100" step of the crash-point derivation.
func FloorTo2(d decimal.Decimal) decimal.Decimal {
	return d.Mul(hundred).Floor().Div(hundred)
}

// MultiplierString renders a multiplier as a two-fractional-digit
// decimal string for the wire.
func MultiplierString(d decimal.Decimal) string {
	return d.StringFixed(2)
}

// AmountString renders a monetary amount at full precision for the wire.
func AmountString(d decimal.Decimal) string {
	return d.String()
}

// Payout computes amount * multiplier, the single payout law used by
// both manual and automatic cashouts.
func Payout(amount, multiplier decimal.Decimal) decimal.Decimal {
	return amount.Mul(multiplier)
}
