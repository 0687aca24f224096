// Package money centralizes currency arithmetic for assembled orders.
// The optimizer searches in raw float64; invoice amounts are computed here
// with decimals and rounded half-up to cents.
package money

import "github.com/shopspring/decimal"

// Round2 rounds an amount to cents.
func Round2(v float64) float64 {
	return decimal.NewFromFloat(v).Round(2).InexactFloat64()
}

// Line computes a line total: unit price times quantity, rounded to cents.
func Line(unitPrice float64, qty int) float64 {
	return decimal.NewFromFloat(unitPrice).
		Mul(decimal.NewFromInt(int64(qty))).
		Round(2).
		InexactFloat64()
}

// Tax computes tax on a subtotal at the given rate, rounded to cents.
// Shipping is never taxed.
func Tax(subtotal, rate float64) float64 {
	return decimal.NewFromFloat(subtotal).
		Mul(decimal.NewFromFloat(rate)).
		Round(2).
		InexactFloat64()
}

// Sum adds amounts exactly and rounds the result to cents.
func Sum(vs ...float64) float64 {
	total := decimal.Zero
	for _, v := range vs {
		total = total.Add(decimal.NewFromFloat(v))
	}
	return total.Round(2).InexactFloat64()
}
