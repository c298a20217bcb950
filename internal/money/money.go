// Package money provides decimal-precision USD amount arithmetic for
// pricing, budget and payment math, avoiding float64 rounding drift in
// cost accumulation and variance calculation.
package money

import "github.com/shopspring/decimal"

// Amount is a USD-denominated decimal value.
type Amount struct {
	d decimal.Decimal
}

// FromFloat builds an Amount from a float64, as returned by external
// pricing/budget fetchers.
func FromFloat(f float64) Amount {
	return Amount{d: decimal.NewFromFloat(f)}
}

// Float64 returns the amount as a float64 for JSON/display purposes.
func (a Amount) Float64() float64 {
	f, _ := a.d.Float64()
	return f
}

// Add returns a + b.
func (a Amount) Add(b Amount) Amount { return Amount{d: a.d.Add(b.d)} }

// Sub returns a - b.
func (a Amount) Sub(b Amount) Amount { return Amount{d: a.d.Sub(b.d)} }

// MulFloat returns a * f.
func (a Amount) MulFloat(f float64) Amount {
	return Amount{d: a.d.Mul(decimal.NewFromFloat(f))}
}

// GreaterThan reports whether a > b.
func (a Amount) GreaterThan(b Amount) bool { return a.d.GreaterThan(b.d) }

// GreaterThanOrEqual reports whether a >= b.
func (a Amount) GreaterThanOrEqual(b Amount) bool { return a.d.GreaterThanOrEqual(b.d) }

// IsZero reports whether the amount is exactly zero.
func (a Amount) IsZero() bool { return a.d.IsZero() }

// Round rounds to the given number of decimal places (banker-agnostic,
// half-away-from-zero, matching decimal's default).
func (a Amount) Round(places int32) Amount {
	return Amount{d: a.d.Round(places)}
}

// String renders the amount with up to 6 decimal places, enough
// precision for sub-cent USDC-denominated API costs.
func (a Amount) String() string {
	return a.Round(6).d.String()
}
