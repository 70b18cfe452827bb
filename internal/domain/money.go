package domain

import "github.com/shopspring/decimal"

// IsCents reports whether d carries no more than two decimal places. Prices,
// costs, overrides and discounts must all satisfy it.
func IsCents(d decimal.Decimal) bool {
	return d.Equal(d.Round(2))
}
