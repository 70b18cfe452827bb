package cart

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/Davemuriu/tac-shop/internal/domain"
)

const (
	TaxModePercentage = "percentage"
	TaxModeNone       = "none"
)

var hundred = decimal.NewFromInt(100)

type TaxPolicy struct {
	Rate decimal.Decimal
}

var NoTax = TaxPolicy{Rate: decimal.Zero}

func NewTaxPolicy(mode string, percent float64) (TaxPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case TaxModeNone:
		return NoTax, nil
	case TaxModePercentage, "":
		if percent < 0 {
			return TaxPolicy{}, fmt.Errorf("tax rate must not be negative, got %v", percent)
		}
		return TaxPolicy{Rate: decimal.NewFromFloat(percent).Div(hundred)}, nil
	default:
		return TaxPolicy{}, fmt.Errorf("unknown tax mode %q", mode)
	}
}

func (p TaxPolicy) Tax(subtotal decimal.Decimal) decimal.Decimal {
	return subtotal.Mul(p.Rate).Round(2)
}

type Totals struct {
	Subtotal decimal.Decimal
	Tax      decimal.Decimal
	Discount decimal.Decimal
	Total    decimal.Decimal
}

// ComputeTotals applies tax to the subtotal and subtracts the cart discount.
// The discount is capped at subtotal plus tax so that the total never goes
// negative and Total always equals Subtotal + Tax - Discount.
func ComputeTotals(c domain.Cart, products Products, policy TaxPolicy, discount decimal.Decimal) (Totals, error) {
	if discount.IsNegative() {
		return Totals{}, fmt.Errorf("%w: discount must not be negative", domain.ErrInvalidDiscount)
	}
	subtotal, err := Subtotal(c, products)
	if err != nil {
		return Totals{}, err
	}
	subtotal = subtotal.Round(2)
	tax := policy.Tax(subtotal)
	gross := subtotal.Add(tax)
	if discount.GreaterThan(gross) {
		discount = gross
	}
	return Totals{
		Subtotal: subtotal,
		Tax:      tax,
		Discount: discount,
		Total:    gross.Sub(discount),
	}, nil
}
