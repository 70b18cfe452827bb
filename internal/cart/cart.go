// Package cart holds the line arithmetic for an in-progress sale.
//
// A cart stores product ids plus per-line overrides only. Prices and stock
// are always read from the catalog snapshot passed to each computation.
package cart

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/Davemuriu/tac-shop/internal/domain"
)

// Products is a catalog snapshot keyed by product id.
type Products map[string]domain.Product

// Add puts qty units of p into the cart. It reports false and leaves the cart
// untouched when the product is out of stock, inactive, or qty is not positive.
// Stock sufficiency is checked again at checkout.
func Add(c *domain.Cart, p domain.Product, qty int) bool {
	if qty <= 0 || p.Quantity <= 0 || !p.Active {
		return false
	}
	if i := indexOf(c, p.ID); i >= 0 {
		c.Lines[i].Quantity += qty
		return true
	}
	c.Lines = append(c.Lines, domain.CartLine{
		ProductID: p.ID,
		Quantity:  qty,
		Discount:  decimal.Zero,
	})
	return true
}

func Remove(c *domain.Cart, productID string) bool {
	i := indexOf(c, productID)
	if i < 0 {
		return false
	}
	c.Lines = append(c.Lines[:i], c.Lines[i+1:]...)
	return true
}

// UpdateQuantity sets the line quantity exactly. A quantity of zero or less
// removes the line.
func UpdateQuantity(c *domain.Cart, productID string, qty int) bool {
	if qty <= 0 {
		return Remove(c, productID)
	}
	i := indexOf(c, productID)
	if i < 0 {
		return false
	}
	c.Lines[i].Quantity = qty
	return true
}

func Clear(c *domain.Cart) {
	c.Lines = nil
	c.Discount = decimal.Zero
}

func Line(c *domain.Cart, productID string) (domain.CartLine, bool) {
	i := indexOf(c, productID)
	if i < 0 {
		return domain.CartLine{}, false
	}
	return c.Lines[i], true
}

// SetLineDiscount commits a per-line discount. The amount may not exceed the
// line's gross amount at the product's current price.
func SetLineDiscount(c *domain.Cart, p domain.Product, amount decimal.Decimal) error {
	i := indexOf(c, p.ID)
	if i < 0 {
		return fmt.Errorf("line %s: %w", p.ID, domain.ErrProductNotFound)
	}
	if amount.IsNegative() {
		return fmt.Errorf("%w: discount must not be negative", domain.ErrInvalidDiscount)
	}
	if !domain.IsCents(amount) {
		return fmt.Errorf("%w: discount %s has sub-cent precision", domain.ErrInvalidDiscount, amount.String())
	}
	if gross := LineGross(c.Lines[i], p); amount.GreaterThan(gross) {
		return fmt.Errorf("%w: discount %s exceeds line amount %s", domain.ErrInvalidDiscount, amount.StringFixed(2), gross.StringFixed(2))
	}
	c.Lines[i].Discount = amount
	return nil
}

// SetPriceOverride replaces the catalog price for one line. A nil price
// restores the catalog price.
func SetPriceOverride(c *domain.Cart, productID string, price *decimal.Decimal) error {
	i := indexOf(c, productID)
	if i < 0 {
		return fmt.Errorf("line %s: %w", productID, domain.ErrProductNotFound)
	}
	if price == nil {
		c.Lines[i].PriceOverride = nil
		return nil
	}
	if price.IsNegative() {
		return domain.Invalid("price override must not be negative")
	}
	if !domain.IsCents(*price) {
		return domain.Invalid("price override %s has sub-cent precision", price.String())
	}
	override := *price
	c.Lines[i].PriceOverride = &override
	return nil
}

// ClampLineDiscount lowers the line discount for p to the line's gross amount
// when a quantity or price change has left it larger. It reports whether the
// discount changed.
func ClampLineDiscount(c *domain.Cart, p domain.Product) bool {
	i := indexOf(c, p.ID)
	if i < 0 {
		return false
	}
	if gross := LineGross(c.Lines[i], p); c.Lines[i].Discount.GreaterThan(gross) {
		c.Lines[i].Discount = gross
		return true
	}
	return false
}

func UnitPrice(line domain.CartLine, p domain.Product) decimal.Decimal {
	if line.PriceOverride != nil {
		return *line.PriceOverride
	}
	return p.Price
}

func LineGross(line domain.CartLine, p domain.Product) decimal.Decimal {
	return UnitPrice(line, p).Mul(decimal.NewFromInt(int64(line.Quantity)))
}

// LineTotal is the gross amount less the line discount, clamped at zero and
// rounded to cents.
func LineTotal(line domain.CartLine, p domain.Product) decimal.Decimal {
	total := LineGross(line, p).Sub(line.Discount)
	if total.IsNegative() {
		return decimal.Zero
	}
	return total.Round(2)
}

func Subtotal(c domain.Cart, products Products) (decimal.Decimal, error) {
	subtotal := decimal.Zero
	for _, line := range c.Lines {
		p, ok := products[line.ProductID]
		if !ok {
			return decimal.Zero, fmt.Errorf("product %s: %w", line.ProductID, domain.ErrProductNotFound)
		}
		subtotal = subtotal.Add(LineTotal(line, p))
	}
	return subtotal, nil
}

func ItemCount(c domain.Cart) int {
	count := 0
	for _, line := range c.Lines {
		count += line.Quantity
	}
	return count
}

func indexOf(c *domain.Cart, productID string) int {
	for i, line := range c.Lines {
		if line.ProductID == productID {
			return i
		}
	}
	return -1
}
