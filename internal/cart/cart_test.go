package cart

import (
	"math/rand"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Davemuriu/tac-shop/internal/domain"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func product(id string, price string, qty int) domain.Product {
	return domain.Product{ID: id, Name: "Product " + id, SKU: "SKU-" + id, Price: dec(price), Quantity: qty, Active: true}
}

func TestAddIgnoresUnsellableProducts(t *testing.T) {
	var c domain.Cart

	assert.False(t, Add(&c, product("a", "10", 0), 1), "out of stock")
	inactive := product("b", "10", 5)
	inactive.Active = false
	assert.False(t, Add(&c, inactive, 1), "inactive")
	assert.False(t, Add(&c, product("c", "10", 5), 0), "zero quantity")
	assert.Empty(t, c.Lines)
}

func TestAddMergesExistingLine(t *testing.T) {
	var c domain.Cart
	a := product("a", "10", 5)

	require.True(t, Add(&c, a, 1))
	require.True(t, Add(&c, product("b", "3", 5), 1))
	require.True(t, Add(&c, a, 2))

	require.Len(t, c.Lines, 2)
	assert.Equal(t, "a", c.Lines[0].ProductID)
	assert.Equal(t, 3, c.Lines[0].Quantity)
	assert.Equal(t, 4, ItemCount(c))
}

func TestAddDoesNotCheckStockSufficiency(t *testing.T) {
	var c domain.Cart
	assert.True(t, Add(&c, product("a", "10", 1), 5))
	assert.Equal(t, 5, c.Lines[0].Quantity)
}

func TestUpdateQuantitySetsExactlyAndRemovesAtZero(t *testing.T) {
	var c domain.Cart
	Add(&c, product("a", "10", 5), 2)

	assert.True(t, UpdateQuantity(&c, "a", 7))
	assert.Equal(t, 7, c.Lines[0].Quantity)

	assert.False(t, UpdateQuantity(&c, "missing", 3))

	assert.True(t, UpdateQuantity(&c, "a", -1))
	assert.Empty(t, c.Lines)
}

func TestRemoveAndClear(t *testing.T) {
	var c domain.Cart
	Add(&c, product("a", "10", 5), 1)
	Add(&c, product("b", "10", 5), 1)
	c.Discount = dec("4")

	assert.False(t, Remove(&c, "zzz"))
	assert.True(t, Remove(&c, "a"))
	require.Len(t, c.Lines, 1)
	assert.Equal(t, "b", c.Lines[0].ProductID)

	Clear(&c)
	assert.Empty(t, c.Lines)
	assert.True(t, c.Discount.IsZero())
}

func TestSubtotalUsesOverridesAndLineDiscounts(t *testing.T) {
	a := product("a", "199.99", 25)
	b := product("b", "49.99", 50)
	var c domain.Cart
	Add(&c, a, 2)
	Add(&c, b, 3)

	require.NoError(t, SetPriceOverride(&c, "b", ptr(dec("40"))))
	require.NoError(t, SetLineDiscount(&c, a, dec("9.98")))

	subtotal, err := Subtotal(c, Products{"a": a, "b": b})
	require.NoError(t, err)
	// (199.99*2 - 9.98) + 40*3
	assert.Equal(t, "510.00", subtotal.StringFixed(2))

	require.NoError(t, SetPriceOverride(&c, "b", nil))
	subtotal, err = Subtotal(c, Products{"a": a, "b": b})
	require.NoError(t, err)
	assert.Equal(t, "539.97", subtotal.StringFixed(2))
}

func TestSetLineDiscountRejectsInvalidAmounts(t *testing.T) {
	a := product("a", "10", 5)
	var c domain.Cart
	Add(&c, a, 2)

	assert.ErrorIs(t, SetLineDiscount(&c, a, dec("-1")), domain.ErrInvalidDiscount)
	assert.ErrorIs(t, SetLineDiscount(&c, a, dec("20.01")), domain.ErrInvalidDiscount)
	assert.ErrorIs(t, SetLineDiscount(&c, product("z", "1", 1), dec("1")), domain.ErrProductNotFound)
	assert.NoError(t, SetLineDiscount(&c, a, dec("20")))
}

func TestSubCentAmountsAreRejected(t *testing.T) {
	a := product("a", "10", 5)
	var c domain.Cart
	Add(&c, a, 3)

	assert.ErrorIs(t, SetLineDiscount(&c, a, dec("0.005")), domain.ErrInvalidDiscount)
	assert.ErrorIs(t, SetPriceOverride(&c, "a", ptr(dec("33.333"))), domain.ErrInvalidInput)

	require.NoError(t, SetPriceOverride(&c, "a", ptr(dec("33.33"))))
	require.NoError(t, SetLineDiscount(&c, a, dec("0.99")))
	line, ok := Line(&c, "a")
	require.True(t, ok)
	want := UnitPrice(line, a).Mul(decimal.NewFromInt(int64(line.Quantity))).Sub(line.Discount)
	assert.True(t, want.Equal(LineTotal(line, a)))
	assert.Equal(t, "99", LineTotal(line, a).String())
}

func TestClampLineDiscount(t *testing.T) {
	a := product("a", "100", 5)
	var c domain.Cart
	Add(&c, a, 2)
	require.NoError(t, SetLineDiscount(&c, a, dec("150")))

	assert.False(t, ClampLineDiscount(&c, a))
	UpdateQuantity(&c, "a", 1)
	assert.True(t, ClampLineDiscount(&c, a))
	line, _ := Line(&c, "a")
	assert.Equal(t, "100", line.Discount.String())
	assert.False(t, ClampLineDiscount(&c, product("z", "1", 1)))
}

func TestLineTotalClampsAtZero(t *testing.T) {
	a := product("a", "10", 5)
	line := domain.CartLine{ProductID: "a", Quantity: 1, Discount: dec("15")}
	assert.True(t, LineTotal(line, a).IsZero())
}

func TestSubtotalReportsMissingProduct(t *testing.T) {
	var c domain.Cart
	Add(&c, product("a", "10", 5), 1)

	_, err := Subtotal(c, Products{})
	assert.ErrorIs(t, err, domain.ErrProductNotFound)
}

func TestRandomMutationsKeepQuantitiesPositive(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	catalog := Products{
		"a": product("a", "1.25", 10),
		"b": product("b", "3.50", 10),
		"c": product("c", "7", 10),
	}
	ids := []string{"a", "b", "c"}
	var c domain.Cart

	for i := 0; i < 2000; i++ {
		id := ids[rng.Intn(len(ids))]
		switch rng.Intn(3) {
		case 0:
			Add(&c, catalog[id], rng.Intn(4)-1)
		case 1:
			UpdateQuantity(&c, id, rng.Intn(6)-2)
		case 2:
			Remove(&c, id)
		}

		expected := decimal.Zero
		for _, line := range c.Lines {
			require.GreaterOrEqual(t, line.Quantity, 1)
			expected = expected.Add(catalog[line.ProductID].Price.Mul(decimal.NewFromInt(int64(line.Quantity))))
		}
		subtotal, err := Subtotal(c, catalog)
		require.NoError(t, err)
		require.True(t, expected.Equal(subtotal), "step %d: want %s got %s", i, expected, subtotal)
	}
}

func ptr(d decimal.Decimal) *decimal.Decimal {
	return &d
}
