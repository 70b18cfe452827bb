package checkout

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/Davemuriu/tac-shop/internal/cart"
	"github.com/Davemuriu/tac-shop/internal/discount"
	"github.com/Davemuriu/tac-shop/internal/domain"
	"github.com/Davemuriu/tac-shop/internal/metrics"
	"github.com/Davemuriu/tac-shop/internal/session"
	"github.com/Davemuriu/tac-shop/internal/store/memory"
)

var cashier = domain.Actor{Username: "cashier", Role: domain.RoleCashier}

var pin = discount.VerifierFunc(func(p string) bool { return p == "1234" })

type fixture struct {
	store     *memory.Store
	processor *Processor
	session   *session.Session
	metrics   *metrics.Metrics
}

func newFixture(t *testing.T, tax cart.TaxPolicy) *fixture {
	t.Helper()
	st := memory.New()
	ctx := context.Background()
	for _, p := range []domain.Product{
		{ID: "a", Name: "Product A", SKU: "A-1", Price: decimal.NewFromInt(100), Quantity: 10, Active: true},
		{ID: "b", Name: "Product B", SKU: "B-1", Price: decimal.RequireFromString("49.99"), Quantity: 1, Active: true},
	} {
		_, err := st.CreateProduct(ctx, p)
		require.NoError(t, err)
	}
	m := metrics.New()
	proc := NewProcessor(st, tax, zaptest.NewLogger(t), m)
	proc.SetClock(func() time.Time { return time.Date(2026, 10, 15, 9, 30, 0, 0, time.UTC) })
	return &fixture{store: st, processor: proc, session: session.New("sess-1", "cashier", nil), metrics: m}
}

func (f *fixture) product(t *testing.T, id string) domain.Product {
	t.Helper()
	p, err := f.store.GetProduct(context.Background(), id)
	require.NoError(t, err)
	return *p
}

func (f *fixture) ledger(t *testing.T) []domain.Sale {
	t.Helper()
	sales, err := f.store.ListSales(context.Background(), domain.SaleFilter{})
	require.NoError(t, err)
	return sales
}

func TestDiscountedCashSaleScenario(t *testing.T) {
	f := newFixture(t, cart.NoTax)
	ctx := context.Background()

	require.True(t, f.session.Add(f.product(t, "a"), 2))
	applied, err := f.session.RequestDiscount(discount.Request{Scope: discount.ScopeCart, Amount: decimal.NewFromInt(20)}, nil)
	require.NoError(t, err)
	require.False(t, applied)
	_, err = f.session.AuthorizeDiscount("wrong", pin, nil)
	require.ErrorIs(t, err, domain.ErrAuthorizationFailed)
	_, err = f.session.AuthorizeDiscount("1234", pin, nil)
	require.NoError(t, err)

	twenty := decimal.NewFromInt(20)
	sale, err := f.processor.Complete(ctx, f.session, cashier, Request{PaymentMethod: "cash", Discount: &twenty})
	require.NoError(t, err)

	assert.Equal(t, "180", sale.Total.String())
	assert.Equal(t, "200", sale.Subtotal.String())
	assert.Equal(t, "20", sale.Discount.String())
	assert.Equal(t, domain.PaymentCash, sale.PaymentMethod)
	assert.Equal(t, domain.SaleCompleted, sale.Status)
	assert.Equal(t, "cashier", sale.CashierID)
	assert.Equal(t, "REC-1792056600000", sale.ReceiptNumber)
	require.Len(t, sale.Lines, 1)
	assert.Equal(t, "Product A", sale.Lines[0].Name)

	assert.Equal(t, 8, f.product(t, "a").Quantity)
	assert.Empty(t, f.session.Cart().Lines)
	ledger := f.ledger(t)
	require.Len(t, ledger, 1)
	assert.Equal(t, sale.ID, ledger[0].ID)

	rec := httptest.NewRecorder()
	f.metrics.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Contains(t, rec.Body.String(), `tacshop_sales_completed_total{payment_method="cash"} 1`)
}

func TestEmptyCartFails(t *testing.T) {
	f := newFixture(t, cart.NoTax)

	_, err := f.processor.Complete(context.Background(), f.session, cashier, Request{PaymentMethod: "cash"})
	assert.ErrorIs(t, err, domain.ErrEmptyCart)
	assert.Empty(t, f.ledger(t))
}

func TestInsufficientStockLeavesEverythingUntouched(t *testing.T) {
	f := newFixture(t, cart.NoTax)
	require.True(t, f.session.Add(f.product(t, "a"), 1))
	require.True(t, f.session.Add(f.product(t, "b"), 3))
	before := f.session.Cart()

	_, err := f.processor.Complete(context.Background(), f.session, cashier, Request{PaymentMethod: "card"})
	var stockErr *domain.StockError
	require.ErrorAs(t, err, &stockErr)
	assert.Equal(t, "b", stockErr.ProductID)
	assert.Equal(t, 3, stockErr.Requested)
	assert.Equal(t, 1, stockErr.Available)

	assert.Equal(t, before, f.session.Cart())
	assert.Empty(t, f.ledger(t))
	assert.Equal(t, 10, f.product(t, "a").Quantity)
	assert.Equal(t, 1, f.product(t, "b").Quantity)
}

func TestStockIsReadAtCommitTime(t *testing.T) {
	f := newFixture(t, cart.NoTax)
	ctx := context.Background()
	require.True(t, f.session.Add(f.product(t, "a"), 5))

	a := f.product(t, "a")
	a.Quantity = 4
	_, err := f.store.UpdateProduct(ctx, a)
	require.NoError(t, err)

	_, err = f.processor.Complete(ctx, f.session, cashier, Request{PaymentMethod: "cash"})
	assert.ErrorIs(t, err, domain.ErrInsufficientStock)
}

func TestDeletedProductFailsCheckout(t *testing.T) {
	f := newFixture(t, cart.NoTax)
	ctx := context.Background()
	require.True(t, f.session.Add(f.product(t, "a"), 1))
	require.NoError(t, f.store.DeleteProduct(ctx, "a"))

	_, err := f.processor.Complete(ctx, f.session, cashier, Request{PaymentMethod: "cash"})
	assert.ErrorIs(t, err, domain.ErrProductNotFound)
	assert.Len(t, f.session.Cart().Lines, 1)
}

func TestUnapprovedDiscountIsRejected(t *testing.T) {
	f := newFixture(t, cart.NoTax)
	require.True(t, f.session.Add(f.product(t, "a"), 1))

	ten := decimal.NewFromInt(10)
	_, err := f.processor.Complete(context.Background(), f.session, cashier, Request{PaymentMethod: "cash", Discount: &ten})
	assert.ErrorIs(t, err, domain.ErrAuthorizationRequired)
	assert.Len(t, f.session.Cart().Lines, 1)
}

func TestExplicitZeroDiscountOverridesCommitted(t *testing.T) {
	f := newFixture(t, cart.NoTax)
	require.True(t, f.session.Add(f.product(t, "a"), 1))
	_, _ = f.session.RequestDiscount(discount.Request{Scope: discount.ScopeCart, Amount: decimal.NewFromInt(10)}, nil)
	_, err := f.session.AuthorizeDiscount("1234", pin, nil)
	require.NoError(t, err)

	zero := decimal.Zero
	sale, err := f.processor.Complete(context.Background(), f.session, cashier, Request{PaymentMethod: "cash", Discount: &zero})
	require.NoError(t, err)
	assert.Equal(t, "100", sale.Total.String())
}

func TestCommittedDiscountAppliesWhenOmitted(t *testing.T) {
	f := newFixture(t, cart.NoTax)
	require.True(t, f.session.Add(f.product(t, "a"), 1))
	_, _ = f.session.RequestDiscount(discount.Request{Scope: discount.ScopeCart, Amount: decimal.NewFromInt(10)}, nil)
	_, err := f.session.AuthorizeDiscount("1234", pin, nil)
	require.NoError(t, err)

	sale, err := f.processor.Complete(context.Background(), f.session, cashier, Request{PaymentMethod: "cash"})
	require.NoError(t, err)
	assert.Equal(t, "90", sale.Total.String())
}

func TestPercentageTaxAndLineDiscount(t *testing.T) {
	policy, err := cart.NewTaxPolicy(cart.TaxModePercentage, 8)
	require.NoError(t, err)
	f := newFixture(t, policy)
	a := f.product(t, "a")
	require.True(t, f.session.Add(a, 2))
	_, _ = f.session.RequestDiscount(discount.Request{Scope: discount.ScopeLine, ProductID: "a", Amount: decimal.NewFromInt(50)}, &a)
	_, err = f.session.AuthorizeDiscount("1234", pin, nil)
	require.NoError(t, err)

	sale, err := f.processor.Complete(context.Background(), f.session, cashier, Request{PaymentMethod: "digital"})
	require.NoError(t, err)

	assert.Equal(t, "150", sale.Subtotal.String())
	assert.Equal(t, "12", sale.Tax.String())
	assert.Equal(t, "162", sale.Total.String())
	assert.Equal(t, "50", sale.Lines[0].Discount.String())
	assert.Equal(t, "150", sale.Lines[0].Total.String())
	assert.True(t, sale.Subtotal.Add(sale.Tax).Sub(sale.Discount).Equal(sale.Total))
}

func TestPriceOverrideIsSnapshotted(t *testing.T) {
	f := newFixture(t, cart.NoTax)
	require.True(t, f.session.Add(f.product(t, "a"), 1))
	override := decimal.NewFromInt(75)
	require.NoError(t, f.session.SetPriceOverride("a", &override, nil))

	sale, err := f.processor.Complete(context.Background(), f.session, cashier, Request{PaymentMethod: "cash"})
	require.NoError(t, err)
	assert.Equal(t, "75", sale.Lines[0].UnitPrice.String())
	assert.Equal(t, "75", sale.Total.String())
}

func TestMpesaChoicesAreStoredCanonically(t *testing.T) {
	for _, method := range []string{"mpesa_till", "mpesa_paybill"} {
		f := newFixture(t, cart.NoTax)
		require.True(t, f.session.Add(f.product(t, "a"), 1))

		sale, err := f.processor.Complete(context.Background(), f.session, cashier, Request{PaymentMethod: method})
		require.NoError(t, err)
		assert.Equal(t, domain.PaymentMpesa, sale.PaymentMethod)
	}
}

func TestUnknownPaymentMethod(t *testing.T) {
	f := newFixture(t, cart.NoTax)
	require.True(t, f.session.Add(f.product(t, "a"), 1))

	_, err := f.processor.Complete(context.Background(), f.session, cashier, Request{PaymentMethod: "cheque"})
	assert.ErrorIs(t, err, domain.ErrInvalidPaymentMethod)
	assert.Len(t, f.session.Cart().Lines, 1)
}

func TestReceiptNumbersAreUnique(t *testing.T) {
	f := newFixture(t, cart.NoTax)
	seen := map[string]bool{}
	for i := 0; i < 5; i++ {
		require.True(t, f.session.Add(f.product(t, "a"), 1))
		sale, err := f.processor.Complete(context.Background(), f.session, cashier, Request{PaymentMethod: "cash"})
		require.NoError(t, err)
		assert.False(t, seen[sale.ReceiptNumber], sale.ReceiptNumber)
		seen[sale.ReceiptNumber] = true
	}
}

type failingLedger struct {
	*memory.Store
	err error
}

func (l failingLedger) CreateSale(context.Context, domain.Sale) (*domain.Sale, error) {
	return nil, l.err
}

func TestPersistenceFailureKeepsCart(t *testing.T) {
	f := newFixture(t, cart.NoTax)
	proc := NewProcessor(failingLedger{Store: f.store, err: errors.New("connection reset")}, cart.NoTax, zaptest.NewLogger(t), f.metrics)
	require.True(t, f.session.Add(f.product(t, "a"), 2))

	_, err := proc.Complete(context.Background(), f.session, cashier, Request{PaymentMethod: "cash"})
	assert.ErrorIs(t, err, domain.ErrPersistence)
	assert.Len(t, f.session.Cart().Lines, 1)
	assert.Equal(t, 10, f.product(t, "a").Quantity)
	assert.Empty(t, f.ledger(t))
}

func TestResolveDiscount(t *testing.T) {
	committed := decimal.NewFromInt(20)
	got, err := resolveDiscount(committed, nil)
	require.NoError(t, err)
	assert.True(t, got.Equal(committed))

	same := decimal.RequireFromString("20.00")
	got, err = resolveDiscount(committed, &same)
	require.NoError(t, err)
	assert.True(t, got.Equal(committed))

	negative := decimal.NewFromInt(-1)
	_, err = resolveDiscount(committed, &negative)
	assert.ErrorIs(t, err, domain.ErrInvalidDiscount)

	fractional := decimal.RequireFromString("19.999")
	_, err = resolveDiscount(committed, &fractional)
	assert.ErrorIs(t, err, domain.ErrInvalidDiscount)
}
