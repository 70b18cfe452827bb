package session

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Davemuriu/tac-shop/internal/discount"
	"github.com/Davemuriu/tac-shop/internal/domain"
)

var managerPIN = discount.VerifierFunc(func(pin string) bool { return pin == "1234" })

func fixedClock() func() time.Time {
	at := time.Date(2026, 10, 15, 10, 0, 0, 0, time.UTC)
	return func() time.Time { return at }
}

func vest() domain.Product {
	return domain.Product{ID: "p-vest", Name: "Tactical Vest", SKU: "TAC-VEST-001", Price: decimal.NewFromInt(100), Quantity: 25, Active: true}
}

func boots() domain.Product {
	return domain.Product{ID: "p-boots", Name: "Combat Boots", SKU: "BOOT-CMB-001", Price: decimal.RequireFromString("149.99"), Quantity: 3, Active: true}
}

func TestCartDiscountScenario(t *testing.T) {
	s := New("s1", "cashier", fixedClock())
	require.True(t, s.Add(vest(), 2))

	applied, err := s.RequestDiscount(discount.Request{Scope: discount.ScopeCart, Amount: decimal.NewFromInt(20)}, nil)
	require.NoError(t, err)
	assert.False(t, applied)
	state, pending := s.DiscountState()
	assert.Equal(t, discount.PendingAuthorization, state)
	require.NotNil(t, pending)
	assert.True(t, s.Cart().Discount.IsZero(), "discount must not apply before authorization")

	_, err = s.AuthorizeDiscount("wrong", managerPIN, nil)
	assert.ErrorIs(t, err, domain.ErrAuthorizationFailed)
	state, _ = s.DiscountState()
	assert.Equal(t, discount.PendingAuthorization, state)
	assert.True(t, s.Cart().Discount.IsZero())

	_, err = s.AuthorizeDiscount("1234", managerPIN, nil)
	require.NoError(t, err)
	assert.Equal(t, "20", s.Cart().Discount.String())
	state, _ = s.DiscountState()
	assert.Equal(t, discount.Unlocked, state)
}

func TestZeroDiscountAppliesImmediately(t *testing.T) {
	s := New("s1", "cashier", fixedClock())
	s.Add(vest(), 1)
	_, _ = s.RequestDiscount(discount.Request{Scope: discount.ScopeCart, Amount: decimal.NewFromInt(5)}, nil)
	_, err := s.AuthorizeDiscount("1234", managerPIN, nil)
	require.NoError(t, err)

	applied, err := s.RequestDiscount(discount.Request{Scope: discount.ScopeCart, Amount: decimal.Zero}, nil)
	require.NoError(t, err)
	assert.True(t, applied)
	assert.True(t, s.Cart().Discount.IsZero())
}

func TestLineDiscountIsGatedAndValidated(t *testing.T) {
	s := New("s1", "cashier", fixedClock())
	p := vest()
	s.Add(p, 1)

	_, err := s.RequestDiscount(discount.Request{Scope: discount.ScopeLine, ProductID: p.ID, Amount: decimal.NewFromInt(150)}, &p)
	assert.ErrorIs(t, err, domain.ErrInvalidDiscount)
	state, _ := s.DiscountState()
	assert.Equal(t, discount.Unlocked, state)

	other := boots()
	_, err = s.RequestDiscount(discount.Request{Scope: discount.ScopeLine, ProductID: other.ID, Amount: decimal.NewFromInt(1)}, &other)
	assert.ErrorIs(t, err, domain.ErrProductNotFound)

	applied, err := s.RequestDiscount(discount.Request{Scope: discount.ScopeLine, ProductID: p.ID, Amount: decimal.NewFromInt(15)}, &p)
	require.NoError(t, err)
	assert.False(t, applied)
	assert.True(t, s.Cart().Lines[0].Discount.IsZero())

	_, err = s.AuthorizeDiscount("1234", managerPIN, nil)
	require.NoError(t, err)
	assert.Equal(t, "15", s.Cart().Lines[0].Discount.String())
}

func TestAuthorizeFailsWhenLineWasRemoved(t *testing.T) {
	s := New("s1", "cashier", fixedClock())
	p := vest()
	s.Add(p, 1)
	_, _ = s.RequestDiscount(discount.Request{Scope: discount.ScopeLine, ProductID: p.ID, Amount: decimal.NewFromInt(5)}, &p)
	s.Remove(p.ID)

	_, err := s.AuthorizeDiscount("1234", managerPIN, nil)
	assert.ErrorIs(t, err, domain.ErrProductNotFound)
}

func TestLineDiscountClampsAfterQuantityDrop(t *testing.T) {
	p := vest()
	s := New("s1", "cashier", fixedClock())
	require.True(t, s.Add(p, 2))
	_, err := s.RequestDiscount(discount.Request{Scope: discount.ScopeLine, ProductID: p.ID, Amount: decimal.NewFromInt(150)}, &p)
	require.NoError(t, err)
	_, err = s.AuthorizeDiscount("1234", managerPIN, &p)
	require.NoError(t, err)

	require.True(t, s.UpdateQuantity(p.ID, 1, &p))
	assert.Equal(t, "100", s.Cart().Lines[0].Discount.String())
}

func TestPendingLineDiscountClampsOnAuthorize(t *testing.T) {
	p := vest()
	s := New("s1", "cashier", fixedClock())
	require.True(t, s.Add(p, 2))
	_, err := s.RequestDiscount(discount.Request{Scope: discount.ScopeLine, ProductID: p.ID, Amount: decimal.NewFromInt(150)}, &p)
	require.NoError(t, err)
	require.True(t, s.UpdateQuantity(p.ID, 1, &p))

	_, err = s.AuthorizeDiscount("1234", managerPIN, &p)
	require.NoError(t, err)
	assert.Equal(t, "100", s.Cart().Lines[0].Discount.String())
}

func TestPriceOverrideClampsLineDiscount(t *testing.T) {
	p := vest()
	s := New("s1", "cashier", fixedClock())
	require.True(t, s.Add(p, 1))
	_, err := s.RequestDiscount(discount.Request{Scope: discount.ScopeLine, ProductID: p.ID, Amount: decimal.NewFromInt(80)}, &p)
	require.NoError(t, err)
	_, err = s.AuthorizeDiscount("1234", managerPIN, &p)
	require.NoError(t, err)

	lower := decimal.NewFromInt(60)
	require.NoError(t, s.SetPriceOverride(p.ID, &lower, &p))
	assert.Equal(t, "60", s.Cart().Lines[0].Discount.String())
}

func TestHoldAndResumeRoundTrip(t *testing.T) {
	s := New("s1", "cashier", fixedClock())
	s.Add(vest(), 2)
	s.Add(boots(), 1)
	before := s.Cart().Lines

	held := s.Hold("customer fetching wallet")
	require.NotNil(t, held)
	assert.Empty(t, s.Cart().Lines)
	require.Len(t, s.Holds(), 1)

	autoHeld, err := s.Resume(held.ID)
	require.NoError(t, err)
	assert.Nil(t, autoHeld)
	assert.Equal(t, before, s.Cart().Lines)
	assert.Empty(t, s.Holds())
}

func TestHoldEmptyCartIsNoop(t *testing.T) {
	s := New("s1", "cashier", fixedClock())
	assert.Nil(t, s.Hold(""))
	assert.Empty(t, s.Holds())
}

func TestHoldDropsPendingDiscount(t *testing.T) {
	s := New("s1", "cashier", fixedClock())
	s.Add(vest(), 1)
	_, _ = s.RequestDiscount(discount.Request{Scope: discount.ScopeCart, Amount: decimal.NewFromInt(5)}, nil)

	s.Hold("")
	state, _ := s.DiscountState()
	assert.Equal(t, discount.Unlocked, state)
}

func TestResumeUnknownHold(t *testing.T) {
	s := New("s1", "cashier", fixedClock())
	_, err := s.Resume("hold-missing")
	assert.ErrorIs(t, err, domain.ErrHeldCartNotFound)
}

func TestResumeAutoHoldsNonEmptyCart(t *testing.T) {
	s := New("s1", "cashier", fixedClock())
	s.Add(vest(), 1)
	first := s.Hold("")
	s.Add(boots(), 2)

	autoHeld, err := s.Resume(first.ID)
	require.NoError(t, err)
	require.NotNil(t, autoHeld)
	assert.Equal(t, "p-boots", autoHeld.Lines[0].ProductID)

	assert.Equal(t, "p-vest", s.Cart().Lines[0].ProductID)
	holds := s.Holds()
	require.Len(t, holds, 1)
	assert.Equal(t, autoHeld.ID, holds[0].ID)
}

func TestCheckoutClearsOnlyOnSuccess(t *testing.T) {
	s := New("s1", "cashier", fixedClock())
	s.Add(vest(), 1)

	boom := errors.New("boom")
	err := s.Checkout(func(c domain.Cart) error {
		require.Len(t, c.Lines, 1)
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Len(t, s.Cart().Lines, 1)

	require.NoError(t, s.Checkout(func(domain.Cart) error { return nil }))
	assert.Empty(t, s.Cart().Lines)
}

func TestSnapshotRoundTrip(t *testing.T) {
	s := New("s1", "cashier", fixedClock())
	s.Add(vest(), 2)
	s.Hold("later")
	s.Add(boots(), 1)
	_, _ = s.RequestDiscount(discount.Request{Scope: discount.ScopeCart, Amount: decimal.NewFromInt(7)}, nil)

	restored := FromSnapshot(s.Snapshot(), fixedClock())

	assert.Equal(t, s.Cart(), restored.Cart())
	assert.Equal(t, s.Holds(), restored.Holds())
	state, pending := restored.DiscountState()
	assert.Equal(t, discount.PendingAuthorization, state)
	assert.Equal(t, "7", pending.Amount.String())
}

func TestConcurrentMutationsAreSerialized(t *testing.T) {
	s := New("s1", "cashier", nil)
	p := vest()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Add(p, 1)
		}()
	}
	wg.Wait()
	assert.Equal(t, 50, s.Cart().Lines[0].Quantity)
}

func TestOwnedBy(t *testing.T) {
	s := New("s1", "cashier", nil)
	assert.True(t, s.OwnedBy(domain.Actor{Username: "cashier", Role: domain.RoleCashier}))
	assert.True(t, s.OwnedBy(domain.Actor{Username: "root", Role: domain.RoleAdmin}))
	assert.False(t, s.OwnedBy(domain.Actor{Username: "other", Role: domain.RoleManager}))
}
