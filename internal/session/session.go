// Package session owns the per-cashier state of a till: the active cart, the
// discount gate and the held carts. Every operation on a Session is serialized
// by its mutex.
package session

import (
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Davemuriu/tac-shop/internal/cart"
	"github.com/Davemuriu/tac-shop/internal/discount"
	"github.com/Davemuriu/tac-shop/internal/domain"
	"github.com/Davemuriu/tac-shop/internal/xid"
)

type Session struct {
	mu        sync.Mutex
	id        string
	cashier   string
	createdAt time.Time
	updatedAt time.Time
	cart      domain.Cart
	gate      discount.Gate
	holds     []domain.HeldCart
	now       func() time.Time
}

func New(id string, cashier string, now func() time.Time) *Session {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	created := now()
	return &Session{
		id:        id,
		cashier:   cashier,
		createdAt: created,
		updatedAt: created,
		cart:      domain.Cart{Discount: decimal.Zero},
		now:       now,
	}
}

func (s *Session) ID() string           { return s.id }
func (s *Session) Cashier() string      { return s.cashier }
func (s *Session) CreatedAt() time.Time { return s.createdAt }

// OwnedBy reports whether actor may operate this session.
func (s *Session) OwnedBy(actor domain.Actor) bool {
	return actor.Username == s.cashier || actor.Role == domain.RoleAdmin
}

// Cart returns a copy of the active cart.
func (s *Session) Cart() domain.Cart {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cart.Clone()
}

// DiscountState returns the gate state together with any pending request.
func (s *Session) DiscountState() (discount.State, *discount.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gateState()
}

func (s *Session) gateState() (discount.State, *discount.Request) {
	req, ok := s.gate.Pending()
	if !ok {
		return discount.Unlocked, nil
	}
	return discount.PendingAuthorization, &req
}

func (s *Session) Add(p domain.Product, qty int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.touch(cart.Add(&s.cart, p, qty))
}

func (s *Session) Remove(productID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.touch(cart.Remove(&s.cart, productID))
}

// UpdateQuantity sets the line quantity. When p is the line's product, a line
// discount left above the new gross amount is clamped to it.
func (s *Session) UpdateQuantity(productID string, qty int, p *domain.Product) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	changed := cart.UpdateQuantity(&s.cart, productID, qty)
	if changed {
		s.clampLine(p)
	}
	return s.touch(changed)
}

// Clear empties the cart and drops any pending discount.
func (s *Session) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	cart.Clear(&s.cart)
	s.gate.Reset()
	s.touch(true)
}

// SetPriceOverride clamps the line discount against the new price the same
// way UpdateQuantity does.
func (s *Session) SetPriceOverride(productID string, price *decimal.Decimal, p *domain.Product) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := cart.SetPriceOverride(&s.cart, productID, price); err != nil {
		return err
	}
	s.clampLine(p)
	s.touch(true)
	return nil
}

// RequestDiscount passes req through the gate. A line-scoped request needs
// the product so the amount can be checked against the line before it is
// parked. It reports true when the value was applied without authorization.
func (s *Session) RequestDiscount(req discount.Request, p *domain.Product) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch req.Scope {
	case discount.ScopeCart:
	case discount.ScopeLine:
		if p == nil || p.ID != req.ProductID {
			return false, fmt.Errorf("line %s: %w", req.ProductID, domain.ErrProductNotFound)
		}
		trial := s.cart.Clone()
		if err := cart.SetLineDiscount(&trial, *p, req.Amount); err != nil {
			return false, err
		}
	default:
		return false, fmt.Errorf("%w: unknown discount scope %q", domain.ErrInvalidDiscount, req.Scope)
	}

	applied, err := s.gate.Request(req)
	if err != nil {
		return false, err
	}
	s.touch(true)
	if !applied {
		return false, nil
	}
	return true, s.apply(req, p)
}

// AuthorizeDiscount commits the pending request when the verifier accepts
// pin. A wrong PIN leaves the request pending. For a line request, p is the
// line's current product; the committed amount never exceeds the line's
// gross amount at that moment.
func (s *Session) AuthorizeDiscount(pin string, verifier discount.Verifier, p *domain.Product) (discount.Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	req, err := s.gate.Authorize(pin, verifier)
	if err != nil {
		return discount.Request{}, err
	}
	s.touch(true)
	return req, s.apply(req, p)
}

func (s *Session) apply(req discount.Request, p *domain.Product) error {
	if req.Scope == discount.ScopeCart {
		s.cart.Discount = req.Amount
		return nil
	}
	for i := range s.cart.Lines {
		if s.cart.Lines[i].ProductID == req.ProductID {
			s.cart.Lines[i].Discount = req.Amount
			s.clampLine(p)
			return nil
		}
	}
	return fmt.Errorf("line %s: %w", req.ProductID, domain.ErrProductNotFound)
}

func (s *Session) clampLine(p *domain.Product) {
	if p != nil {
		cart.ClampLineDiscount(&s.cart, *p)
	}
}

// Hold parks the active cart and returns the new held entry, or nil when the
// cart is empty.
func (s *Session) Hold(note string) *domain.HeldCart {
	s.mu.Lock()
	defer s.mu.Unlock()
	held := s.hold(note)
	if held == nil {
		return nil
	}
	out := cloneHeld(*held)
	return &out
}

func (s *Session) hold(note string) *domain.HeldCart {
	if len(s.cart.Lines) == 0 {
		return nil
	}
	s.holds = append(s.holds, domain.HeldCart{
		ID:     xid.New("hold"),
		HeldAt: s.now(),
		Note:   note,
		Lines:  domain.CloneLines(s.cart.Lines),
	})
	cart.Clear(&s.cart)
	s.gate.Reset()
	s.touch(true)
	return &s.holds[len(s.holds)-1]
}

// Resume swaps the held cart identified by id into the active slot. A
// non-empty active cart is held first and returned as autoHeld.
func (s *Session) Resume(id string) (autoHeld *domain.HeldCart, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := -1
	for i, held := range s.holds {
		if held.ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, fmt.Errorf("held cart %s: %w", id, domain.ErrHeldCartNotFound)
	}
	target := s.holds[idx]
	s.holds = append(s.holds[:idx], s.holds[idx+1:]...)

	if held := s.hold(""); held != nil {
		out := cloneHeld(*held)
		autoHeld = &out
	}
	s.cart = domain.Cart{Lines: domain.CloneLines(target.Lines), Discount: decimal.Zero}
	s.gate.Reset()
	s.touch(true)
	return autoHeld, nil
}

func (s *Session) Holds() []domain.HeldCart {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.HeldCart, len(s.holds))
	for i, held := range s.holds {
		out[i] = cloneHeld(held)
	}
	return out
}

// Checkout runs fn on a copy of the active cart while holding the session
// lock. The cart and the gate are cleared only if fn succeeds.
func (s *Session) Checkout(fn func(domain.Cart) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := fn(s.cart.Clone()); err != nil {
		return err
	}
	cart.Clear(&s.cart)
	s.gate.Reset()
	s.touch(true)
	return nil
}

func (s *Session) Snapshot() domain.SessionSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := domain.SessionSnapshot{
		ID:        s.id,
		Cashier:   s.cashier,
		CreatedAt: s.createdAt,
		UpdatedAt: s.updatedAt,
		Cart:      s.cart.Clone(),
		Holds:     make([]domain.HeldCart, len(s.holds)),
	}
	for i, held := range s.holds {
		snap.Holds[i] = cloneHeld(held)
	}
	if _, req := s.gateState(); req != nil {
		snap.PendingDiscount = &domain.PendingDiscount{
			Scope:     string(req.Scope),
			ProductID: req.ProductID,
			Amount:    req.Amount,
		}
	}
	return snap
}

func FromSnapshot(snap domain.SessionSnapshot, now func() time.Time) *Session {
	s := New(snap.ID, snap.Cashier, now)
	s.createdAt = snap.CreatedAt
	s.updatedAt = snap.UpdatedAt
	s.cart = snap.Cart.Clone()
	for _, held := range snap.Holds {
		s.holds = append(s.holds, cloneHeld(held))
	}
	if p := snap.PendingDiscount; p != nil {
		s.gate = discount.Restore(&discount.Request{
			Scope:     discount.Scope(p.Scope),
			ProductID: p.ProductID,
			Amount:    p.Amount,
		})
	}
	return s
}

func (s *Session) touch(changed bool) bool {
	if changed {
		s.updatedAt = s.now()
	}
	return changed
}

func cloneHeld(h domain.HeldCart) domain.HeldCart {
	h.Lines = domain.CloneLines(h.Lines)
	return h
}
