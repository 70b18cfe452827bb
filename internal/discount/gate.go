// Package discount implements the manager authorization gate that every
// non-zero discount passes through before it reaches a cart.
package discount

import (
	"github.com/shopspring/decimal"

	"github.com/Davemuriu/tac-shop/internal/domain"
)

type State string

const (
	Unlocked             State = "unlocked"
	PendingAuthorization State = "pending_authorization"
)

type Scope string

const (
	ScopeCart Scope = "cart"
	ScopeLine Scope = "line"
)

type Request struct {
	Scope     Scope           `json:"scope"`
	ProductID string          `json:"product_id,omitempty"`
	Amount    decimal.Decimal `json:"amount"`
}

// Verifier checks a manager PIN.
type Verifier interface {
	ValidateManagerPIN(pin string) bool
}

type VerifierFunc func(pin string) bool

func (f VerifierFunc) ValidateManagerPIN(pin string) bool { return f(pin) }

// Gate holds at most one pending request. The zero value is Unlocked.
type Gate struct {
	pending *Request
}

// Request registers a discount change. A zero amount needs no authorization:
// the gate unlocks and Request reports true so the caller applies it at once.
// Any positive amount replaces whatever is pending and reports false.
func (g *Gate) Request(req Request) (bool, error) {
	if req.Amount.IsNegative() || !domain.IsCents(req.Amount) {
		return false, domain.ErrInvalidDiscount
	}
	if req.Amount.IsZero() {
		g.pending = nil
		return true, nil
	}
	pending := req
	g.pending = &pending
	return false, nil
}

// Authorize releases the pending request when pin is accepted. A rejected
// PIN leaves the request pending.
func (g *Gate) Authorize(pin string, verifier Verifier) (Request, error) {
	if g.pending == nil {
		return Request{}, domain.ErrNoPendingDiscount
	}
	if verifier == nil || !verifier.ValidateManagerPIN(pin) {
		return Request{}, domain.ErrAuthorizationFailed
	}
	req := *g.pending
	g.pending = nil
	return req, nil
}

func (g *Gate) Reset() {
	g.pending = nil
}

func (g *Gate) State() State {
	if g.pending != nil {
		return PendingAuthorization
	}
	return Unlocked
}

func (g *Gate) Pending() (Request, bool) {
	if g.pending == nil {
		return Request{}, false
	}
	return *g.pending, true
}

// Restore rebuilds a gate from a persisted pending request.
func Restore(pending *Request) Gate {
	if pending == nil || !pending.Amount.IsPositive() {
		return Gate{}
	}
	req := *pending
	return Gate{pending: &req}
}
