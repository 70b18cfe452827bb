package domain

import (
	"errors"
	"fmt"
)

var (
	ErrEmptyCart             = errors.New("cart is empty")
	ErrInsufficientStock     = errors.New("insufficient stock")
	ErrProductNotFound       = errors.New("product not found")
	ErrHeldCartNotFound      = errors.New("held cart not found")
	ErrSessionNotFound       = errors.New("session not found")
	ErrSaleNotFound          = errors.New("sale not found")
	ErrAuthorizationRequired = errors.New("manager authorization required")
	ErrAuthorizationFailed   = errors.New("manager authorization failed")
	ErrNoPendingDiscount     = errors.New("no discount awaiting authorization")
	ErrInvalidDiscount       = errors.New("invalid discount")
	ErrInvalidPaymentMethod  = errors.New("invalid payment method")
	ErrInvalidInput          = errors.New("invalid input")
	ErrForbidden             = errors.New("forbidden")
	ErrDuplicateSKU          = errors.New("sku already exists")
	ErrSaleNotRefundable     = errors.New("sale cannot be refunded")
	ErrPersistence           = errors.New("persistence failure")
)

// StockError reports a line that asks for more units than the catalog holds.
type StockError struct {
	ProductID string
	Name      string
	Requested int
	Available int
}

func (e *StockError) Error() string {
	name := e.Name
	if name == "" {
		name = e.ProductID
	}
	return fmt.Sprintf("insufficient stock for %s: requested %d, available %d", name, e.Requested, e.Available)
}

func (e *StockError) Unwrap() error {
	return ErrInsufficientStock
}

// Invalid wraps ErrInvalidInput with a caller-facing message.
func Invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

var errorCodes = []struct {
	err  error
	code string
}{
	{ErrEmptyCart, "empty_cart"},
	{ErrInsufficientStock, "insufficient_stock"},
	{ErrProductNotFound, "product_not_found"},
	{ErrHeldCartNotFound, "held_cart_not_found"},
	{ErrSessionNotFound, "session_not_found"},
	{ErrSaleNotFound, "sale_not_found"},
	{ErrAuthorizationRequired, "authorization_required"},
	{ErrAuthorizationFailed, "authorization_failed"},
	{ErrNoPendingDiscount, "no_pending_discount"},
	{ErrInvalidDiscount, "invalid_discount"},
	{ErrInvalidPaymentMethod, "invalid_payment_method"},
	{ErrInvalidInput, "invalid_input"},
	{ErrForbidden, "forbidden"},
	{ErrDuplicateSKU, "duplicate_sku"},
	{ErrSaleNotRefundable, "sale_not_refundable"},
	{ErrPersistence, "persistence_error"},
}

// ErrorCode returns a stable machine-readable code for err, or "internal".
func ErrorCode(err error) string {
	for _, entry := range errorCodes {
		if errors.Is(err, entry.err) {
			return entry.code
		}
	}
	return "internal"
}
