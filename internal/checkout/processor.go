// Package checkout turns a session cart into a recorded sale.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/Davemuriu/tac-shop/internal/cart"
	"github.com/Davemuriu/tac-shop/internal/domain"
	"github.com/Davemuriu/tac-shop/internal/metrics"
	"github.com/Davemuriu/tac-shop/internal/session"
	"github.com/Davemuriu/tac-shop/internal/xid"
)

// Ledger is the part of the repository checkout writes through.
type Ledger interface {
	GetProductsByIDs(ctx context.Context, ids []string) (map[string]domain.Product, error)
	CreateSale(ctx context.Context, sale domain.Sale) (*domain.Sale, error)
}

type Request struct {
	PaymentMethod string
	// Discount nil means the committed cart discount. Any other value must
	// be zero or equal the committed discount.
	Discount *decimal.Decimal
}

type Processor struct {
	ledger   Ledger
	tax      cart.TaxPolicy
	logger   *zap.Logger
	metrics  *metrics.Metrics
	receipts *xid.ReceiptSequence
	now      func() time.Time
}

func NewProcessor(ledger Ledger, tax cart.TaxPolicy, logger *zap.Logger, m *metrics.Metrics) *Processor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Processor{
		ledger:   ledger,
		tax:      tax,
		logger:   logger.Named("checkout"),
		metrics:  m,
		receipts: &xid.ReceiptSequence{},
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (p *Processor) SetClock(now func() time.Time) {
	if now != nil {
		p.now = now
	}
}

// Complete finalizes the session cart. The cart is cleared only after the
// sale and its stock decrements are committed together; on any error the
// cart, the ledger and the catalog are left as they were.
func (p *Processor) Complete(ctx context.Context, sess *session.Session, actor domain.Actor, req Request) (*domain.Sale, error) {
	method, err := domain.ParsePaymentMethod(req.PaymentMethod)
	if err != nil {
		return nil, p.fail(sess, fmt.Errorf("payment method %q: %w", req.PaymentMethod, err))
	}

	var recorded *domain.Sale
	err = sess.Checkout(func(c domain.Cart) error {
		sale, err := p.build(ctx, c, actor, method, req.Discount)
		if err != nil {
			return err
		}
		created, err := p.ledger.CreateSale(ctx, *sale)
		if err != nil {
			return classify(err)
		}
		recorded = created
		return nil
	})
	if err != nil {
		return nil, p.fail(sess, err)
	}

	p.metrics.SaleCompleted(string(recorded.PaymentMethod), recorded.Total)
	p.logger.Info("sale completed",
		zap.String("session_id", sess.ID()),
		zap.String("sale_id", recorded.ID),
		zap.String("receipt_number", recorded.ReceiptNumber),
		zap.String("cashier", recorded.CashierID),
		zap.String("payment_method", string(recorded.PaymentMethod)),
		zap.String("total", recorded.Total.StringFixed(2)),
		zap.Int("lines", len(recorded.Lines)),
	)
	return recorded, nil
}

func (p *Processor) build(ctx context.Context, c domain.Cart, actor domain.Actor, method domain.PaymentMethod, requested *decimal.Decimal) (*domain.Sale, error) {
	if len(c.Lines) == 0 {
		return nil, domain.ErrEmptyCart
	}

	cartDiscount, err := resolveDiscount(c.Discount, requested)
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(c.Lines))
	for _, line := range c.Lines {
		ids = append(ids, line.ProductID)
	}
	products, err := p.ledger.GetProductsByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("%w: load products: %v", domain.ErrPersistence, err)
	}

	lines := make([]domain.SaleLine, 0, len(c.Lines))
	for _, line := range c.Lines {
		product, ok := products[line.ProductID]
		if !ok || !product.Active {
			return nil, fmt.Errorf("product %s: %w", line.ProductID, domain.ErrProductNotFound)
		}
		if line.Quantity > product.Quantity {
			return nil, &domain.StockError{
				ProductID: product.ID,
				Name:      product.Name,
				Requested: line.Quantity,
				Available: product.Quantity,
			}
		}
		lineDiscount := line.Discount
		if gross := cart.LineGross(line, product); lineDiscount.GreaterThan(gross) {
			lineDiscount = gross
		}
		lines = append(lines, domain.SaleLine{
			ProductID: product.ID,
			Name:      product.Name,
			SKU:       product.SKU,
			Quantity:  line.Quantity,
			UnitPrice: cart.UnitPrice(line, product),
			Discount:  lineDiscount,
			Total:     cart.LineTotal(line, product),
		})
	}

	totals, err := cart.ComputeTotals(c, products, p.tax, cartDiscount)
	if err != nil {
		return nil, err
	}

	now := p.now()
	return &domain.Sale{
		ID:            xid.New("sale"),
		ReceiptNumber: p.receipts.Next(now),
		Lines:         lines,
		Subtotal:      totals.Subtotal,
		Tax:           totals.Tax,
		Discount:      totals.Discount,
		Total:         totals.Total,
		PaymentMethod: method,
		CashierID:     actor.Username,
		Status:        domain.SaleCompleted,
		CreatedAt:     now,
	}, nil
}

func resolveDiscount(committed decimal.Decimal, requested *decimal.Decimal) (decimal.Decimal, error) {
	if requested == nil {
		return committed, nil
	}
	switch {
	case requested.IsNegative():
		return decimal.Zero, fmt.Errorf("%w: discount must not be negative", domain.ErrInvalidDiscount)
	case !domain.IsCents(*requested):
		return decimal.Zero, fmt.Errorf("%w: discount %s has sub-cent precision", domain.ErrInvalidDiscount, requested.String())
	case requested.IsZero():
		return decimal.Zero, nil
	case requested.Equal(committed):
		return committed, nil
	default:
		return decimal.Zero, fmt.Errorf("discount %s has not been approved: %w", requested.StringFixed(2), domain.ErrAuthorizationRequired)
	}
}

// classify passes domain errors through and folds everything else into
// ErrPersistence.
func classify(err error) error {
	for _, known := range []error{
		domain.ErrInsufficientStock,
		domain.ErrProductNotFound,
		domain.ErrEmptyCart,
		domain.ErrInvalidInput,
	} {
		if errors.Is(err, known) {
			return err
		}
	}
	return fmt.Errorf("%w: record sale: %v", domain.ErrPersistence, err)
}

func (p *Processor) fail(sess *session.Session, err error) error {
	code := domain.ErrorCode(err)
	p.metrics.CheckoutFailed(code)
	fields := []zap.Field{zap.String("session_id", sess.ID()), zap.String("reason", code), zap.Error(err)}
	if errors.Is(err, domain.ErrPersistence) {
		p.logger.Error("checkout failed", fields...)
	} else {
		p.logger.Info("checkout rejected", fields...)
	}
	return err
}
