package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/Davemuriu/tac-shop/internal/cart"
	"github.com/Davemuriu/tac-shop/internal/checkout"
	"github.com/Davemuriu/tac-shop/internal/discount"
	"github.com/Davemuriu/tac-shop/internal/domain"
	"github.com/Davemuriu/tac-shop/internal/metrics"
	"github.com/Davemuriu/tac-shop/internal/report"
	"github.com/Davemuriu/tac-shop/internal/session"
	"github.com/Davemuriu/tac-shop/internal/store"
	"github.com/Davemuriu/tac-shop/internal/xid"
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

type Options struct {
	Tax     cart.TaxPolicy
	Logger  *zap.Logger
	Metrics *metrics.Metrics
	Clock   func() time.Time
}

type Service struct {
	repo      store.Repository
	sessions  *session.Manager
	verifier  discount.Verifier
	processor *checkout.Processor
	tax       cart.TaxPolicy
	logger    *zap.Logger
	audit     *zap.Logger
	metrics   *metrics.Metrics
	now       func() time.Time
}

func New(repo store.Repository, sessions *session.Manager, verifier discount.Verifier, opts Options) *Service {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	now := opts.Clock
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	if sessions == nil {
		sessions = session.NewManager(nil, logger)
	}

	processor := checkout.NewProcessor(repo, opts.Tax, logger, opts.Metrics)
	processor.SetClock(now)

	return &Service{
		repo:      repo,
		sessions:  sessions,
		verifier:  verifier,
		processor: processor,
		tax:       opts.Tax,
		logger:    logger.Named("service"),
		audit:     logger.Named("audit"),
		metrics:   opts.Metrics,
		now:       now,
	}
}

func (s *Service) ListProducts(ctx context.Context, filter domain.ProductFilter) ([]domain.Product, error) {
	return s.repo.ListProducts(ctx, filter)
}

func (s *Service) GetProduct(ctx context.Context, id string) (domain.Product, error) {
	product, err := s.repo.GetProduct(ctx, strings.TrimSpace(id))
	if err != nil {
		return domain.Product{}, err
	}
	return *product, nil
}

func (s *Service) LowStock(ctx context.Context) ([]domain.Product, error) {
	products, err := s.repo.ListProducts(ctx, domain.ProductFilter{})
	if err != nil {
		return nil, err
	}
	return report.LowStock(products), nil
}

func (s *Service) CreateProduct(ctx context.Context, req domain.ProductCreateRequest) (domain.Product, error) {
	actor, err := requireRole(ctx, domain.RoleManager, domain.RoleAdmin)
	if err != nil {
		return domain.Product{}, err
	}

	product := domain.Product{
		ID:                xid.New("prd"),
		Name:              strings.TrimSpace(req.Name),
		SKU:               strings.ToUpper(strings.TrimSpace(req.SKU)),
		Barcode:           strings.TrimSpace(req.Barcode),
		Price:             req.Price,
		Cost:              req.Cost,
		Quantity:          req.Quantity,
		Category:          strings.TrimSpace(req.Category),
		Active:            req.Active == nil || *req.Active,
		LowStockThreshold: req.LowStockThreshold,
	}
	if err := validateProduct(product); err != nil {
		return domain.Product{}, err
	}
	now := s.now()
	product.CreatedAt = now
	product.UpdatedAt = now

	created, err := s.repo.CreateProduct(ctx, product)
	if err != nil {
		return domain.Product{}, err
	}
	s.logAudit(actor, "product_create", "product", created.ID,
		zap.String("sku", created.SKU), zap.String("price", created.Price.StringFixed(2)), zap.Int("quantity", created.Quantity))
	return *created, nil
}

func (s *Service) UpdateProduct(ctx context.Context, id string, req domain.ProductUpdateRequest) (domain.Product, error) {
	actor, err := requireRole(ctx, domain.RoleManager, domain.RoleAdmin)
	if err != nil {
		return domain.Product{}, err
	}

	existing, err := s.repo.GetProduct(ctx, strings.TrimSpace(id))
	if err != nil {
		return domain.Product{}, err
	}

	updated := *existing
	if req.Name != nil {
		updated.Name = strings.TrimSpace(*req.Name)
	}
	if req.SKU != nil {
		updated.SKU = strings.ToUpper(strings.TrimSpace(*req.SKU))
	}
	if req.Barcode != nil {
		updated.Barcode = strings.TrimSpace(*req.Barcode)
	}
	if req.Price != nil {
		updated.Price = *req.Price
	}
	if req.Cost != nil {
		updated.Cost = *req.Cost
	}
	if req.Quantity != nil {
		updated.Quantity = *req.Quantity
	}
	if req.Category != nil {
		updated.Category = strings.TrimSpace(*req.Category)
	}
	if req.Active != nil {
		updated.Active = *req.Active
	}
	if req.LowStockThreshold != nil {
		updated.LowStockThreshold = *req.LowStockThreshold
	}
	if err := validateProduct(updated); err != nil {
		return domain.Product{}, err
	}
	updated.UpdatedAt = s.now()

	saved, err := s.repo.UpdateProduct(ctx, updated)
	if err != nil {
		return domain.Product{}, err
	}

	fields := []zap.Field{zap.String("sku", saved.SKU)}
	if !existing.Price.Equal(saved.Price) {
		fields = append(fields, zap.String("old_price", existing.Price.StringFixed(2)), zap.String("new_price", saved.Price.StringFixed(2)))
	}
	if existing.Quantity != saved.Quantity {
		fields = append(fields, zap.Int("old_quantity", existing.Quantity), zap.Int("new_quantity", saved.Quantity))
	}
	s.logAudit(actor, "product_update", "product", saved.ID, fields...)
	return *saved, nil
}

func (s *Service) DeleteProduct(ctx context.Context, id string) error {
	actor, err := requireRole(ctx, domain.RoleAdmin)
	if err != nil {
		return err
	}
	id = strings.TrimSpace(id)
	if err := s.repo.DeleteProduct(ctx, id); err != nil {
		return err
	}
	s.logAudit(actor, "product_delete", "product", id)
	return nil
}

// currentProduct returns the catalog row for a cart line, or nil when the
// product has since been deleted.
func (s *Service) currentProduct(ctx context.Context, productID string) (*domain.Product, error) {
	product, err := s.repo.GetProduct(ctx, productID)
	if errors.Is(err, domain.ErrProductNotFound) {
		return nil, nil
	}
	return product, err
}

func validateProduct(p domain.Product) error {
	switch {
	case p.Name == "":
		return domain.Invalid("product name is required")
	case p.SKU == "":
		return domain.Invalid("product sku is required")
	case p.Price.IsNegative():
		return domain.Invalid("price must not be negative")
	case p.Cost.IsNegative():
		return domain.Invalid("cost must not be negative")
	case !domain.IsCents(p.Price), !domain.IsCents(p.Cost):
		return domain.Invalid("price and cost must be whole cents")
	case p.Quantity < 0:
		return domain.Invalid("quantity must not be negative")
	case p.LowStockThreshold < 0:
		return domain.Invalid("low stock threshold must not be negative")
	}
	return nil
}

func (s *Service) OpenSession(ctx context.Context) (domain.SessionView, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Username == "" {
		return domain.SessionView{}, domain.ErrForbidden
	}
	sess := s.sessions.Open(ctx, actor.Username)
	s.metrics.SetOpenSessions(s.sessions.Count())
	s.logger.Info("session opened", zap.String("session_id", sess.ID()), zap.String("cashier", actor.Username))
	return s.sessionView(ctx, sess)
}

func (s *Service) GetSession(ctx context.Context, sessionID string) (domain.SessionView, error) {
	sess, _, err := s.session(ctx, sessionID)
	if err != nil {
		return domain.SessionView{}, err
	}
	return s.sessionView(ctx, sess)
}

func (s *Service) CloseSession(ctx context.Context, sessionID string) error {
	sess, _, err := s.session(ctx, sessionID)
	if err != nil {
		return err
	}
	if err := s.sessions.Close(ctx, sess.ID()); err != nil {
		return err
	}
	s.metrics.SetOpenSessions(s.sessions.Count())
	s.logger.Info("session closed", zap.String("session_id", sess.ID()))
	return nil
}

func (s *Service) Cart(ctx context.Context, sessionID string) (domain.CartView, error) {
	sess, _, err := s.session(ctx, sessionID)
	if err != nil {
		return domain.CartView{}, err
	}
	return s.cartView(ctx, sess)
}

// AddToCart reads the product fresh from the catalog. Out of stock and
// inactive products are ignored rather than rejected. An omitted quantity
// adds one unit.
func (s *Service) AddToCart(ctx context.Context, sessionID string, req domain.AddToCartRequest) (domain.CartView, error) {
	sess, _, err := s.session(ctx, sessionID)
	if err != nil {
		return domain.CartView{}, err
	}
	product, err := s.repo.GetProduct(ctx, strings.TrimSpace(req.ProductID))
	if err != nil {
		return domain.CartView{}, err
	}
	qty := req.Quantity
	if qty == 0 {
		qty = 1
	}
	if sess.Add(*product, qty) {
		s.sessions.Save(ctx, sess)
	}
	return s.cartView(ctx, sess)
}

func (s *Service) RemoveFromCart(ctx context.Context, sessionID string, productID string) (domain.CartView, error) {
	sess, _, err := s.session(ctx, sessionID)
	if err != nil {
		return domain.CartView{}, err
	}
	if sess.Remove(productID) {
		s.sessions.Save(ctx, sess)
	}
	return s.cartView(ctx, sess)
}

func (s *Service) UpdateCartQuantity(ctx context.Context, sessionID string, productID string, req domain.UpdateQuantityRequest) (domain.CartView, error) {
	sess, _, err := s.session(ctx, sessionID)
	if err != nil {
		return domain.CartView{}, err
	}
	product, err := s.currentProduct(ctx, productID)
	if err != nil {
		return domain.CartView{}, err
	}
	if sess.UpdateQuantity(productID, req.Quantity, product) {
		s.sessions.Save(ctx, sess)
	}
	return s.cartView(ctx, sess)
}

func (s *Service) ClearCart(ctx context.Context, sessionID string) (domain.CartView, error) {
	sess, _, err := s.session(ctx, sessionID)
	if err != nil {
		return domain.CartView{}, err
	}
	sess.Clear()
	s.sessions.Save(ctx, sess)
	return s.cartView(ctx, sess)
}

func (s *Service) SetPriceOverride(ctx context.Context, sessionID string, productID string, req domain.PriceOverrideRequest) (domain.CartView, error) {
	sess, actor, err := s.session(ctx, sessionID)
	if err != nil {
		return domain.CartView{}, err
	}
	if !actor.HasRole(domain.RoleManager, domain.RoleAdmin) {
		return domain.CartView{}, fmt.Errorf("price override: %w", domain.ErrForbidden)
	}
	product, err := s.currentProduct(ctx, productID)
	if err != nil {
		return domain.CartView{}, err
	}
	if err := sess.SetPriceOverride(productID, req.Price, product); err != nil {
		return domain.CartView{}, err
	}
	s.sessions.Save(ctx, sess)

	price := "catalog"
	if req.Price != nil {
		price = req.Price.StringFixed(2)
	}
	s.logAudit(actor, "price_override", "product", productID, zap.String("session_id", sess.ID()), zap.String("price", price))
	return s.cartView(ctx, sess)
}

// RequestDiscount routes a cart or line discount through the gate. A request
// with a product id targets that line.
func (s *Service) RequestDiscount(ctx context.Context, sessionID string, req domain.DiscountRequest) (domain.DiscountResponse, error) {
	sess, _, err := s.session(ctx, sessionID)
	if err != nil {
		return domain.DiscountResponse{}, err
	}

	gateReq := discount.Request{Scope: discount.ScopeCart, Amount: req.Amount}
	var product *domain.Product
	if productID := strings.TrimSpace(req.ProductID); productID != "" {
		gateReq.Scope = discount.ScopeLine
		gateReq.ProductID = productID
		product, err = s.repo.GetProduct(ctx, productID)
		if err != nil {
			return domain.DiscountResponse{}, err
		}
	}

	applied, err := sess.RequestDiscount(gateReq, product)
	if err != nil {
		return domain.DiscountResponse{}, err
	}
	s.sessions.Save(ctx, sess)

	status := domain.DiscountPendingAuthorization
	if applied {
		status = domain.DiscountApplied
	}
	view, err := s.cartView(ctx, sess)
	if err != nil {
		return domain.DiscountResponse{}, err
	}
	return domain.DiscountResponse{Status: status, Cart: view}, nil
}

func (s *Service) AuthorizeDiscount(ctx context.Context, sessionID string, req domain.AuthorizeDiscountRequest) (domain.DiscountResponse, error) {
	sess, actor, err := s.session(ctx, sessionID)
	if err != nil {
		return domain.DiscountResponse{}, err
	}

	var product *domain.Product
	if _, pending := sess.DiscountState(); pending != nil && pending.Scope == discount.ScopeLine {
		if product, err = s.currentProduct(ctx, pending.ProductID); err != nil {
			return domain.DiscountResponse{}, err
		}
	}

	applied, err := sess.AuthorizeDiscount(req.PIN, s.verifier, product)
	switch {
	case errors.Is(err, domain.ErrAuthorizationFailed):
		s.metrics.DiscountAuthorization(false)
		s.logAudit(actor, "discount_authorization_failed", "session", sess.ID())
		return domain.DiscountResponse{}, err
	case errors.Is(err, domain.ErrNoPendingDiscount):
		return domain.DiscountResponse{}, err
	case err != nil:
		// The gate consumed the request even though its line is gone.
		s.sessions.Save(ctx, sess)
		return domain.DiscountResponse{}, err
	}
	s.metrics.DiscountAuthorization(true)
	s.sessions.Save(ctx, sess)
	s.logAudit(actor, "discount_authorized", "session", sess.ID(),
		zap.String("scope", string(applied.Scope)),
		zap.String("product_id", applied.ProductID),
		zap.String("amount", applied.Amount.StringFixed(2)))

	view, err := s.cartView(ctx, sess)
	if err != nil {
		return domain.DiscountResponse{}, err
	}
	return domain.DiscountResponse{Status: domain.DiscountApplied, Cart: view}, nil
}

func (s *Service) HoldCart(ctx context.Context, sessionID string, req domain.HoldCartRequest) (domain.HoldCartResponse, error) {
	sess, _, err := s.session(ctx, sessionID)
	if err != nil {
		return domain.HoldCartResponse{}, err
	}
	held := sess.Hold(strings.TrimSpace(req.Note))
	if held != nil {
		s.sessions.Save(ctx, sess)
	}
	view, err := s.cartView(ctx, sess)
	if err != nil {
		return domain.HoldCartResponse{}, err
	}
	return domain.HoldCartResponse{Held: held, Cart: view}, nil
}

func (s *Service) ListHeldCarts(ctx context.Context, sessionID string) ([]domain.HeldCart, error) {
	sess, _, err := s.session(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return sess.Holds(), nil
}

func (s *Service) ResumeCart(ctx context.Context, sessionID string, holdID string) (domain.ResumeCartResponse, error) {
	sess, _, err := s.session(ctx, sessionID)
	if err != nil {
		return domain.ResumeCartResponse{}, err
	}
	autoHeld, err := sess.Resume(strings.TrimSpace(holdID))
	if err != nil {
		return domain.ResumeCartResponse{}, err
	}
	s.sessions.Save(ctx, sess)
	view, err := s.cartView(ctx, sess)
	if err != nil {
		return domain.ResumeCartResponse{}, err
	}
	return domain.ResumeCartResponse{Cart: view, AutoHeld: autoHeld}, nil
}

func (s *Service) CompleteSale(ctx context.Context, sessionID string, req domain.CheckoutRequest) (domain.Sale, error) {
	sess, actor, err := s.session(ctx, sessionID)
	if err != nil {
		return domain.Sale{}, err
	}
	sale, err := s.processor.Complete(ctx, sess, actor, checkout.Request{
		PaymentMethod: req.PaymentMethod,
		Discount:      req.Discount,
	})
	if err != nil {
		return domain.Sale{}, err
	}
	s.sessions.Save(ctx, sess)
	return *sale, nil
}

func (s *Service) ListSales(ctx context.Context, filter domain.SaleFilter) ([]domain.Sale, error) {
	if filter.From != nil && filter.To != nil && filter.To.Before(*filter.From) {
		return nil, domain.Invalid("to must not be before from")
	}
	return s.repo.ListSales(ctx, filter)
}

func (s *Service) GetSale(ctx context.Context, id string) (domain.Sale, error) {
	sale, err := s.repo.GetSale(ctx, strings.TrimSpace(id))
	if err != nil {
		return domain.Sale{}, err
	}
	return *sale, nil
}

// RefundSale restocks a completed sale. The caller needs the manager or
// admin role and the manager PIN.
func (s *Service) RefundSale(ctx context.Context, saleID string, req domain.RefundRequest) (domain.Sale, error) {
	actor, err := requireRole(ctx, domain.RoleManager, domain.RoleAdmin)
	if err != nil {
		return domain.Sale{}, err
	}
	if s.verifier == nil || !s.verifier.ValidateManagerPIN(req.ManagerPIN) {
		s.logAudit(actor, "refund_authorization_failed", "sale", saleID)
		return domain.Sale{}, domain.ErrAuthorizationFailed
	}

	refunded, err := s.repo.RefundSale(ctx, strings.TrimSpace(saleID), strings.TrimSpace(req.Reason), s.now())
	if err != nil {
		return domain.Sale{}, err
	}
	s.metrics.SaleRefunded()
	s.logAudit(actor, "sale_refund", "sale", refunded.ID,
		zap.String("receipt_number", refunded.ReceiptNumber),
		zap.String("total", refunded.Total.StringFixed(2)),
		zap.String("reason", refunded.RefundReason))
	return *refunded, nil
}

func (s *Service) SalesReport(ctx context.Context, filter domain.SaleFilter) (domain.SalesReport, error) {
	filter.Limit = 0
	filter.Status = ""
	sales, err := s.ListSales(ctx, filter)
	if err != nil {
		return domain.SalesReport{}, err
	}
	summary := report.Summarize(sales, report.DefaultTopProducts)
	summary.From = filter.From
	summary.To = filter.To
	return summary, nil
}

func (s *Service) Dashboard(ctx context.Context) (domain.Dashboard, error) {
	now := s.now()
	y, m, d := now.Date()
	from := time.Date(y, m, d, 0, 0, 0, 0, now.Location()).AddDate(0, 0, -6)

	sales, err := s.repo.ListSales(ctx, domain.SaleFilter{From: &from})
	if err != nil {
		return domain.Dashboard{}, err
	}
	products, err := s.repo.ListProducts(ctx, domain.ProductFilter{})
	if err != nil {
		return domain.Dashboard{}, err
	}
	return report.BuildDashboard(now, sales, products), nil
}

// session resolves the session and checks that the actor in ctx may use it.
func (s *Service) session(ctx context.Context, sessionID string) (*session.Session, domain.Actor, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return nil, domain.Actor{}, domain.ErrForbidden
	}
	sess, err := s.sessions.Get(ctx, strings.TrimSpace(sessionID))
	if err != nil {
		return nil, domain.Actor{}, err
	}
	if !sess.OwnedBy(actor) {
		return nil, domain.Actor{}, fmt.Errorf("session %s: %w", sess.ID(), domain.ErrForbidden)
	}
	return sess, actor, nil
}

func (s *Service) sessionView(ctx context.Context, sess *session.Session) (domain.SessionView, error) {
	snap := sess.Snapshot()
	view, err := s.buildCartView(ctx, snap)
	if err != nil {
		return domain.SessionView{}, err
	}
	return domain.SessionView{
		ID:        snap.ID,
		Cashier:   snap.Cashier,
		CreatedAt: snap.CreatedAt,
		Cart:      view,
		Holds:     snap.Holds,
	}, nil
}

func (s *Service) cartView(ctx context.Context, sess *session.Session) (domain.CartView, error) {
	return s.buildCartView(ctx, sess.Snapshot())
}

// buildCartView prices the cart against the live catalog. Lines whose product
// is gone or inactive are flagged unavailable and left out of the totals.
func (s *Service) buildCartView(ctx context.Context, snap domain.SessionSnapshot) (domain.CartView, error) {
	c := snap.Cart
	ids := make([]string, 0, len(c.Lines))
	for _, line := range c.Lines {
		ids = append(ids, line.ProductID)
	}
	products := map[string]domain.Product{}
	if len(ids) > 0 {
		var err error
		if products, err = s.repo.GetProductsByIDs(ctx, ids); err != nil {
			return domain.CartView{}, fmt.Errorf("%w: load cart products: %v", domain.ErrPersistence, err)
		}
	}

	view := domain.CartView{
		Lines:         make([]domain.CartLineView, 0, len(c.Lines)),
		ItemCount:     cart.ItemCount(c),
		DiscountState: string(discount.Unlocked),
	}
	priced := domain.Cart{Discount: c.Discount}
	for _, line := range c.Lines {
		product, ok := products[line.ProductID]
		if !ok || !product.Active {
			view.Lines = append(view.Lines, domain.CartLineView{
				ProductID:     line.ProductID,
				Name:          product.Name,
				SKU:           product.SKU,
				UnitPrice:     decimal.Zero,
				PriceOverride: line.PriceOverride,
				Quantity:      line.Quantity,
				Discount:      line.Discount,
				Total:         decimal.Zero,
				Unavailable:   true,
			})
			continue
		}
		priced.Lines = append(priced.Lines, line)
		view.Lines = append(view.Lines, domain.CartLineView{
			ProductID:     line.ProductID,
			Name:          product.Name,
			SKU:           product.SKU,
			UnitPrice:     cart.UnitPrice(line, product),
			PriceOverride: line.PriceOverride,
			Quantity:      line.Quantity,
			Discount:      line.Discount,
			Total:         cart.LineTotal(line, product),
			InStock:       product.Quantity,
		})
	}

	totals, err := cart.ComputeTotals(priced, products, s.tax, c.Discount)
	if err != nil {
		return domain.CartView{}, err
	}
	view.Subtotal = totals.Subtotal
	view.Tax = totals.Tax
	view.Discount = totals.Discount
	view.Total = totals.Total

	if p := snap.PendingDiscount; p != nil {
		view.DiscountState = string(discount.PendingAuthorization)
		pending := *p
		view.PendingDiscount = &pending
	}
	return view, nil
}

func requireRole(ctx context.Context, roles ...string) (domain.Actor, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || !actor.HasRole(roles...) {
		return domain.Actor{}, fmt.Errorf("%s role required: %w", strings.Join(roles, " or "), domain.ErrForbidden)
	}
	return actor, nil
}

func (s *Service) logAudit(actor domain.Actor, action string, entityType string, entityID string, fields ...zap.Field) {
	base := []zap.Field{
		zap.String("actor", actor.Username),
		zap.String("role", actor.Role),
		zap.String("action", action),
		zap.String("entity_type", entityType),
		zap.String("entity_id", entityID),
	}
	s.audit.Info("audit", append(base, fields...)...)
}
