package httpapi

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/Davemuriu/tac-shop/internal/domain"
	"github.com/Davemuriu/tac-shop/internal/metrics"
	"github.com/Davemuriu/tac-shop/internal/service"
)

const maxBodyBytes = 1 << 20

type API struct {
	service       *service.Service
	auth          *AuthManager
	allowedOrigin string
	logger        *zap.Logger
	metrics       *metrics.Metrics
	loginLimiter  *attemptLimiter
	pinLimiter    *attemptLimiter
	csrfSecret    []byte
}

func New(svc *service.Service, auth *AuthManager, allowedOrigin string, logger *zap.Logger, m *metrics.Metrics) *API {
	if logger == nil {
		logger = zap.NewNop()
	}
	csrfSecret := make([]byte, 32)
	if _, err := rand.Read(csrfSecret); err != nil {
		panic(fmt.Sprintf("csrf secret: %v", err))
	}
	return &API{
		service:       svc,
		auth:          auth,
		allowedOrigin: allowedOrigin,
		logger:        logger.Named("http"),
		metrics:       m,
		loginLimiter:  newAttemptLimiter(5, time.Minute),
		pinLimiter:    newAttemptLimiter(8, time.Minute),
		csrfSecret:    csrfSecret,
	}
}

func (a *API) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(a.logRequests)
	r.Use(middleware.Recoverer)
	r.Use(a.securityHeaders)
	r.Use(a.limitBody)
	r.Use(a.checkCSRF)

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, errors.New("route not found"))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
	})

	r.Get("/healthz", a.handleHealth)
	r.Method(http.MethodGet, "/metrics", a.metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/auth/login", a.handleLogin)
		r.Get("/auth/csrf-token", a.handleCSRFToken)

		r.Group(func(r chi.Router) {
			r.Use(a.authenticate)
			r.Get("/auth/me", a.handleMe)

			r.Route("/products", func(r chi.Router) {
				r.Get("/", a.handleListProducts)
				r.Get("/low-stock", a.handleLowStock)
				r.With(allow(domain.RoleManager, domain.RoleAdmin)).Post("/", a.handleCreateProduct)
				r.Get("/{productID}", a.handleGetProduct)
				r.With(allow(domain.RoleManager, domain.RoleAdmin)).Patch("/{productID}", a.handleUpdateProduct)
				r.With(allow(domain.RoleAdmin)).Delete("/{productID}", a.handleDeleteProduct)
			})

			r.Post("/sessions", a.handleOpenSession)
			r.Route("/sessions/{sessionID}", func(r chi.Router) {
				r.Get("/", a.handleGetSession)
				r.Delete("/", a.handleCloseSession)
				r.Get("/cart", a.handleGetCart)
				r.Delete("/cart", a.handleClearCart)
				r.Post("/cart/items", a.handleAddItem)
				r.Patch("/cart/items/{productID}", a.handleUpdateItem)
				r.Delete("/cart/items/{productID}", a.handleRemoveItem)
				r.With(allow(domain.RoleManager, domain.RoleAdmin)).Put("/cart/items/{productID}/price-override", a.handlePriceOverride)
				r.Post("/discount", a.handleRequestDiscount)
				r.Post("/discount/authorize", a.handleAuthorizeDiscount)
				r.Get("/holds", a.handleListHolds)
				r.Post("/holds", a.handleHoldCart)
				r.Post("/holds/{holdID}/resume", a.handleResumeCart)
				r.Post("/checkout", a.handleCheckout)
			})

			r.Group(func(r chi.Router) {
				r.Use(allow(domain.RoleManager, domain.RoleAdmin))
				r.Get("/sales", a.handleListSales)
				r.Get("/sales/{saleID}", a.handleGetSale)
				r.Post("/sales/{saleID}/refund", a.handleRefund)
				r.Get("/reports/sales", a.handleSalesReport)
				r.Get("/reports/dashboard", a.handleDashboard)
			})

			r.Group(func(r chi.Router) {
				r.Use(allow(domain.RoleAdmin))
				r.Get("/users/cashiers", a.handleListCashiers)
				r.Post("/users/cashiers", a.handleCreateCashier)
			})
		})
	})

	return r
}

// csrfTokenForHour computes an HMAC-SHA256 token for the given hour bucket
// (Unix time truncated to the hour).
func (a *API) csrfTokenForHour(hourBucket int64) string {
	h := hmac.New(sha256.New, a.csrfSecret)
	fmt.Fprintf(h, "%d", hourBucket)
	return hex.EncodeToString(h.Sum(nil))
}

func (a *API) generateCSRFToken() string {
	return a.csrfTokenForHour(time.Now().UTC().Truncate(time.Hour).Unix())
}

// validateCSRFToken accepts the current and the previous hour bucket.
func (a *API) validateCSRFToken(token string) bool {
	if token == "" {
		return false
	}
	current := time.Now().UTC().Truncate(time.Hour).Unix()
	return hmac.Equal([]byte(token), []byte(a.csrfTokenForHour(current))) ||
		hmac.Equal([]byte(token), []byte(a.csrfTokenForHour(current-3600)))
}

type attemptLimiter struct {
	mu      sync.Mutex
	max     int
	window  time.Duration
	entries map[string][]time.Time
}

func newAttemptLimiter(max int, window time.Duration) *attemptLimiter {
	if max < 1 {
		max = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	return &attemptLimiter{max: max, window: window, entries: make(map[string][]time.Time)}
}

func (l *attemptLimiter) Allow(key string) bool {
	if l == nil {
		return true
	}
	now := time.Now()
	cutoff := now.Add(-l.window)

	l.mu.Lock()
	defer l.mu.Unlock()

	history := l.entries[key]
	kept := make([]time.Time, 0, len(history)+1)
	for _, ts := range history {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	if len(kept) >= l.max {
		l.entries[key] = kept
		return false
	}
	l.entries[key] = append(kept, now)
	return true
}

func clientKey(r *http.Request) string {
	host := strings.TrimSpace(r.RemoteAddr)
	if host == "" {
		return "unknown"
	}
	if addr, err := netip.ParseAddrPort(host); err == nil {
		return addr.Addr().String()
	}
	if idx := strings.LastIndex(host, ":"); idx > 0 {
		return host[:idx]
	}
	return host
}

func (a *API) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ok": true,
		"at": time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if !a.loginLimiter.Allow(clientKey(r)) {
		writeError(w, http.StatusTooManyRequests, errors.New("too many login attempts"))
		return
	}

	var req domain.LoginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	resp, err := a.auth.Login(r.Context(), req)
	switch {
	case errors.Is(err, errInvalidCredentials), errors.Is(err, errInactiveAccount):
		a.logger.Info("login rejected", zap.String("username", req.Username), zap.String("client", clientKey(r)))
		writeError(w, http.StatusUnauthorized, err)
		return
	case err != nil:
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleCSRFToken returns a stateless token valid for the current hour. It
// must accompany every mutating request in the X-CSRF-Token header.
func (a *API) handleCSRFToken(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"csrf_token": a.generateCSRFToken(),
	})
}

func (a *API) handleMe(w http.ResponseWriter, r *http.Request) {
	actor, _ := service.ActorFromContext(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{"actor": actor})
}

func (a *API) handleListProducts(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filter := domain.ProductFilter{
		Category: strings.TrimSpace(query.Get("category")),
		Search:   strings.TrimSpace(query.Get("q")),
	}
	if raw := strings.TrimSpace(query.Get("active")); raw != "" {
		active, err := strconv.ParseBool(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, domain.Invalid("active must be true or false"))
			return
		}
		filter.Active = &active
	}

	products, err := a.service.ListProducts(r.Context(), filter)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"products": products})
}

func (a *API) handleLowStock(w http.ResponseWriter, r *http.Request) {
	products, err := a.service.LowStock(r.Context())
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"products": products})
}

func (a *API) handleGetProduct(w http.ResponseWriter, r *http.Request) {
	product, err := a.service.GetProduct(r.Context(), chi.URLParam(r, "productID"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"product": product})
}

func (a *API) handleCreateProduct(w http.ResponseWriter, r *http.Request) {
	var req domain.ProductCreateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	product, err := a.service.CreateProduct(r.Context(), req)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"product": product})
}

func (a *API) handleUpdateProduct(w http.ResponseWriter, r *http.Request) {
	var req domain.ProductUpdateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	product, err := a.service.UpdateProduct(r.Context(), chi.URLParam(r, "productID"), req)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"product": product})
}

func (a *API) handleDeleteProduct(w http.ResponseWriter, r *http.Request) {
	if err := a.service.DeleteProduct(r.Context(), chi.URLParam(r, "productID")); err != nil {
		a.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleOpenSession(w http.ResponseWriter, r *http.Request) {
	view, err := a.service.OpenSession(r.Context())
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"session": view})
}

func (a *API) handleGetSession(w http.ResponseWriter, r *http.Request) {
	view, err := a.service.GetSession(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"session": view})
}

func (a *API) handleCloseSession(w http.ResponseWriter, r *http.Request) {
	if err := a.service.CloseSession(r.Context(), chi.URLParam(r, "sessionID")); err != nil {
		a.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleGetCart(w http.ResponseWriter, r *http.Request) {
	view, err := a.service.Cart(r.Context(), chi.URLParam(r, "sessionID"))
	a.writeCart(w, r, view, err)
}

func (a *API) handleClearCart(w http.ResponseWriter, r *http.Request) {
	view, err := a.service.ClearCart(r.Context(), chi.URLParam(r, "sessionID"))
	a.writeCart(w, r, view, err)
}

func (a *API) handleAddItem(w http.ResponseWriter, r *http.Request) {
	var req domain.AddToCartRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	view, err := a.service.AddToCart(r.Context(), chi.URLParam(r, "sessionID"), req)
	a.writeCart(w, r, view, err)
}

func (a *API) handleUpdateItem(w http.ResponseWriter, r *http.Request) {
	var req domain.UpdateQuantityRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	view, err := a.service.UpdateCartQuantity(r.Context(), chi.URLParam(r, "sessionID"), chi.URLParam(r, "productID"), req)
	a.writeCart(w, r, view, err)
}

func (a *API) handleRemoveItem(w http.ResponseWriter, r *http.Request) {
	view, err := a.service.RemoveFromCart(r.Context(), chi.URLParam(r, "sessionID"), chi.URLParam(r, "productID"))
	a.writeCart(w, r, view, err)
}

func (a *API) handlePriceOverride(w http.ResponseWriter, r *http.Request) {
	var req domain.PriceOverrideRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	view, err := a.service.SetPriceOverride(r.Context(), chi.URLParam(r, "sessionID"), chi.URLParam(r, "productID"), req)
	a.writeCart(w, r, view, err)
}

func (a *API) writeCart(w http.ResponseWriter, r *http.Request, view domain.CartView, err error) {
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"cart": view})
}

func (a *API) handleRequestDiscount(w http.ResponseWriter, r *http.Request) {
	var req domain.DiscountRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	resp, err := a.service.RequestDiscount(r.Context(), chi.URLParam(r, "sessionID"), req)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	status := http.StatusOK
	if resp.Status == domain.DiscountPendingAuthorization {
		status = http.StatusAccepted
	}
	writeJSON(w, status, resp)
}

func (a *API) handleAuthorizeDiscount(w http.ResponseWriter, r *http.Request) {
	var req domain.AuthorizeDiscountRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if !a.pinLimiter.Allow("pin:discount:" + clientKey(r)) {
		writeError(w, http.StatusTooManyRequests, errors.New("too many manager pin attempts"))
		return
	}
	resp, err := a.service.AuthorizeDiscount(r.Context(), chi.URLParam(r, "sessionID"), req)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleListHolds(w http.ResponseWriter, r *http.Request) {
	holds, err := a.service.ListHeldCarts(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"holds": holds})
}

func (a *API) handleHoldCart(w http.ResponseWriter, r *http.Request) {
	var req domain.HoldCartRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
	}
	resp, err := a.service.HoldCart(r.Context(), chi.URLParam(r, "sessionID"), req)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	status := http.StatusOK
	if resp.Held != nil {
		status = http.StatusCreated
	}
	writeJSON(w, status, resp)
}

func (a *API) handleResumeCart(w http.ResponseWriter, r *http.Request) {
	resp, err := a.service.ResumeCart(r.Context(), chi.URLParam(r, "sessionID"), chi.URLParam(r, "holdID"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleCheckout(w http.ResponseWriter, r *http.Request) {
	var req domain.CheckoutRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	sale, err := a.service.CompleteSale(r.Context(), chi.URLParam(r, "sessionID"), req)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"sale": sale})
}

func (a *API) handleListSales(w http.ResponseWriter, r *http.Request) {
	filter, err := parseSaleFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	filter.Limit = parsePositiveLimit(r.URL.Query().Get("limit"), 100, 500)

	sales, err := a.service.ListSales(r.Context(), filter)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sales": sales})
}

func (a *API) handleGetSale(w http.ResponseWriter, r *http.Request) {
	sale, err := a.service.GetSale(r.Context(), chi.URLParam(r, "saleID"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sale": sale})
}

func (a *API) handleRefund(w http.ResponseWriter, r *http.Request) {
	var req domain.RefundRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if !a.pinLimiter.Allow("pin:refund:" + clientKey(r)) {
		writeError(w, http.StatusTooManyRequests, errors.New("too many manager pin attempts"))
		return
	}
	sale, err := a.service.RefundSale(r.Context(), chi.URLParam(r, "saleID"), req)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sale": sale})
}

func (a *API) handleSalesReport(w http.ResponseWriter, r *http.Request) {
	filter, err := parseSaleFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	summary, err := a.service.SalesReport(r.Context(), filter)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (a *API) handleDashboard(w http.ResponseWriter, r *http.Request) {
	dash, err := a.service.Dashboard(r.Context())
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, dash)
}

func (a *API) handleListCashiers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"cashiers": a.auth.ListCashiers(r.Context())})
}

func (a *API) handleCreateCashier(w http.ResponseWriter, r *http.Request) {
	var req domain.CashierCreateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	cashier, err := a.auth.CreateCashier(r.Context(), req)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	actor, _ := service.ActorFromContext(r.Context())
	a.logger.Info("cashier created", zap.String("actor", actor.Username), zap.String("username", cashier.Username))
	writeJSON(w, http.StatusCreated, map[string]any{"cashier": cashier})
}

// parseSaleFilter reads from/to as RFC3339 or a plain date. A plain "to" date
// covers that whole day.
func parseSaleFilter(r *http.Request) (domain.SaleFilter, error) {
	query := r.URL.Query()
	var filter domain.SaleFilter

	if raw := strings.TrimSpace(query.Get("from")); raw != "" {
		from, _, err := parseTimeParam(raw)
		if err != nil {
			return filter, domain.Invalid("from: %v", err)
		}
		filter.From = &from
	}
	if raw := strings.TrimSpace(query.Get("to")); raw != "" {
		to, dateOnly, err := parseTimeParam(raw)
		if err != nil {
			return filter, domain.Invalid("to: %v", err)
		}
		if dateOnly {
			to = to.AddDate(0, 0, 1)
		}
		filter.To = &to
	}
	if raw := strings.TrimSpace(query.Get("payment_method")); raw != "" {
		method, err := domain.ParsePaymentMethod(raw)
		if err != nil {
			return filter, err
		}
		filter.PaymentMethod = method
	}
	if raw := strings.TrimSpace(query.Get("status")); raw != "" {
		switch status := domain.SaleStatus(strings.ToLower(raw)); status {
		case domain.SaleCompleted, domain.SalePending, domain.SaleRefunded, domain.SaleHeld:
			filter.Status = status
		default:
			return filter, domain.Invalid("unknown sale status %q", raw)
		}
	}
	filter.CashierID = strings.TrimSpace(query.Get("cashier_id"))
	return filter, nil
}

func parseTimeParam(raw string) (time.Time, bool, error) {
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.UTC(), false, nil
	}
	t, err := time.Parse(time.DateOnly, raw)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("expected RFC3339 or YYYY-MM-DD, got %q", raw)
	}
	return t, true, nil
}

func decodeJSON(r *http.Request, dest any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dest); err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	return nil
}

func parsePositiveLimit(raw string, fallback int, max int) int {
	limit := fallback
	trimmed := strings.TrimSpace(raw)
	if trimmed != "" {
		if parsed, err := strconv.Atoi(trimmed); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if max > 0 && limit > max {
		return max
	}
	return limit
}

// statusFor maps domain errors onto HTTP status codes. Anything unrecognized
// is a 500.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrInvalidInput),
		errors.Is(err, domain.ErrInvalidDiscount),
		errors.Is(err, domain.ErrInvalidPaymentMethod):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrForbidden),
		errors.Is(err, domain.ErrAuthorizationRequired),
		errors.Is(err, domain.ErrAuthorizationFailed):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrProductNotFound),
		errors.Is(err, domain.ErrHeldCartNotFound),
		errors.Is(err, domain.ErrSessionNotFound),
		errors.Is(err, domain.ErrSaleNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrInsufficientStock),
		errors.Is(err, domain.ErrDuplicateSKU),
		errors.Is(err, domain.ErrSaleNotRefundable),
		errors.Is(err, domain.ErrNoPendingDiscount):
		return http.StatusConflict
	case errors.Is(err, domain.ErrEmptyCart):
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

func (a *API) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		a.logger.Error("request failed",
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
	}
	writeError(w, status, err)
}

type errorBody struct {
	Error   string         `json:"error"`
	Code    string         `json:"code"`
	Details map[string]any `json:"details,omitempty"`
}

// writeError never exposes the message of a 5xx error.
func writeError(w http.ResponseWriter, status int, err error) {
	body := errorBody{Error: err.Error(), Code: domain.ErrorCode(err)}
	if status >= http.StatusInternalServerError {
		body = errorBody{Error: "internal server error", Code: "internal"}
	} else if body.Code == "internal" {
		body.Code = strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}

	var stockErr *domain.StockError
	if errors.As(err, &stockErr) {
		body.Details = map[string]any{
			"product_id": stockErr.ProductID,
			"requested":  stockErr.Requested,
			"available":  stockErr.Available,
		}
	}
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
