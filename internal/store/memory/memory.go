package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Davemuriu/tac-shop/internal/domain"
)

// Store keeps the catalog, the sale ledger and user accounts in process
// memory. A single RWMutex serializes writers, which makes CreateSale and
// RefundSale atomic with respect to every reader.
type Store struct {
	mu              sync.RWMutex
	products        map[string]domain.Product
	skuIndex        map[string]string
	sales           []domain.Sale
	salesByID       map[string]int
	receipts        map[string]struct{}
	usersByUsername map[string]domain.UserAccount
	now             func() time.Time
}

func New() *Store {
	return &Store{
		products:        make(map[string]domain.Product),
		skuIndex:        make(map[string]string),
		salesByID:       make(map[string]int),
		receipts:        make(map[string]struct{}),
		usersByUsername: make(map[string]domain.UserAccount),
		now:             func() time.Time { return time.Now().UTC() },
	}
}

// NewSeeded returns a store stocked with the demo tactical-gear catalog.
func NewSeeded() *Store {
	s := New()
	now := s.now()
	for _, p := range seedProducts() {
		p.CreatedAt = now
		p.UpdatedAt = now
		s.products[p.ID] = p
		s.skuIndex[normalizeSKU(p.SKU)] = p.ID
	}
	return s
}

func seedProducts() []domain.Product {
	d := decimal.RequireFromString
	return []domain.Product{
		{ID: "prd-tac-vest", Name: "Tactical Vest", SKU: "TAC-VEST-001", Barcode: "123456789012", Price: d("199.99"), Cost: d("120.00"), Quantity: 25, Category: "Vests", Active: true, LowStockThreshold: 5},
		{ID: "prd-cmb-boot", Name: "Combat Boots", SKU: "BOOT-CMB-001", Barcode: "123456789013", Price: d("149.99"), Cost: d("90.00"), Quantity: 3, Category: "Footwear", Active: true, LowStockThreshold: 5},
		{ID: "prd-led-light", Name: "Flashlight LED", SKU: "LIGHT-LED-001", Barcode: "123456789014", Price: d("49.99"), Cost: d("25.00"), Quantity: 50, Category: "Lighting", Active: true, LowStockThreshold: 10},
		{ID: "prd-dry-bag", Name: "Dry Bag 20L", SKU: "BAG-DRY-020", Price: d("34.50"), Cost: d("18.00"), Quantity: 40, Category: "Bags", Active: true, LowStockThreshold: 8},
		{ID: "prd-fld-glove", Name: "Field Gloves", SKU: "GLV-FLD-001", Price: d("24.99"), Cost: d("11.00"), Quantity: 60, Category: "Apparel", Active: true, LowStockThreshold: 10},
		{ID: "prd-cmp-stove", Name: "Compact Stove", SKU: "STV-CMP-001", Price: d("79.00"), Cost: d("52.00"), Quantity: 0, Category: "Camping", Active: true, LowStockThreshold: 2},
	}
}

func (s *Store) ListProducts(_ context.Context, filter domain.ProductFilter) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	search := strings.ToLower(strings.TrimSpace(filter.Search))
	category := strings.TrimSpace(filter.Category)
	result := make([]domain.Product, 0, len(s.products))
	for _, p := range s.products {
		if filter.Active != nil && p.Active != *filter.Active {
			continue
		}
		if category != "" && !strings.EqualFold(p.Category, category) {
			continue
		}
		if search != "" && !matchesSearch(p, search) {
			continue
		}
		result = append(result, p)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Name == result[j].Name {
			return result[i].ID < result[j].ID
		}
		return result[i].Name < result[j].Name
	})
	return result, nil
}

func matchesSearch(p domain.Product, needle string) bool {
	return strings.Contains(strings.ToLower(p.Name), needle) ||
		strings.Contains(strings.ToLower(p.SKU), needle) ||
		strings.Contains(strings.ToLower(p.Barcode), needle)
}

func (s *Store) GetProduct(_ context.Context, id string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.products[id]
	if !ok {
		return nil, fmt.Errorf("product %s: %w", id, domain.ErrProductNotFound)
	}
	return &p, nil
}

func (s *Store) GetProductsByIDs(_ context.Context, ids []string) (map[string]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make(map[string]domain.Product, len(ids))
	for _, id := range ids {
		if p, ok := s.products[id]; ok {
			result[id] = p
		}
	}
	return result, nil
}

func (s *Store) CreateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.products[product.ID]; exists {
		return nil, domain.Invalid("product %s already exists", product.ID)
	}
	key := normalizeSKU(product.SKU)
	if _, taken := s.skuIndex[key]; taken {
		return nil, fmt.Errorf("sku %s: %w", product.SKU, domain.ErrDuplicateSKU)
	}
	s.products[product.ID] = product
	s.skuIndex[key] = product.ID
	return &product, nil
}

func (s *Store) UpdateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.products[product.ID]
	if !ok {
		return nil, fmt.Errorf("product %s: %w", product.ID, domain.ErrProductNotFound)
	}
	oldKey, newKey := normalizeSKU(current.SKU), normalizeSKU(product.SKU)
	if oldKey != newKey {
		if _, taken := s.skuIndex[newKey]; taken {
			return nil, fmt.Errorf("sku %s: %w", product.SKU, domain.ErrDuplicateSKU)
		}
		delete(s.skuIndex, oldKey)
		s.skuIndex[newKey] = product.ID
	}
	s.products[product.ID] = product
	return &product, nil
}

func (s *Store) DeleteProduct(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.products[id]
	if !ok {
		return fmt.Errorf("product %s: %w", id, domain.ErrProductNotFound)
	}
	delete(s.products, id)
	delete(s.skuIndex, normalizeSKU(p.SKU))
	return nil
}

// CreateSale validates every line before touching stock, so a failing line
// leaves both the catalog and the ledger as they were.
func (s *Store) CreateSale(_ context.Context, sale domain.Sale) (*domain.Sale, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(sale.Lines) == 0 {
		return nil, domain.ErrEmptyCart
	}
	if _, exists := s.salesByID[sale.ID]; exists {
		return nil, domain.Invalid("sale %s already recorded", sale.ID)
	}
	if _, exists := s.receipts[sale.ReceiptNumber]; exists {
		return nil, domain.Invalid("receipt number %s already used", sale.ReceiptNumber)
	}

	required := make(map[string]int, len(sale.Lines))
	for _, line := range sale.Lines {
		required[line.ProductID] += line.Quantity
	}
	for id, qty := range required {
		p, ok := s.products[id]
		if !ok {
			return nil, fmt.Errorf("product %s: %w", id, domain.ErrProductNotFound)
		}
		if qty > p.Quantity {
			return nil, &domain.StockError{ProductID: id, Name: p.Name, Requested: qty, Available: p.Quantity}
		}
	}

	now := s.now()
	for id, qty := range required {
		p := s.products[id]
		p.Quantity -= qty
		p.UpdatedAt = now
		s.products[id] = p
	}

	stored := cloneSale(sale)
	s.salesByID[stored.ID] = len(s.sales)
	s.sales = append(s.sales, stored)
	s.receipts[stored.ReceiptNumber] = struct{}{}
	out := cloneSale(stored)
	return &out, nil
}

func (s *Store) GetSale(_ context.Context, id string) (*domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	idx, ok := s.salesByID[id]
	if !ok {
		return nil, fmt.Errorf("sale %s: %w", id, domain.ErrSaleNotFound)
	}
	out := cloneSale(s.sales[idx])
	return &out, nil
}

func (s *Store) ListSales(_ context.Context, filter domain.SaleFilter) ([]domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Sale, 0)
	for i := len(s.sales) - 1; i >= 0; i-- {
		sale := s.sales[i]
		if !matchesSale(sale, filter) {
			continue
		}
		result = append(result, cloneSale(sale))
		if filter.Limit > 0 && len(result) >= filter.Limit {
			break
		}
	}
	return result, nil
}

func matchesSale(sale domain.Sale, filter domain.SaleFilter) bool {
	if filter.From != nil && sale.CreatedAt.Before(*filter.From) {
		return false
	}
	if filter.To != nil && !sale.CreatedAt.Before(*filter.To) {
		return false
	}
	if filter.CashierID != "" && sale.CashierID != filter.CashierID {
		return false
	}
	if filter.PaymentMethod != "" && sale.PaymentMethod != filter.PaymentMethod {
		return false
	}
	if filter.Status != "" && sale.Status != filter.Status {
		return false
	}
	return true
}

func (s *Store) RefundSale(_ context.Context, id string, reason string, at time.Time) (*domain.Sale, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx, ok := s.salesByID[id]
	if !ok {
		return nil, fmt.Errorf("sale %s: %w", id, domain.ErrSaleNotFound)
	}
	sale := s.sales[idx]
	if sale.Status != domain.SaleCompleted {
		return nil, fmt.Errorf("sale %s is %s: %w", id, sale.Status, domain.ErrSaleNotRefundable)
	}

	for _, line := range sale.Lines {
		p, exists := s.products[line.ProductID]
		if !exists {
			continue
		}
		p.Quantity += line.Quantity
		p.UpdatedAt = at
		s.products[line.ProductID] = p
	}
	refundedAt := at
	sale.Status = domain.SaleRefunded
	sale.RefundedAt = &refundedAt
	sale.RefundReason = reason
	s.sales[idx] = sale

	out := cloneSale(sale)
	return &out, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.usersByUsername[user.Username]; exists {
		return domain.Invalid("username already exists")
	}
	s.usersByUsername[user.Username] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]domain.UserAccount, 0, len(s.usersByUsername))
	for _, u := range s.usersByUsername {
		result = append(result, u)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Username < result[j].Username
	})
	return result, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.usersByUsername[username]
	if !ok {
		return domain.Invalid("unknown user %s", username)
	}
	u.Password = password
	s.usersByUsername[username] = u
	return nil
}

func normalizeSKU(sku string) string {
	return strings.ToUpper(strings.TrimSpace(sku))
}

func cloneSale(sale domain.Sale) domain.Sale {
	lines := make([]domain.SaleLine, len(sale.Lines))
	copy(lines, sale.Lines)
	sale.Lines = lines
	if sale.RefundedAt != nil {
		at := *sale.RefundedAt
		sale.RefundedAt = &at
	}
	return sale
}
