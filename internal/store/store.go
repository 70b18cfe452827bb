package store

import (
	"context"
	"time"

	"github.com/Davemuriu/tac-shop/internal/domain"
)

// Repository is the catalog, sale ledger and user store. Implementations
// report domain sentinel errors (ErrProductNotFound, *StockError, ...) for
// conditions a caller can act on and plain errors for infrastructure faults.
type Repository interface {
	ListProducts(ctx context.Context, filter domain.ProductFilter) ([]domain.Product, error)
	GetProduct(ctx context.Context, id string) (*domain.Product, error)
	GetProductsByIDs(ctx context.Context, ids []string) (map[string]domain.Product, error)
	CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	DeleteProduct(ctx context.Context, id string) error

	// CreateSale decrements stock for every line and appends the sale as one
	// unit. Nothing is written when any line cannot be fulfilled.
	CreateSale(ctx context.Context, sale domain.Sale) (*domain.Sale, error)
	GetSale(ctx context.Context, id string) (*domain.Sale, error)
	// ListSales returns sales newest first.
	ListSales(ctx context.Context, filter domain.SaleFilter) ([]domain.Sale, error)
	// RefundSale marks a completed sale refunded and restocks its lines that
	// still reference an existing product.
	RefundSale(ctx context.Context, id string, reason string, at time.Time) (*domain.Sale, error)

	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}
