package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/Davemuriu/tac-shop/internal/domain"
)

type Store struct {
	db  *sql.DB
	now func() time.Time
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db, now: func() time.Time { return time.Now().UTC() }}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

const productColumns = `id, name, sku, barcode, price, cost, quantity, category, active, low_stock_threshold, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProduct(row rowScanner) (domain.Product, error) {
	var p domain.Product
	err := row.Scan(&p.ID, &p.Name, &p.SKU, &p.Barcode, &p.Price, &p.Cost, &p.Quantity, &p.Category, &p.Active, &p.LowStockThreshold, &p.CreatedAt, &p.UpdatedAt)
	return p, err
}

func (s *Store) ListProducts(ctx context.Context, filter domain.ProductFilter) ([]domain.Product, error) {
	search := strings.TrimSpace(filter.Search)
	if search != "" {
		search = "%" + escapeLike(search) + "%"
	}
	var active sql.NullBool
	if filter.Active != nil {
		active = sql.NullBool{Bool: *filter.Active, Valid: true}
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+productColumns+`
		FROM products
		WHERE ($1 = '' OR lower(category) = lower($1))
		  AND ($2 = '' OR name ILIKE $2 OR sku ILIKE $2 OR barcode ILIKE $2)
		  AND ($3::boolean IS NULL OR active = $3)
		ORDER BY name, id
	`, strings.TrimSpace(filter.Category), search, active)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	products := make([]domain.Product, 0, 64)
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return products, nil
}

func (s *Store) GetProduct(ctx context.Context, id string) (*domain.Product, error) {
	p, err := scanProduct(s.db.QueryRowContext(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("product %s: %w", id, domain.ErrProductNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *Store) GetProductsByIDs(ctx context.Context, ids []string) (map[string]domain.Product, error) {
	result := make(map[string]domain.Product, len(ids))
	if len(ids) == 0 {
		return result, nil
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+productColumns+` FROM products WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		result[p.ID] = p
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Store) CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO products (`+productColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, product.ID, product.Name, product.SKU, product.Barcode, product.Price, product.Cost, product.Quantity,
		product.Category, product.Active, product.LowStockThreshold, product.CreatedAt, product.UpdatedAt)
	if isUniqueViolation(err) {
		return nil, fmt.Errorf("sku %s: %w", product.SKU, domain.ErrDuplicateSKU)
	}
	if err != nil {
		return nil, err
	}
	return &product, nil
}

func (s *Store) UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE products
		SET name = $2, sku = $3, barcode = $4, price = $5, cost = $6, quantity = $7,
		    category = $8, active = $9, low_stock_threshold = $10, updated_at = $11
		WHERE id = $1
	`, product.ID, product.Name, product.SKU, product.Barcode, product.Price, product.Cost, product.Quantity,
		product.Category, product.Active, product.LowStockThreshold, product.UpdatedAt)
	if isUniqueViolation(err) {
		return nil, fmt.Errorf("sku %s: %w", product.SKU, domain.ErrDuplicateSKU)
	}
	if err != nil {
		return nil, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, fmt.Errorf("product %s: %w", product.ID, domain.ErrProductNotFound)
	}
	return &product, nil
}

func (s *Store) DeleteProduct(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM products WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("product %s: %w", id, domain.ErrProductNotFound)
	}
	return nil
}

// CreateSale takes row locks in product id order so that concurrent
// checkouts touching the same products cannot deadlock.
func (s *Store) CreateSale(ctx context.Context, sale domain.Sale) (*domain.Sale, error) {
	if len(sale.Lines) == 0 {
		return nil, domain.ErrEmptyCart
	}

	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	required := make(map[string]int, len(sale.Lines))
	for _, line := range sale.Lines {
		required[line.ProductID] += line.Quantity
	}
	ids := make([]string, 0, len(required))
	for id := range required {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	now := s.now()
	for _, id := range ids {
		qty := required[id]
		var remaining int
		err := pgTx.QueryRowContext(ctx, `
			UPDATE products
			SET quantity = quantity - $2, updated_at = $3
			WHERE id = $1 AND quantity >= $2
			RETURNING quantity
		`, id, qty, now).Scan(&remaining)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, stockFailure(ctx, pgTx, id, qty)
		}
		if err != nil {
			return nil, err
		}
	}

	lines, err := json.Marshal(sale.Lines)
	if err != nil {
		return nil, err
	}
	_, err = pgTx.ExecContext(ctx, `
		INSERT INTO sales (id, receipt_number, lines, subtotal, tax, discount, total,
		                   payment_method, cashier_id, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, sale.ID, sale.ReceiptNumber, lines, sale.Subtotal, sale.Tax, sale.Discount, sale.Total,
		string(sale.PaymentMethod), sale.CashierID, string(sale.Status), sale.CreatedAt)
	if isUniqueViolation(err) {
		return nil, domain.Invalid("sale %s or receipt %s already recorded", sale.ID, sale.ReceiptNumber)
	}
	if err != nil {
		return nil, err
	}

	if err := pgTx.Commit(); err != nil {
		return nil, err
	}
	return &sale, nil
}

func stockFailure(ctx context.Context, tx *sql.Tx, id string, requested int) error {
	var name string
	var available int
	err := tx.QueryRowContext(ctx, `SELECT name, quantity FROM products WHERE id = $1`, id).Scan(&name, &available)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("product %s: %w", id, domain.ErrProductNotFound)
	}
	if err != nil {
		return err
	}
	return &domain.StockError{ProductID: id, Name: name, Requested: requested, Available: available}
}

const saleColumns = `id, receipt_number, lines, subtotal, tax, discount, total, payment_method, cashier_id, status, created_at, refunded_at, refund_reason`

func scanSale(row rowScanner) (domain.Sale, error) {
	var (
		sale       domain.Sale
		lines      []byte
		method     string
		status     string
		refundedAt sql.NullTime
	)
	if err := row.Scan(&sale.ID, &sale.ReceiptNumber, &lines, &sale.Subtotal, &sale.Tax, &sale.Discount, &sale.Total,
		&method, &sale.CashierID, &status, &sale.CreatedAt, &refundedAt, &sale.RefundReason); err != nil {
		return domain.Sale{}, err
	}
	if err := json.Unmarshal(lines, &sale.Lines); err != nil {
		return domain.Sale{}, fmt.Errorf("decode lines of sale %s: %w", sale.ID, err)
	}
	sale.PaymentMethod = domain.PaymentMethod(method)
	sale.Status = domain.SaleStatus(status)
	if refundedAt.Valid {
		at := refundedAt.Time.UTC()
		sale.RefundedAt = &at
	}
	sale.CreatedAt = sale.CreatedAt.UTC()
	return sale, nil
}

func (s *Store) GetSale(ctx context.Context, id string) (*domain.Sale, error) {
	sale, err := scanSale(s.db.QueryRowContext(ctx, `SELECT `+saleColumns+` FROM sales WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("sale %s: %w", id, domain.ErrSaleNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &sale, nil
}

func (s *Store) ListSales(ctx context.Context, filter domain.SaleFilter) ([]domain.Sale, error) {
	clauses := make([]string, 0, 5)
	args := make([]any, 0, 6)
	add := func(clause string, arg any) {
		args = append(args, arg)
		clauses = append(clauses, fmt.Sprintf(clause, len(args)))
	}
	if filter.From != nil {
		add("created_at >= $%d", *filter.From)
	}
	if filter.To != nil {
		add("created_at < $%d", *filter.To)
	}
	if filter.CashierID != "" {
		add("cashier_id = $%d", filter.CashierID)
	}
	if filter.PaymentMethod != "" {
		add("payment_method = $%d", string(filter.PaymentMethod))
	}
	if filter.Status != "" {
		add("status = $%d", string(filter.Status))
	}

	query := `SELECT ` + saleColumns + ` FROM sales`
	if len(clauses) > 0 {
		query += ` WHERE ` + strings.Join(clauses, " AND ")
	}
	query += ` ORDER BY created_at DESC, receipt_number DESC`
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(` LIMIT $%d`, len(args))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sales := make([]domain.Sale, 0, 64)
	for rows.Next() {
		sale, err := scanSale(rows)
		if err != nil {
			return nil, err
		}
		sales = append(sales, sale)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return sales, nil
}

func (s *Store) RefundSale(ctx context.Context, id string, reason string, at time.Time) (*domain.Sale, error) {
	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	sale, err := scanSale(pgTx.QueryRowContext(ctx, `SELECT `+saleColumns+` FROM sales WHERE id = $1 FOR UPDATE`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("sale %s: %w", id, domain.ErrSaleNotFound)
	}
	if err != nil {
		return nil, err
	}
	if sale.Status != domain.SaleCompleted {
		return nil, fmt.Errorf("sale %s is %s: %w", id, sale.Status, domain.ErrSaleNotRefundable)
	}

	for _, line := range sale.Lines {
		if _, err := pgTx.ExecContext(ctx, `
			UPDATE products SET quantity = quantity + $2, updated_at = $3 WHERE id = $1
		`, line.ProductID, line.Quantity, at); err != nil {
			return nil, err
		}
	}
	if _, err := pgTx.ExecContext(ctx, `
		UPDATE sales SET status = $2, refunded_at = $3, refund_reason = $4 WHERE id = $1
	`, id, string(domain.SaleRefunded), at, reason); err != nil {
		return nil, err
	}
	if err := pgTx.Commit(); err != nil {
		return nil, err
	}

	refundedAt := at
	sale.Status = domain.SaleRefunded
	sale.RefundedAt = &refundedAt
	sale.RefundReason = reason
	return &sale, nil
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (username, password, role, active, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, user.Username, user.Password, user.Role, user.Active, user.CreatedAt)
	if isUniqueViolation(err) {
		return domain.Invalid("username already exists")
	}
	return err
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT username, password, role, active, created_at
		FROM users
		ORDER BY username ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 16)
	for rows.Next() {
		var u domain.UserAccount
		if err := rows.Scan(&u.Username, &u.Password, &u.Role, &u.Active, &u.CreatedAt); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE users SET password = $2 WHERE username = $1`, username, password)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.Invalid("unknown user %s", username)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func escapeLike(value string) string {
	replacer := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return replacer.Replace(value)
}
