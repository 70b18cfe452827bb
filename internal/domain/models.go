package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	RoleAdmin   = "admin"
	RoleManager = "manager"
	RoleCashier = "cashier"
)

type Product struct {
	ID                string          `json:"id"`
	Name              string          `json:"name"`
	SKU               string          `json:"sku"`
	Barcode           string          `json:"barcode,omitempty"`
	Price             decimal.Decimal `json:"price"`
	Cost              decimal.Decimal `json:"cost"`
	Quantity          int             `json:"quantity"`
	Category          string          `json:"category"`
	Active            bool            `json:"active"`
	LowStockThreshold int             `json:"low_stock_threshold"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

func (p Product) IsLowStock() bool {
	return p.Active && p.Quantity <= p.LowStockThreshold
}

type ProductFilter struct {
	Category string
	Search   string
	Active   *bool
}

type ProductCreateRequest struct {
	Name              string          `json:"name"`
	SKU               string          `json:"sku"`
	Barcode           string          `json:"barcode,omitempty"`
	Price             decimal.Decimal `json:"price"`
	Cost              decimal.Decimal `json:"cost"`
	Quantity          int             `json:"quantity"`
	Category          string          `json:"category"`
	Active            *bool           `json:"active,omitempty"`
	LowStockThreshold int             `json:"low_stock_threshold"`
}

type ProductUpdateRequest struct {
	Name              *string          `json:"name,omitempty"`
	SKU               *string          `json:"sku,omitempty"`
	Barcode           *string          `json:"barcode,omitempty"`
	Price             *decimal.Decimal `json:"price,omitempty"`
	Cost              *decimal.Decimal `json:"cost,omitempty"`
	Quantity          *int             `json:"quantity,omitempty"`
	Category          *string          `json:"category,omitempty"`
	Active            *bool            `json:"active,omitempty"`
	LowStockThreshold *int             `json:"low_stock_threshold,omitempty"`
}

type CartLine struct {
	ProductID     string           `json:"product_id"`
	Quantity      int              `json:"quantity"`
	Discount      decimal.Decimal  `json:"discount"`
	PriceOverride *decimal.Decimal `json:"price_override,omitempty"`
}

type Cart struct {
	Lines    []CartLine      `json:"lines"`
	Discount decimal.Decimal `json:"discount"`
}

// Clone returns a deep copy so snapshots never alias the live cart.
func (c Cart) Clone() Cart {
	return Cart{Lines: CloneLines(c.Lines), Discount: c.Discount}
}

func CloneLines(lines []CartLine) []CartLine {
	out := make([]CartLine, len(lines))
	for i, line := range lines {
		out[i] = line
		if line.PriceOverride != nil {
			override := *line.PriceOverride
			out[i].PriceOverride = &override
		}
	}
	return out
}

type HeldCart struct {
	ID     string     `json:"id"`
	HeldAt time.Time  `json:"held_at"`
	Note   string     `json:"note,omitempty"`
	Lines  []CartLine `json:"lines"`
}

type CartLineView struct {
	ProductID     string           `json:"product_id"`
	Name          string           `json:"name"`
	SKU           string           `json:"sku"`
	UnitPrice     decimal.Decimal  `json:"unit_price"`
	PriceOverride *decimal.Decimal `json:"price_override,omitempty"`
	Quantity      int              `json:"quantity"`
	Discount      decimal.Decimal  `json:"discount"`
	Total         decimal.Decimal  `json:"total"`
	InStock       int              `json:"in_stock"`
	Unavailable   bool             `json:"unavailable,omitempty"`
}

type PendingDiscount struct {
	Scope     string          `json:"scope"`
	ProductID string          `json:"product_id,omitempty"`
	Amount    decimal.Decimal `json:"amount"`
}

type CartView struct {
	Lines           []CartLineView   `json:"lines"`
	ItemCount       int              `json:"item_count"`
	Subtotal        decimal.Decimal  `json:"subtotal"`
	Tax             decimal.Decimal  `json:"tax"`
	Discount        decimal.Decimal  `json:"discount"`
	Total           decimal.Decimal  `json:"total"`
	DiscountState   string           `json:"discount_state"`
	PendingDiscount *PendingDiscount `json:"pending_discount,omitempty"`
}

type SessionView struct {
	ID        string     `json:"id"`
	Cashier   string     `json:"cashier"`
	CreatedAt time.Time  `json:"created_at"`
	Cart      CartView   `json:"cart"`
	Holds     []HeldCart `json:"holds"`
}

type AddToCartRequest struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

type UpdateQuantityRequest struct {
	Quantity int `json:"quantity"`
}

type PriceOverrideRequest struct {
	Price *decimal.Decimal `json:"price"`
}

type DiscountRequest struct {
	Amount    decimal.Decimal `json:"amount"`
	ProductID string          `json:"product_id,omitempty"`
}

type AuthorizeDiscountRequest struct {
	PIN string `json:"pin"`
}

const (
	DiscountApplied              = "applied"
	DiscountPendingAuthorization = "pending_authorization"
)

type DiscountResponse struct {
	Status string   `json:"status"`
	Cart   CartView `json:"cart"`
}

type HoldCartRequest struct {
	Note string `json:"note,omitempty"`
}

type HoldCartResponse struct {
	Held *HeldCart `json:"held,omitempty"`
	Cart CartView  `json:"cart"`
}

type ResumeCartResponse struct {
	Cart     CartView  `json:"cart"`
	AutoHeld *HeldCart `json:"auto_held,omitempty"`
}

type PaymentMethod string

const (
	PaymentCash    PaymentMethod = "cash"
	PaymentCard    PaymentMethod = "card"
	PaymentDigital PaymentMethod = "digital"
	PaymentMpesa   PaymentMethod = "mpesa"
)

// ParsePaymentMethod maps UI-level choices onto the stored enumeration.
// The M-Pesa till and paybill options are both recorded as mpesa.
func ParsePaymentMethod(raw string) (PaymentMethod, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "cash":
		return PaymentCash, nil
	case "card":
		return PaymentCard, nil
	case "digital":
		return PaymentDigital, nil
	case "mpesa", "mpesa_till", "mpesa_paybill":
		return PaymentMpesa, nil
	}
	return "", ErrInvalidPaymentMethod
}

type SaleStatus string

const (
	SaleCompleted SaleStatus = "completed"
	SalePending   SaleStatus = "pending"
	SaleRefunded  SaleStatus = "refunded"
	SaleHeld      SaleStatus = "held"
)

type SaleLine struct {
	ProductID string          `json:"product_id"`
	Name      string          `json:"name"`
	SKU       string          `json:"sku"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Discount  decimal.Decimal `json:"discount"`
	Total     decimal.Decimal `json:"total"`
}

type Sale struct {
	ID            string          `json:"id"`
	ReceiptNumber string          `json:"receipt_number"`
	Lines         []SaleLine      `json:"lines"`
	Subtotal      decimal.Decimal `json:"subtotal"`
	Tax           decimal.Decimal `json:"tax"`
	Discount      decimal.Decimal `json:"discount"`
	Total         decimal.Decimal `json:"total"`
	PaymentMethod PaymentMethod   `json:"payment_method"`
	CashierID     string          `json:"cashier_id"`
	Status        SaleStatus      `json:"status"`
	CreatedAt     time.Time       `json:"created_at"`
	RefundedAt    *time.Time      `json:"refunded_at,omitempty"`
	RefundReason  string          `json:"refund_reason,omitempty"`
}

type SaleFilter struct {
	From          *time.Time
	To            *time.Time
	CashierID     string
	PaymentMethod PaymentMethod
	Status        SaleStatus
	Limit         int
}

type CheckoutRequest struct {
	PaymentMethod string           `json:"payment_method"`
	Discount      *decimal.Decimal `json:"discount,omitempty"`
}

type RefundRequest struct {
	ManagerPIN string `json:"manager_pin"`
	Reason     string `json:"reason"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

type Actor struct {
	Username string `json:"username"`
	Role     string `json:"role"`
}

func (a Actor) HasRole(roles ...string) bool {
	for _, role := range roles {
		if a.Role == role {
			return true
		}
	}
	return false
}

type CashierCreateRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type CashierUser struct {
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

type UserAccount struct {
	Username  string
	Password  string
	Role      string
	Active    bool
	CreatedAt time.Time
}

type PaymentBreakdown struct {
	PaymentMethod PaymentMethod   `json:"payment_method"`
	Transactions  int             `json:"transactions"`
	Total         decimal.Decimal `json:"total"`
}

type CashierBreakdown struct {
	CashierID    string          `json:"cashier_id"`
	Transactions int             `json:"transactions"`
	Total        decimal.Decimal `json:"total"`
}

type ProductPerformance struct {
	ProductID string          `json:"product_id"`
	Name      string          `json:"name"`
	Quantity  int             `json:"quantity"`
	Revenue   decimal.Decimal `json:"revenue"`
}

type SalesReport struct {
	From          *time.Time           `json:"from,omitempty"`
	To            *time.Time           `json:"to,omitempty"`
	Transactions  int                  `json:"transactions"`
	GrossSales    decimal.Decimal      `json:"gross_sales"`
	Discounts     decimal.Decimal      `json:"discounts"`
	TaxCollected  decimal.Decimal      `json:"tax_collected"`
	NetSales      decimal.Decimal      `json:"net_sales"`
	AverageTicket decimal.Decimal      `json:"average_ticket"`
	Refunds       int                  `json:"refunds"`
	RefundedTotal decimal.Decimal      `json:"refunded_total"`
	ByPayment     []PaymentBreakdown   `json:"by_payment"`
	ByCashier     []CashierBreakdown   `json:"by_cashier"`
	TopProducts   []ProductPerformance `json:"top_products"`
}

type DailyRevenue struct {
	Date    string          `json:"date"`
	Revenue decimal.Decimal `json:"revenue"`
}

type Dashboard struct {
	TodaySales        decimal.Decimal      `json:"today_sales"`
	TodayTransactions int                  `json:"today_transactions"`
	TotalProducts     int                  `json:"total_products"`
	LowStockCount     int                  `json:"low_stock_count"`
	WeeklyRevenue     []DailyRevenue       `json:"weekly_revenue"`
	TopProducts       []ProductPerformance `json:"top_products"`
}

type SessionSnapshot struct {
	ID              string           `json:"id"`
	Cashier         string           `json:"cashier"`
	CreatedAt       time.Time        `json:"created_at"`
	UpdatedAt       time.Time        `json:"updated_at"`
	Cart            Cart             `json:"cart"`
	PendingDiscount *PendingDiscount `json:"pending_discount,omitempty"`
	Holds           []HeldCart       `json:"holds"`
}
