// Package report aggregates the sale ledger for the back office.
package report

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Davemuriu/tac-shop/internal/domain"
)

const DefaultTopProducts = 5

// Summarize totals completed sales. Refunded sales are counted apart and do
// not contribute to revenue figures.
func Summarize(sales []domain.Sale, topN int) domain.SalesReport {
	report := domain.SalesReport{
		GrossSales:    decimal.Zero,
		Discounts:     decimal.Zero,
		TaxCollected:  decimal.Zero,
		NetSales:      decimal.Zero,
		AverageTicket: decimal.Zero,
		RefundedTotal: decimal.Zero,
		ByPayment:     []domain.PaymentBreakdown{},
		ByCashier:     []domain.CashierBreakdown{},
	}

	byPayment := map[domain.PaymentMethod]*domain.PaymentBreakdown{}
	byCashier := map[string]*domain.CashierBreakdown{}
	completed := make([]domain.Sale, 0, len(sales))

	for _, sale := range sales {
		if sale.Status == domain.SaleRefunded {
			report.Refunds++
			report.RefundedTotal = report.RefundedTotal.Add(sale.Total)
			continue
		}
		if sale.Status != domain.SaleCompleted {
			continue
		}
		completed = append(completed, sale)
		report.Transactions++
		report.GrossSales = report.GrossSales.Add(sale.Subtotal)
		report.Discounts = report.Discounts.Add(sale.Discount)
		report.TaxCollected = report.TaxCollected.Add(sale.Tax)
		report.NetSales = report.NetSales.Add(sale.Total)

		pb, ok := byPayment[sale.PaymentMethod]
		if !ok {
			pb = &domain.PaymentBreakdown{PaymentMethod: sale.PaymentMethod, Total: decimal.Zero}
			byPayment[sale.PaymentMethod] = pb
		}
		pb.Transactions++
		pb.Total = pb.Total.Add(sale.Total)

		cb, ok := byCashier[sale.CashierID]
		if !ok {
			cb = &domain.CashierBreakdown{CashierID: sale.CashierID, Total: decimal.Zero}
			byCashier[sale.CashierID] = cb
		}
		cb.Transactions++
		cb.Total = cb.Total.Add(sale.Total)
	}

	if report.Transactions > 0 {
		report.AverageTicket = report.NetSales.Div(decimal.NewFromInt(int64(report.Transactions))).Round(2)
	}
	for _, pb := range byPayment {
		report.ByPayment = append(report.ByPayment, *pb)
	}
	sort.Slice(report.ByPayment, func(i, j int) bool {
		if report.ByPayment[i].Total.Equal(report.ByPayment[j].Total) {
			return report.ByPayment[i].PaymentMethod < report.ByPayment[j].PaymentMethod
		}
		return report.ByPayment[i].Total.GreaterThan(report.ByPayment[j].Total)
	})
	for _, cb := range byCashier {
		report.ByCashier = append(report.ByCashier, *cb)
	}
	sort.Slice(report.ByCashier, func(i, j int) bool {
		if report.ByCashier[i].Total.Equal(report.ByCashier[j].Total) {
			return report.ByCashier[i].CashierID < report.ByCashier[j].CashierID
		}
		return report.ByCashier[i].Total.GreaterThan(report.ByCashier[j].Total)
	})
	report.TopProducts = TopProducts(completed, topN)
	return report
}

// TopProducts ranks products by units sold across completed sales.
func TopProducts(sales []domain.Sale, n int) []domain.ProductPerformance {
	perf := map[string]*domain.ProductPerformance{}
	for _, sale := range sales {
		if sale.Status != domain.SaleCompleted {
			continue
		}
		for _, line := range sale.Lines {
			pp, ok := perf[line.ProductID]
			if !ok {
				pp = &domain.ProductPerformance{ProductID: line.ProductID, Name: line.Name, Revenue: decimal.Zero}
				perf[line.ProductID] = pp
			}
			pp.Quantity += line.Quantity
			pp.Revenue = pp.Revenue.Add(line.Total)
		}
	}
	result := make([]domain.ProductPerformance, 0, len(perf))
	for _, pp := range perf {
		result = append(result, *pp)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Quantity == result[j].Quantity {
			return result[i].ProductID < result[j].ProductID
		}
		return result[i].Quantity > result[j].Quantity
	})
	if n > 0 && len(result) > n {
		result = result[:n]
	}
	return result
}

// LowStock lists active products at or below their threshold, emptiest first.
func LowStock(products []domain.Product) []domain.Product {
	result := make([]domain.Product, 0)
	for _, p := range products {
		if p.IsLowStock() {
			result = append(result, p)
		}
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].Quantity < result[j].Quantity
	})
	return result
}

// BuildDashboard expects sales covering at least the seven days up to now.
func BuildDashboard(now time.Time, sales []domain.Sale, products []domain.Product) domain.Dashboard {
	today := startOfDay(now)
	weekStart := today.AddDate(0, 0, -6)

	dash := domain.Dashboard{
		TodaySales:    decimal.Zero,
		TotalProducts: len(products),
		LowStockCount: len(LowStock(products)),
		WeeklyRevenue: make([]domain.DailyRevenue, 7),
	}
	for i := range dash.WeeklyRevenue {
		dash.WeeklyRevenue[i] = domain.DailyRevenue{
			Date:    weekStart.AddDate(0, 0, i).Format(time.DateOnly),
			Revenue: decimal.Zero,
		}
	}

	week := make([]domain.Sale, 0, len(sales))
	for _, sale := range sales {
		if sale.Status != domain.SaleCompleted {
			continue
		}
		at := sale.CreatedAt.In(now.Location())
		if at.Before(weekStart) || !at.Before(today.AddDate(0, 0, 1)) {
			continue
		}
		week = append(week, sale)
		day := int(startOfDay(at).Sub(weekStart).Hours() / 24)
		dash.WeeklyRevenue[day].Revenue = dash.WeeklyRevenue[day].Revenue.Add(sale.Total)
		if !at.Before(today) {
			dash.TodaySales = dash.TodaySales.Add(sale.Total)
			dash.TodayTransactions++
		}
	}
	dash.TopProducts = TopProducts(week, DefaultTopProducts)
	return dash
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
