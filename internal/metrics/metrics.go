// Package metrics exposes till activity as Prometheus collectors.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
)

const namespace = "tacshop"

// Metrics is safe to use through a nil pointer, in which case every
// recording call is a no-op.
type Metrics struct {
	registry        *prometheus.Registry
	salesCompleted  *prometheus.CounterVec
	salesRevenue    *prometheus.CounterVec
	checkoutFailure *prometheus.CounterVec
	discountAuth    *prometheus.CounterVec
	refunds         prometheus.Counter
	openSessions    prometheus.Gauge
	httpRequests    *prometheus.CounterVec
	httpDuration    *prometheus.HistogramVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		salesCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sales_completed_total",
			Help:      "Completed sales by payment method.",
		}, []string{"payment_method"}),
		salesRevenue: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sales_revenue_total",
			Help:      "Grand total of completed sales by payment method.",
		}, []string{"payment_method"}),
		checkoutFailure: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checkout_failures_total",
			Help:      "Rejected checkouts by error code.",
		}, []string{"reason"}),
		discountAuth: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "discount_authorizations_total",
			Help:      "Manager PIN discount authorizations by outcome.",
		}, []string{"outcome"}),
		refunds: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "refunds_total",
			Help:      "Refunded sales.",
		}),
		openSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "open_sessions",
			Help:      "Till sessions currently held in memory.",
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route pattern, method and status.",
		}, []string{"route", "method", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route pattern.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.salesCompleted,
		m.salesRevenue,
		m.checkoutFailure,
		m.discountAuth,
		m.refunds,
		m.openSessions,
		m.httpRequests,
		m.httpDuration,
	)
	return m
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) SaleCompleted(paymentMethod string, total decimal.Decimal) {
	if m == nil {
		return
	}
	m.salesCompleted.WithLabelValues(paymentMethod).Inc()
	m.salesRevenue.WithLabelValues(paymentMethod).Add(total.InexactFloat64())
}

func (m *Metrics) CheckoutFailed(reason string) {
	if m == nil {
		return
	}
	m.checkoutFailure.WithLabelValues(reason).Inc()
}

func (m *Metrics) DiscountAuthorization(approved bool) {
	if m == nil {
		return
	}
	outcome := "rejected"
	if approved {
		outcome = "approved"
	}
	m.discountAuth.WithLabelValues(outcome).Inc()
}

func (m *Metrics) SaleRefunded() {
	if m == nil {
		return
	}
	m.refunds.Inc()
}

func (m *Metrics) SetOpenSessions(n int) {
	if m == nil {
		return
	}
	m.openSessions.Set(float64(n))
}

func (m *Metrics) ObserveRequest(route string, method string, status string, seconds float64) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(route, method, status).Inc()
	m.httpDuration.WithLabelValues(route).Observe(seconds)
}
