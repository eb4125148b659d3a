// Package metrics provides Prometheus metrics for observability.
package metrics

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// LockAcquisitions tracks lock acquisition attempts by scope and result.
	LockAcquisitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lock_acquisitions_total",
			Help: "Total lock acquisitions by scope and result (acquired, contended, error, cancelled)",
		},
		[]string{"scope", "result"},
	)

	// LockWaitDuration tracks how long Acquire took, including retries.
	LockWaitDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "lock_wait_duration_seconds",
			Help:    "Time spent acquiring a lock in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		},
		[]string{"scope"},
	)

	// LockReleases tracks lock releases by scope and result.
	LockReleases = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lock_releases_total",
			Help: "Total lock releases by scope and result (released, lost, error)",
		},
		[]string{"scope", "result"},
	)

	// LeaseEvictions tracks operator-initiated lease evictions.
	LeaseEvictions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "lease_evictions_total",
			Help: "Total leases evicted through operational tooling",
		},
	)

	// CheckoutsTotal tracks checkout attempts by outcome.
	CheckoutsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "checkouts_total",
			Help: "Total checkout attempts by result",
		},
		[]string{"result"},
	)

	// CheckoutDuration tracks end-to-end checkout duration.
	CheckoutDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "checkout_duration_seconds",
			Help:    "Checkout duration in seconds",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
	)

	// ProductsExhausted tracks products deactivated because stock reached zero.
	ProductsExhausted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "products_exhausted_total",
			Help: "Total products marked inactive after stock reached zero",
		},
	)

	// StockAdjustments tracks stock mutations by kind (checkout, cancel, restock).
	StockAdjustments = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stock_adjustments_total",
			Help: "Total stock mutations by kind",
		},
		[]string{"kind"},
	)

	// NotificationsSent tracks total notifications sent by channel and status.
	NotificationsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifications_sent_total",
			Help: "Total notifications sent by channel and status",
		},
		[]string{"channel", "status"},
	)

	// HTTPRequestsTotal tracks total HTTP requests.
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total HTTP requests by method, path, and status",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration tracks HTTP request duration.
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// RateLimited tracks requests rejected by the rate limiter.
	RateLimited = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rate_limited_requests_total",
			Help: "Total requests rejected by the rate limiter by path",
		},
		[]string{"path"},
	)

	// DuplicateRequests tracks requests short-circuited by idempotency keys.
	DuplicateRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "duplicate_requests_total",
			Help: "Total duplicate requests detected by path",
		},
		[]string{"path"},
	)

	// DatabaseQueryDuration tracks database query duration.
	DatabaseQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "database_query_duration_seconds",
			Help:    "Database query duration in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"operation"},
	)
)

// RegisterMetricsEndpoint registers the /metrics endpoint on a Gin router.
func RegisterMetricsEndpoint(router *gin.Engine) {
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
}

// RecordLockAcquisition records the outcome and wait time of an Acquire call.
func RecordLockAcquisition(scope, result string, seconds float64) {
	LockAcquisitions.WithLabelValues(scope, result).Inc()
	LockWaitDuration.WithLabelValues(scope).Observe(seconds)
}

// RecordLockRelease records a lock release.
func RecordLockRelease(scope, result string) {
	LockReleases.WithLabelValues(scope, result).Inc()
}

// RecordLeaseEviction records an operator eviction.
func RecordLeaseEviction() {
	LeaseEvictions.Inc()
}

// RecordCheckout records a checkout outcome and its duration.
func RecordCheckout(result string, seconds float64) {
	CheckoutsTotal.WithLabelValues(result).Inc()
	CheckoutDuration.Observe(seconds)
}

// RecordProductExhausted records a product deactivated at zero stock.
func RecordProductExhausted() {
	ProductsExhausted.Inc()
}

// RecordStockAdjustment records a stock mutation.
func RecordStockAdjustment(kind string) {
	StockAdjustments.WithLabelValues(kind).Inc()
}

// RecordNotificationSent records a notification sent event.
func RecordNotificationSent(channel, status string) {
	NotificationsSent.WithLabelValues(channel, status).Inc()
}

// RecordHTTPRequest records an HTTP request.
func RecordHTTPRequest(method, path, status string) {
	HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
}

// RecordHTTPRequestDuration records HTTP request duration.
func RecordHTTPRequestDuration(method, path string, seconds float64) {
	HTTPRequestDuration.WithLabelValues(method, path).Observe(seconds)
}

// RecordRateLimited records a rate-limited request.
func RecordRateLimited(path string) {
	RateLimited.WithLabelValues(path).Inc()
}

// RecordDuplicateRequest records a request rejected as a duplicate.
func RecordDuplicateRequest(path string) {
	DuplicateRequests.WithLabelValues(path).Inc()
}

// RecordDatabaseQuery records a database query duration.
func RecordDatabaseQuery(operation string, seconds float64) {
	DatabaseQueryDuration.WithLabelValues(operation).Observe(seconds)
}
