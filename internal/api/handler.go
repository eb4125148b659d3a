// Package api provides the HTTP handlers for checkout, cancellation, restock
// and lease administration.
package api

import (
	"context"
	"errors"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/Deng123666/e-commerce/internal/checkout"
	"github.com/Deng123666/e-commerce/internal/lease"
	"github.com/Deng123666/e-commerce/internal/lock"
	"github.com/Deng123666/e-commerce/internal/logging"
	"github.com/Deng123666/e-commerce/internal/store"
)

// Checkout is the part of checkout.Coordinator the handlers need.
type Checkout interface {
	PlaceOrder(ctx context.Context, customerID int64) (*checkout.OrderResult, error)
	CancelOrder(ctx context.Context, customerID, orderID int64) error
	Restock(ctx context.Context, productID int64, quantity int) (*store.Product, error)
}

// Handler handles checkout API requests.
type Handler struct {
	checkout   Checkout
	leases     lease.Store
	logger     zerolog.Logger
	retryAfter int

	checkoutMiddleware []gin.HandlerFunc
	operatorMiddleware []gin.HandlerFunc
}

// HandlerOption configures a Handler.
type HandlerOption func(*Handler)

// WithRetryAfterSeconds sets the Retry-After hint sent with 429 responses
// when a lock is busy.
func WithRetryAfterSeconds(seconds int) HandlerOption {
	return func(h *Handler) {
		h.retryAfter = seconds
	}
}

// WithCheckoutMiddleware adds middleware in front of order placement, such
// as idempotency.
func WithCheckoutMiddleware(mw ...gin.HandlerFunc) HandlerOption {
	return func(h *Handler) {
		h.checkoutMiddleware = append(h.checkoutMiddleware, mw...)
	}
}

// WithOperatorMiddleware adds middleware in front of restock and lease
// administration, such as request signature verification.
func WithOperatorMiddleware(mw ...gin.HandlerFunc) HandlerOption {
	return func(h *Handler) {
		h.operatorMiddleware = append(h.operatorMiddleware, mw...)
	}
}

// NewHandler creates a new API handler.
func NewHandler(co Checkout, leases lease.Store, logger zerolog.Logger, opts ...HandlerOption) *Handler {
	h := &Handler{
		checkout:   co,
		leases:     leases,
		logger:     logger.With().Str("component", "api").Logger(),
		retryAfter: 1,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// RetryAfterFor derives a Retry-After hint from a lock's retry budget.
func RetryAfterFor(opts lock.Options) int {
	budget := opts.RetryDelay * time.Duration(opts.RetryTimes)
	return int(math.Max(1, math.Ceil(budget.Seconds())))
}

// RegisterRoutes registers all API routes on the provided router group.
func (h *Handler) RegisterRoutes(router *gin.RouterGroup) {
	customers := router.Group("/customers/:customer_id")
	customers.POST("/orders", chain(h.checkoutMiddleware, h.PlaceOrder)...)
	customers.POST("/orders/:order_id/cancel", h.CancelOrder)

	operator := router.Group("", h.operatorMiddleware...)
	operator.POST("/products/:product_id/restock", h.Restock)

	admin := operator.Group("/admin/locks/:resource/:scope/:id")
	admin.GET("", h.InspectLock)
	admin.DELETE("", h.EvictLock)
}

func chain(mw []gin.HandlerFunc, handler gin.HandlerFunc) []gin.HandlerFunc {
	out := make([]gin.HandlerFunc, 0, len(mw)+1)
	out = append(out, mw...)
	return append(out, handler)
}

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// InsufficientStockResponse is returned when a product runs short.
type InsufficientStockResponse struct {
	Error     string `json:"error"`
	Message   string `json:"message"`
	ProductID int64  `json:"productId"`
	Available int    `json:"available"`
	Requested int    `json:"requested"`
}

// RestockRequest is the body of a restock request.
type RestockRequest struct {
	Quantity int `json:"quantity" binding:"required,gt=0"`
}

// PlaceOrder handles POST /customers/:customer_id/orders.
func (h *Handler) PlaceOrder(c *gin.Context) {
	customerID, ok := h.idParam(c, "customer_id")
	if !ok {
		return
	}

	result, err := h.checkout.PlaceOrder(c.Request.Context(), customerID)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, result)
}

// CancelOrder handles POST /customers/:customer_id/orders/:order_id/cancel.
func (h *Handler) CancelOrder(c *gin.Context) {
	customerID, ok := h.idParam(c, "customer_id")
	if !ok {
		return
	}
	orderID, ok := h.idParam(c, "order_id")
	if !ok {
		return
	}

	if err := h.checkout.CancelOrder(c.Request.Context(), customerID, orderID); err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"orderId": orderID, "status": store.OrderStatusCanceled})
}

// Restock handles POST /products/:product_id/restock.
func (h *Handler) Restock(c *gin.Context) {
	productID, ok := h.idParam(c, "product_id")
	if !ok {
		return
	}

	var req RestockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(err)
		// Oversized bodies are answered with a 413 by the payload limiter.
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			c.Abort()
			return
		}
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalidRequest",
			Message: "quantity must be a positive integer",
		})
		return
	}

	product, err := h.checkout.Restock(c.Request.Context(), productID, req.Quantity)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, product)
}

// InspectLock handles GET /admin/locks/:resource/:scope/:id.
func (h *Handler) InspectLock(c *gin.Context) {
	key, ok := h.lockKey(c)
	if !ok {
		return
	}

	info, err := lock.Inspect(c.Request.Context(), h.leases, key)
	if err != nil {
		h.respondLeaseError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"key":        info.Key,
		"held":       info.Held,
		"owner":      info.Owner,
		"ttlSeconds": info.TTL.Seconds(),
	})
}

// EvictLock handles DELETE /admin/locks/:resource/:scope/:id.
func (h *Handler) EvictLock(c *gin.Context) {
	key, ok := h.lockKey(c)
	if !ok {
		return
	}

	evicted, err := lock.Evict(c.Request.Context(), h.leases, key)
	if err != nil {
		h.respondLeaseError(c, err)
		return
	}

	logging.LoggerFromContext(c.Request.Context(), h.logger).Warn().
		Str("lockKey", key).
		Bool("evicted", evicted).
		Msg("lease eviction requested")

	c.JSON(http.StatusOK, gin.H{"key": key, "evicted": evicted})
}

// lockKey maps the admin route onto one of the known lock namespaces.
func (h *Handler) lockKey(c *gin.Context) (string, bool) {
	resource := c.Param("resource") + ":" + c.Param("scope")
	if resource != lock.ResourceOrderCreate && resource != lock.ResourceProductStock {
		c.JSON(http.StatusNotFound, ErrorResponse{
			Error:   "notFound",
			Message: "unknown lock resource " + resource,
		})
		return "", false
	}

	id, ok := h.idParam(c, "id")
	if !ok {
		return "", false
	}
	return lock.Key(resource, strconv.FormatInt(id, 10)), true
}

func (h *Handler) idParam(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalidRequest",
			Message: name + " must be a positive integer",
		})
		return 0, false
	}
	return id, true
}

// respondError maps checkout errors onto HTTP responses. Storage details are
// logged, never returned.
func (h *Handler) respondError(c *gin.Context, err error) {
	var stockErr *checkout.InsufficientStockError
	switch {
	case errors.Is(err, checkout.ErrEmptyCart):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "emptyCart", Message: "cart is empty"})

	case errors.Is(err, checkout.ErrBusy):
		c.Header("Retry-After", strconv.Itoa(h.retryAfter))
		c.JSON(http.StatusTooManyRequests, ErrorResponse{
			Error:   "busy",
			Message: "another checkout is in progress, retry later",
		})

	case errors.As(err, &stockErr):
		c.JSON(http.StatusBadRequest, InsufficientStockResponse{
			Error:     "insufficientStock",
			Message:   stockErr.Error(),
			ProductID: stockErr.ProductID,
			Available: stockErr.Available,
			Requested: stockErr.Requested,
		})

	case errors.Is(err, checkout.ErrProductNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "productNotFound", Message: "product not found"})

	case errors.Is(err, checkout.ErrOrderNotFound), errors.Is(err, checkout.ErrNotOrderOwner):
		// Someone else's order is reported as missing.
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "orderNotFound", Message: "order not found"})

	case errors.Is(err, checkout.ErrOrderAlreadyCanceled):
		c.JSON(http.StatusConflict, ErrorResponse{Error: "alreadyCanceled", Message: "order is already canceled"})

	case errors.Is(err, checkout.ErrInvalidQuantity):
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalidRequest", Message: err.Error()})

	default:
		_ = c.Error(err)
		logging.LoggerFromContext(c.Request.Context(), h.logger).Error().Err(err).Msg("request failed")
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "internalError",
			Message: "internal server error",
		})
	}
}

func (h *Handler) respondLeaseError(c *gin.Context, err error) {
	_ = c.Error(err)
	logging.LoggerFromContext(c.Request.Context(), h.logger).Error().Err(err).Msg("lease store request failed")

	status := http.StatusInternalServerError
	if errors.Is(err, lease.ErrUnavailable) {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, ErrorResponse{Error: "leaseStoreError", Message: "lease store request failed"})
}
