package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Deng123666/e-commerce/internal/checkout"
	"github.com/Deng123666/e-commerce/internal/idempotency"
	"github.com/Deng123666/e-commerce/internal/lease"
	"github.com/Deng123666/e-commerce/internal/lock"
	"github.com/Deng123666/e-commerce/internal/middleware"
	"github.com/Deng123666/e-commerce/internal/store"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// stubCheckout returns canned results.
type stubCheckout struct {
	err     error
	result  *checkout.OrderResult
	product *store.Product

	customerID int64
	orderID    int64
	quantity   int
}

func (s *stubCheckout) PlaceOrder(ctx context.Context, customerID int64) (*checkout.OrderResult, error) {
	s.customerID = customerID
	return s.result, s.err
}

func (s *stubCheckout) CancelOrder(ctx context.Context, customerID, orderID int64) error {
	s.customerID, s.orderID = customerID, orderID
	return s.err
}

func (s *stubCheckout) Restock(ctx context.Context, productID int64, quantity int) (*store.Product, error) {
	s.quantity = quantity
	return s.product, s.err
}

func newRouter(co Checkout, leases lease.Store, opts ...HandlerOption) *gin.Engine {
	router := gin.New()
	h := NewHandler(co, leases, zerolog.Nop(), append([]HandlerOption{WithRetryAfterSeconds(2)}, opts...)...)
	h.RegisterRoutes(router.Group("/api/v1"))
	return router
}

func do(router *gin.Engine, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestPlaceOrder_ErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantError  string
	}{
		{"empty cart", checkout.ErrEmptyCart, http.StatusNotFound, "emptyCart"},
		{"busy", fmt.Errorf("%w: %w", checkout.ErrBusy, lock.ErrNotAcquired), http.StatusTooManyRequests, "busy"},
		{"insufficient stock", &checkout.InsufficientStockError{ProductID: 3, Available: 1, Requested: 2}, http.StatusBadRequest, "insufficientStock"},
		{"product not found", checkout.ErrProductNotFound, http.StatusNotFound, "productNotFound"},
		{"storage", &checkout.StorageError{Op: "commit", Err: errors.New("pq: connection reset by 10.1.2.3")}, http.StatusInternalServerError, "internalError"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := newRouter(&stubCheckout{err: tt.err}, lease.NewMemoryStore())

			w := do(router, http.MethodPost, "/api/v1/customers/7/orders", "", nil)
			assert.Equal(t, tt.wantStatus, w.Code)

			var resp map[string]interface{}
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.Equal(t, tt.wantError, resp["error"])
			assert.NotContains(t, w.Body.String(), "10.1.2.3", "storage details must not leak")
		})
	}
}

func TestPlaceOrder_BusySetsRetryAfter(t *testing.T) {
	router := newRouter(&stubCheckout{err: checkout.ErrBusy}, lease.NewMemoryStore())

	w := do(router, http.MethodPost, "/api/v1/customers/7/orders", "", nil)
	assert.Equal(t, "2", w.Header().Get("Retry-After"))
}

func TestPlaceOrder_InsufficientStockBody(t *testing.T) {
	router := newRouter(&stubCheckout{err: &checkout.InsufficientStockError{ProductID: 3, Available: 1, Requested: 2}}, lease.NewMemoryStore())

	w := do(router, http.MethodPost, "/api/v1/customers/7/orders", "", nil)

	var resp InsufficientStockResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, int64(3), resp.ProductID)
	assert.Equal(t, 1, resp.Available)
	assert.Equal(t, 2, resp.Requested)
}

func TestPlaceOrder_InvalidCustomerID(t *testing.T) {
	stub := &stubCheckout{}
	router := newRouter(stub, lease.NewMemoryStore())

	for _, id := range []string{"abc", "0", "-4"} {
		w := do(router, http.MethodPost, "/api/v1/customers/"+id+"/orders", "", nil)
		assert.Equal(t, http.StatusBadRequest, w.Code, id)
	}
	assert.Zero(t, stub.customerID)
}

func TestCancelOrder(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{"ok", nil, http.StatusOK},
		{"unknown", checkout.ErrOrderNotFound, http.StatusNotFound},
		{"not owner", checkout.ErrNotOrderOwner, http.StatusNotFound},
		{"already canceled", checkout.ErrOrderAlreadyCanceled, http.StatusConflict},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stub := &stubCheckout{err: tt.err}
			router := newRouter(stub, lease.NewMemoryStore())

			w := do(router, http.MethodPost, "/api/v1/customers/7/orders/12/cancel", "", nil)
			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Equal(t, int64(7), stub.customerID)
			assert.Equal(t, int64(12), stub.orderID)
		})
	}
}

func TestRestock(t *testing.T) {
	stub := &stubCheckout{product: &store.Product{ID: 5, Stock: 8, IsActive: true}}
	router := newRouter(stub, lease.NewMemoryStore())

	w := do(router, http.MethodPost, "/api/v1/products/5/restock", `{"quantity":3}`, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, 3, stub.quantity)

	var p store.Product
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &p))
	assert.Equal(t, 8, p.Stock)
}

func TestRestock_InvalidBody(t *testing.T) {
	router := newRouter(&stubCheckout{}, lease.NewMemoryStore())

	for _, body := range []string{`{"quantity":0}`, `{"quantity":-1}`, `{}`, `not json`} {
		w := do(router, http.MethodPost, "/api/v1/products/5/restock", body, nil)
		assert.Equal(t, http.StatusBadRequest, w.Code, body)
	}
}

func TestRestock_OversizedBody(t *testing.T) {
	body := `{"quantity":1,"note":"` + strings.Repeat("x", 100) + `"}`

	tests := []struct {
		name string
		opts []HandlerOption
	}{
		{"unsigned", nil},
		{"signed", []HandlerOption{WithOperatorMiddleware(middleware.RequireSignature(middleware.SignatureConfig{
			Secret: []byte("operator-secret"),
		}))}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stub := &stubCheckout{product: &store.Product{ID: 5}}
			router := gin.New()
			group := router.Group("/api/v1", middleware.PayloadLimit(20, zerolog.Nop()))
			NewHandler(stub, lease.NewMemoryStore(), zerolog.Nop(), tt.opts...).RegisterRoutes(group)

			req := httptest.NewRequest(http.MethodPost, "/api/v1/products/5/restock", strings.NewReader(body))
			req.Header.Set("Content-Type", "application/json")
			req.ContentLength = -1
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code, w.Body.String())

			var resp middleware.ErrorResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.Equal(t, "payloadTooLarge", resp.Error)
			assert.Zero(t, stub.quantity)
		})
	}
}

func TestLockAdmin(t *testing.T) {
	leases := lease.NewMemoryStore()
	defer leases.Close()
	router := newRouter(&stubCheckout{}, leases)

	ctx := context.Background()
	ok, err := leases.TrySetLease(ctx, lock.OrderCreateKey(7), "owner-1", 30*time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	w := do(router, http.MethodGet, "/api/v1/admin/locks/order/create/7", "", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var info map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &info))
	assert.Equal(t, "lock:order:create:7", info["key"])
	assert.Equal(t, true, info["held"])
	assert.Equal(t, "owner-1", info["owner"])
	assert.Greater(t, info["ttlSeconds"].(float64), 0.0)

	w = do(router, http.MethodDelete, "/api/v1/admin/locks/order/create/7", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"key":"lock:order:create:7","evicted":true}`, w.Body.String())

	_, held, err := leases.Get(ctx, lock.OrderCreateKey(7))
	require.NoError(t, err)
	assert.False(t, held)

	w = do(router, http.MethodDelete, "/api/v1/admin/locks/order/create/7", "", nil)
	assert.JSONEq(t, `{"key":"lock:order:create:7","evicted":false}`, w.Body.String())
}

func TestLockAdmin_UnknownResource(t *testing.T) {
	router := newRouter(&stubCheckout{}, lease.NewMemoryStore())

	w := do(router, http.MethodGet, "/api/v1/admin/locks/cart/items/7", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(router, http.MethodGet, "/api/v1/admin/locks/product/stock/x", "", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

// End to end: the real coordinator behind the idempotency middleware.
func TestPlaceOrder_Integration(t *testing.T) {
	leases := lease.NewMemoryStore()
	defer leases.Close()

	factory, err := lock.NewFactory(leases, zerolog.Nop())
	require.NoError(t, err)

	db := store.NewMemoryStore()
	db.PutProduct(store.Product{ID: 1, Name: "mug", PriceCents: 1200, Stock: 2, IsActive: true})
	db.AddCartItem(7, 1, 2)

	co := checkout.NewCoordinator(db, factory, nil, zerolog.Nop())
	router := newRouter(co, leases,
		WithCheckoutMiddleware(idempotency.Middleware(idempotency.NewConfig(idempotency.NewStore(leases)))))

	headers := map[string]string{idempotency.KeyHeader: "retry-1"}
	first := do(router, http.MethodPost, "/api/v1/customers/7/orders", "", headers)
	require.Equal(t, http.StatusCreated, first.Code, first.Body.String())

	var result checkout.OrderResult
	require.NoError(t, json.Unmarshal(first.Body.Bytes(), &result))
	assert.Equal(t, int64(2400), result.Order.TotalCents)

	// A client retry with the same key gets the same order back.
	second := do(router, http.MethodPost, "/api/v1/customers/7/orders", "", headers)
	assert.Equal(t, http.StatusCreated, second.Code)
	assert.JSONEq(t, first.Body.String(), second.Body.String())
	assert.Len(t, db.Orders(7), 1)

	// Without the key the now empty cart is reported.
	third := do(router, http.MethodPost, "/api/v1/customers/7/orders", "", nil)
	assert.Equal(t, http.StatusNotFound, third.Code)

	p, _ := db.Product(1)
	assert.Equal(t, 0, p.Stock)
	assert.False(t, p.IsActive)
}

func TestOperatorMiddleware(t *testing.T) {
	deny := func(c *gin.Context) {
		c.AbortWithStatus(http.StatusUnauthorized)
	}
	stub := &stubCheckout{result: &checkout.OrderResult{}}
	router := newRouter(stub, lease.NewMemoryStore(), WithOperatorMiddleware(deny))

	assert.Equal(t, http.StatusUnauthorized, do(router, http.MethodPost, "/api/v1/products/5/restock", `{"quantity":1}`, nil).Code)
	assert.Equal(t, http.StatusUnauthorized, do(router, http.MethodGet, "/api/v1/admin/locks/order/create/7", "", nil).Code)
	assert.Equal(t, http.StatusCreated, do(router, http.MethodPost, "/api/v1/customers/7/orders", "", nil).Code,
		"customer routes are not operator routes")
}

func TestRetryAfterFor(t *testing.T) {
	assert.Equal(t, 1, RetryAfterFor(lock.DefaultOrderOptions))
	assert.Equal(t, 1, RetryAfterFor(lock.Options{RetryTimes: 1, RetryDelay: time.Millisecond}))
	assert.Equal(t, 3, RetryAfterFor(lock.Options{RetryTimes: 5, RetryDelay: 500 * time.Millisecond}))
}

func TestHealthHandler(t *testing.T) {
	router := gin.New()
	router.GET("/health", HealthHandler(map[string]Checker{
		"redis":    func(ctx context.Context) error { return nil },
		"postgres": func(ctx context.Context) error { return errors.New("connection refused") },
	}))

	w := do(router, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.JSONEq(t, `{"status":"unhealthy","checks":{"redis":"ok","postgres":"connection refused"}}`, w.Body.String())

	router = gin.New()
	router.GET("/health", HealthHandler(map[string]Checker{
		"redis": func(ctx context.Context) error { return nil },
	}))
	w = do(router, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}
