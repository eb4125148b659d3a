package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Deng123666/e-commerce/internal/lease"
)

func setupRateLimitRouter(store lease.Store, limit int, window time.Duration) *gin.Engine {
	router := gin.New()
	router.Use(RateLimit(store, limit, window, zerolog.Nop()))
	router.GET("/test", func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})
	return router
}

func get(router *gin.Engine, ip string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	req.RemoteAddr = ip + ":1234"
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func newRedisLeases(t *testing.T) (*lease.RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() {
		_ = client.Close()
		mr.Close()
	})
	return lease.NewRedisStore(client), mr
}

func TestRateLimit(t *testing.T) {
	store, mr := newRedisLeases(t)
	router := setupRateLimitRouter(store, 2, time.Minute)

	assert.Equal(t, http.StatusNoContent, get(router, "10.0.0.1").Code)

	w := get(router, "10.0.0.1")
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "0", w.Header().Get("X-RateLimit-Remaining"))

	w = get(router, "10.0.0.1")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "60", w.Header().Get("Retry-After"))

	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "tooManyRequests", resp.Error)
	assert.Equal(t, 60, resp.RetryAfter)

	// Other clients have their own budget.
	assert.Equal(t, http.StatusNoContent, get(router, "10.0.0.2").Code)

	// A new window starts once the old one expires.
	mr.FastForward(61 * time.Second)
	assert.Equal(t, http.StatusNoContent, get(router, "10.0.0.1").Code)
}

func TestRateLimit_SharedAcrossInstances(t *testing.T) {
	store, _ := newRedisLeases(t)
	first := setupRateLimitRouter(store, 1, time.Minute)
	second := setupRateLimitRouter(store, 1, time.Minute)

	assert.Equal(t, http.StatusNoContent, get(first, "10.0.0.1").Code)
	assert.Equal(t, http.StatusTooManyRequests, get(second, "10.0.0.1").Code)
}

func TestRateLimit_Disabled(t *testing.T) {
	store, _ := newRedisLeases(t)
	router := setupRateLimitRouter(store, 0, time.Minute)

	for i := 0; i < 5; i++ {
		assert.Equal(t, http.StatusNoContent, get(router, "10.0.0.1").Code)
	}
}

func TestRateLimit_FailsOpen(t *testing.T) {
	store, mr := newRedisLeases(t)
	router := setupRateLimitRouter(store, 1, time.Minute)
	mr.Close()

	assert.Equal(t, http.StatusNoContent, get(router, "10.0.0.1").Code)
	assert.Equal(t, http.StatusNoContent, get(router, "10.0.0.1").Code)
}

func TestRateLimit_MemoryStore(t *testing.T) {
	store := lease.NewMemoryStore()
	defer store.Close()
	router := setupRateLimitRouter(store, 1, time.Minute)

	assert.Equal(t, http.StatusNoContent, get(router, "10.0.0.1").Code)
	assert.Equal(t, http.StatusTooManyRequests, get(router, "10.0.0.1").Code)
}
