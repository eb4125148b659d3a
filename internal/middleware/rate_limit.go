package middleware

import (
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/Deng123666/e-commerce/internal/lease"
	"github.com/Deng123666/e-commerce/internal/logging"
	"github.com/Deng123666/e-commerce/internal/metrics"
)

// RateLimitKeyPrefix prefixes the per-client counters in the lease store.
const RateLimitKeyPrefix = "ratelimit:"

// RateLimit returns a fixed-window rate limiter allowing limit requests per
// client IP per window. Counters live in the lease store, so the budget is
// shared by every server process. A limit of zero or less disables it. When
// the store is unavailable requests are let through.
func RateLimit(store lease.Store, limit int, window time.Duration, logger zerolog.Logger) gin.HandlerFunc {
	if limit <= 0 {
		return func(c *gin.Context) {
			c.Next()
		}
	}

	return func(c *gin.Context) {
		ctx := c.Request.Context()
		key := RateLimitKeyPrefix + c.ClientIP()

		count, err := store.Incr(ctx, key, window)
		if err != nil {
			logging.LoggerFromContext(ctx, logger).Error().Err(err).Msg("rate limiter unavailable, allowing request")
			c.Next()
			return
		}

		remaining := limit - int(count)
		if remaining < 0 {
			remaining = 0
		}
		c.Header("X-RateLimit-Limit", strconv.Itoa(limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(remaining))

		if count <= int64(limit) {
			c.Next()
			return
		}

		retryAfter := retryAfterSeconds(store, c, key, window)
		metrics.RecordRateLimited(c.FullPath())
		logging.LoggerFromContext(ctx, logger).Warn().
			Str("clientIp", c.ClientIP()).
			Int64("count", count).
			Int("limit", limit).
			Msg("rate limit exceeded")

		c.Header("Retry-After", strconv.Itoa(retryAfter))
		c.AbortWithStatusJSON(http.StatusTooManyRequests, ErrorResponse{
			Error:      "tooManyRequests",
			Message:    "rate limit exceeded, retry later",
			RetryAfter: retryAfter,
			StatusCode: http.StatusTooManyRequests,
		})
	}
}

// retryAfterSeconds is the time left in the client's window, rounded up.
func retryAfterSeconds(store lease.Store, c *gin.Context, key string, window time.Duration) int {
	ttl, err := store.TTL(c.Request.Context(), key)
	if err != nil || ttl <= 0 {
		ttl = window
	}
	return int(math.Ceil(ttl.Seconds()))
}
