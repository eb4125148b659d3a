package idempotency

import (
	"bytes"
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/Deng123666/e-commerce/internal/metrics"
)

// KeyHeader is the header for client-provided idempotency keys.
const KeyHeader = "X-Idempotency-Key"

// ReplayedHeader is set on responses replayed from a recorded one.
const ReplayedHeader = "Idempotent-Replayed"

// DefaultTTL is the default TTL for idempotency keys (24 hours).
const DefaultTTL = 24 * time.Hour

// storeTimeout bounds bookkeeping done after the handler has run.
const storeTimeout = 2 * time.Second

// KeyExtractor is a function that extracts an idempotency key from a request.
type KeyExtractor func(*gin.Context) string

// Config holds the configuration for the idempotency middleware.
type Config struct {
	// Store is the idempotency key store.
	Store *Store
	// TTL is how long to remember processed requests.
	TTL time.Duration
	// KeyExtractor extracts the idempotency key from the request.
	// If nil, DefaultKeyExtractor is used.
	KeyExtractor KeyExtractor
	// Logger for logging duplicate requests.
	Logger zerolog.Logger
}

// DefaultKeyExtractor namespaces the X-Idempotency-Key header by customer so
// two customers can never collide on a key. Requests without the header are
// not deduplicated.
func DefaultKeyExtractor(c *gin.Context) string {
	key := c.GetHeader(KeyHeader)
	if key == "" {
		return ""
	}
	if customerID := c.Param("customer_id"); customerID != "" {
		return "customer:" + customerID + ":" + key
	}
	return key
}

// NewConfig creates a default configuration with the provided store.
func NewConfig(store *Store) Config {
	return Config{
		Store:        store,
		TTL:          DefaultTTL,
		KeyExtractor: DefaultKeyExtractor,
		Logger:       zerolog.Nop(),
	}
}

// WithTTL sets the TTL for idempotency keys.
func (c Config) WithTTL(ttl time.Duration) Config {
	c.TTL = ttl
	return c
}

// WithKeyExtractor sets a custom key extractor.
func (c Config) WithKeyExtractor(extractor KeyExtractor) Config {
	c.KeyExtractor = extractor
	return c
}

// WithLogger sets the logger.
func (c Config) WithLogger(logger zerolog.Logger) Config {
	c.Logger = logger
	return c
}

// recordingWriter tees the response body so it can be recorded.
type recordingWriter struct {
	gin.ResponseWriter
	body bytes.Buffer
}

func (w *recordingWriter) Write(b []byte) (int, error) {
	w.body.Write(b)
	return w.ResponseWriter.Write(b)
}

func (w *recordingWriter) WriteString(s string) (int, error) {
	w.body.WriteString(s)
	return w.ResponseWriter.WriteString(s)
}

// retryable reports whether a response should not be remembered, leaving the
// client free to retry with the same key.
func retryable(status int) bool {
	return status >= 500 || status == http.StatusTooManyRequests
}

// Middleware creates a Gin middleware that enforces idempotency. A repeat of
// a completed request gets the recorded response replayed; a repeat of a
// request still running gets 409 Conflict.
func Middleware(cfg Config) gin.HandlerFunc {
	if cfg.Store == nil {
		panic("idempotency: store is required")
	}

	if cfg.TTL == 0 {
		cfg.TTL = DefaultTTL
	}

	if cfg.KeyExtractor == nil {
		cfg.KeyExtractor = DefaultKeyExtractor
	}

	return func(c *gin.Context) {
		key := cfg.KeyExtractor(c)
		if key == "" {
			c.Next()
			return
		}

		logger := cfg.Logger.With().Str("idempotencyKey", key).Logger()

		state, recorded, err := cfg.Store.Claim(c.Request.Context(), key, cfg.TTL)
		if err != nil {
			// On store error, proceed with the request to avoid blocking legitimate traffic
			logger.Error().Err(err).Msg("failed to check idempotency key")
			c.Next()
			return
		}

		switch state {
		case StateCompleted:
			metrics.RecordDuplicateRequest(c.FullPath())
			logger.Info().
				Str("path", c.Request.URL.Path).
				Int("status", recorded.StatusCode).
				Msg("replaying recorded response")

			c.Header(ReplayedHeader, "true")
			c.Data(recorded.StatusCode, recorded.ContentType, recorded.Body)
			c.Abort()
			return

		case StateInProgress:
			metrics.RecordDuplicateRequest(c.FullPath())
			logger.Info().
				Str("path", c.Request.URL.Path).
				Msg("duplicate request while first is in progress")

			c.AbortWithStatusJSON(http.StatusConflict, gin.H{
				"error":   "conflict",
				"message": "a request with this idempotency key is already in progress",
			})
			return
		}

		rw := &recordingWriter{ResponseWriter: c.Writer}
		c.Writer = rw

		c.Next()

		ctx, cancel := context.WithTimeout(context.WithoutCancel(c.Request.Context()), storeTimeout)
		defer cancel()

		status := rw.Status()
		if retryable(status) {
			if err := cfg.Store.Release(ctx, key); err != nil {
				logger.Error().Err(err).Msg("failed to delete idempotency key after error")
			}
			return
		}

		resp := Response{
			StatusCode:  status,
			ContentType: rw.Header().Get("Content-Type"),
			Body:        rw.body.Bytes(),
		}
		if err := cfg.Store.Complete(ctx, key, resp, cfg.TTL); err != nil {
			logger.Error().Err(err).Msg("failed to record idempotent response")
		}
	}
}
