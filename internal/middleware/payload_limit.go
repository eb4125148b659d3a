// Package middleware provides HTTP middleware for the checkout API.
package middleware

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/Deng123666/e-commerce/internal/logging"
)

// ErrorResponse is the JSON body of responses rejected by middleware.
type ErrorResponse struct {
	Error      string `json:"error"`
	Message    string `json:"message"`
	MaxBytes   int64  `json:"maxBytes,omitempty"`
	RetryAfter int    `json:"retryAfter,omitempty"`
	StatusCode int    `json:"statusCode"`
}

// PayloadLimit returns a middleware that limits the request body size.
// Requests declaring a larger Content-Length are rejected up front; other
// bodies are wrapped with http.MaxBytesReader, and a handler that records the
// resulting *http.MaxBytesError with c.Error gets a 413 instead of its own
// response.
func PayloadLimit(maxBytes int64, logger zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Body == nil || c.Request.ContentLength == 0 {
			c.Next()
			return
		}

		if c.Request.ContentLength > maxBytes {
			logOversizedRequest(logger, c, c.Request.ContentLength, maxBytes)
			respondPayloadTooLarge(c, maxBytes)
			return
		}

		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)

		c.Next()

		for _, ginErr := range c.Errors {
			var maxBytesErr *http.MaxBytesError
			if errors.As(ginErr.Err, &maxBytesErr) {
				logOversizedRequest(logger, c, -1, maxBytesErr.Limit)
				if !c.Writer.Written() {
					respondPayloadTooLarge(c, maxBytes)
				}
				return
			}
		}
	}
}

// logOversizedRequest logs an oversized request. attemptedSize is -1 when the
// body had no declared length.
func logOversizedRequest(logger zerolog.Logger, c *gin.Context, attemptedSize, maxBytes int64) {
	logging.LoggerFromContext(c.Request.Context(), logger).Warn().
		Str("clientIp", c.ClientIP()).
		Str("method", c.Request.Method).
		Str("path", c.Request.URL.Path).
		Int64("attemptedSize", attemptedSize).
		Int64("maxBytes", maxBytes).
		Msg("oversized request rejected")
}

// respondPayloadTooLarge sends a 413 Payload Too Large response.
func respondPayloadTooLarge(c *gin.Context, maxBytes int64) {
	c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, ErrorResponse{
		Error:      "payloadTooLarge",
		Message:    "request body exceeds the maximum allowed size",
		MaxBytes:   maxBytes,
		StatusCode: http.StatusRequestEntityTooLarge,
	})
}
