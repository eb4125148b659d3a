package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestNew_ParseLevel(t *testing.T) {
	tests := []struct {
		level    string
		expected zerolog.Level
	}{
		{"debug", zerolog.DebugLevel},
		{"info", zerolog.InfoLevel},
		{"warn", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
		{"", zerolog.InfoLevel},
		{"invalid", zerolog.InfoLevel}, // defaults to info
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			logger := New(&bytes.Buffer{}, "test-service", tt.level, false)
			assert.Equal(t, tt.expected, logger.GetLevel())
		})
	}
}

func TestNew_JSONOutput(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, "checkout", "info", false)

	logger.Info().Str("key", "value").Msg("test message")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "checkout", entry["service"])
	assert.Equal(t, "value", entry["key"])
	assert.Equal(t, "test message", entry["message"])
	assert.Contains(t, entry, "time")
}

func TestNew_Pretty(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, "checkout", "debug", true)

	logger.Debug().Msg("hello")

	assert.Contains(t, buf.String(), "hello")
	assert.False(t, json.Valid(buf.Bytes()), "pretty output is not JSON")
}

func TestLoggerFromContext(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)
	ctx := ContextWithLogger(context.Background(), logger)

	LoggerFromContext(ctx, zerolog.Nop()).Info().Msg("from context")
	assert.Contains(t, buf.String(), "from context")
}

func TestLoggerFromContext_Fallback(t *testing.T) {
	var buf bytes.Buffer
	fallback := zerolog.New(&buf)

	LoggerFromContext(context.Background(), fallback).Info().Msg("fallback")
	assert.Contains(t, buf.String(), "fallback")
}

func TestLoggerFromContext_ChainsEvents(t *testing.T) {
	var buf bytes.Buffer
	ctx := ContextWithLogger(context.Background(), zerolog.New(&buf).With().Str("requestId", "req-9").Logger())

	l := LoggerFromContext(ctx, zerolog.Nop())
	require.NotNil(t, l)
	l.Warn().Str("key", "lock:order:create:1").Msg("busy")
	LoggerFromContext(ctx, zerolog.Nop()).Error().Msg("failed")

	out := buf.String()
	assert.Contains(t, out, `"level":"warn"`)
	assert.Contains(t, out, `"level":"error"`)
	assert.Contains(t, out, `"requestId":"req-9"`)
}

func TestCheckoutLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := CheckoutLogger(zerolog.New(&buf), 42)

	logger.Info().Msg("placing order")
	assert.Contains(t, buf.String(), `"customerId":42`)
}

func TestLockLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := LockLogger(zerolog.New(&buf), "lock:order:create:1", "order")

	logger.Info().Msg("acquired")
	assert.Contains(t, buf.String(), `"lockKey":"lock:order:create:1"`)
	assert.Contains(t, buf.String(), `"scope":"order"`)
}

func TestRequestLogger(t *testing.T) {
	gin.SetMode(gin.TestMode)

	tests := []struct {
		name      string
		status    int
		wantLevel string
	}{
		{"success", http.StatusOK, "info"},
		{"client_error", http.StatusTooManyRequests, "warn"},
		{"server_error", http.StatusInternalServerError, "error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			router := gin.New()
			router.Use(RequestLogger(zerolog.New(&buf)))
			router.GET("/orders/:id", func(c *gin.Context) {
				LoggerFromContext(c.Request.Context(), zerolog.Nop()).Info().Msg("inside handler")
				c.Status(tt.status)
			})

			req := httptest.NewRequest(http.MethodGet, "/orders/7?x=1", nil)
			req.Header.Set(RequestIDHeader, "req-1")
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)

			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, "req-1", rec.Header().Get(RequestIDHeader))

			out := buf.String()
			assert.Contains(t, out, "inside handler")
			assert.Contains(t, out, `"requestId":"req-1"`)
			assert.Contains(t, out, `"route":"/orders/:id"`)
			assert.Contains(t, out, `"level":"`+tt.wantLevel+`"`)
		})
	}
}

func TestRequestLogger_GeneratesRequestID(t *testing.T) {
	gin.SetMode(gin.TestMode)

	router := gin.New()
	router.Use(RequestLogger(zerolog.Nop()))
	router.GET("/", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.NotEmpty(t, rec.Header().Get(RequestIDHeader))
}

func TestGRPCLogger(t *testing.T) {
	var buf bytes.Buffer
	interceptor := GRPCLogger(zerolog.New(&buf))
	info := &grpc.UnaryServerInfo{FullMethod: "/grpc.health.v1.Health/Check"}

	resp, err := interceptor(context.Background(), "req", info, func(ctx context.Context, req interface{}) (interface{}, error) {
		return nil, status.Error(codes.Unavailable, "redis down")
	})

	assert.Nil(t, resp)
	assert.Equal(t, codes.Unavailable, status.Code(err))
	assert.Contains(t, buf.String(), `"code":"Unavailable"`)
	assert.Contains(t, buf.String(), `"level":"error"`)
}

func TestGRPCCode(t *testing.T) {
	assert.Equal(t, codes.OK, grpcCode(nil))
	assert.Equal(t, codes.NotFound, grpcCode(status.Error(codes.NotFound, "x")))
	assert.Equal(t, codes.Unknown, grpcCode(errors.New("plain")))
}
