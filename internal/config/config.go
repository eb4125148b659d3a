// Package config provides configuration management for the checkout service.
package config

import (
	"os"
	"strconv"
	"time"
)

const (
	// DefaultMaxPayloadSize is the default max request body size for API endpoints (100KB).
	DefaultMaxPayloadSize int64 = 100 * 1024 // 102400 bytes

	// DefaultGRPCMaxMessageSize is the default max message size for gRPC (4MB).
	DefaultGRPCMaxMessageSize int = 4 << 20 // 4194304 bytes

	// DefaultRedisURL points at a local Redis.
	DefaultRedisURL = "redis://localhost:6379/0"

	// MemoryRedisURL selects the in-process lease store instead of Redis.
	MemoryRedisURL = "memory"
)

// LockConfig holds the lease and retry budget of one lock scope.
type LockConfig struct {
	// LeaseDuration is how long a lease lives if its holder never releases it.
	LeaseDuration time.Duration

	// RetryTimes is the number of acquisition attempts.
	RetryTimes int

	// RetryDelay is the sleep between failed attempts.
	RetryDelay time.Duration
}

// Config holds the application configuration.
type Config struct {
	// Port is the HTTP server port.
	Port string

	// GRPCPort is the gRPC health server port.
	GRPCPort string

	// LogLevel is the minimum zerolog level.
	LogLevel string

	// LogPretty switches to human-readable console logs.
	LogPretty bool

	// DatabaseURL is the PostgreSQL connection string. Empty selects the
	// in-memory store.
	DatabaseURL string

	// RedisURL is the Redis connection URL. MemoryRedisURL selects the
	// in-memory lease store, which only excludes within one process.
	RedisURL string

	// OrderLock configures the per-customer order creation lock.
	OrderLock LockConfig

	// ProductLock configures the per-product stock lock.
	ProductLock LockConfig

	// CheckoutTimeout bounds one checkout end to end.
	CheckoutTimeout time.Duration

	// CommitTimeout bounds the final commit of a checkout.
	CommitTimeout time.Duration

	// NotifyTimeout bounds one order placement notification.
	NotifyTimeout time.Duration

	// IdempotencyTTL is how long an idempotency key is remembered.
	IdempotencyTTL time.Duration

	// MaxRequestsPerWindow is the per-client request budget; 0 disables rate limiting.
	MaxRequestsPerWindow int

	// RateLimitWindow is the fixed rate limiting window.
	RateLimitWindow time.Duration

	// MaxPayloadSize is the maximum request body size in bytes.
	MaxPayloadSize int64

	// GRPCMaxMessageSize is the maximum message size for gRPC in bytes.
	GRPCMaxMessageSize int

	// OperatorSigningSecret is the HMAC key operator requests (restock, lease
	// administration) must be signed with. Empty disables verification.
	OperatorSigningSecret string
}

// UseMemoryLeases reports whether locks should use the in-process lease store.
func (c *Config) UseMemoryLeases() bool {
	return c.RedisURL == MemoryRedisURL
}

// Load loads configuration from environment variables with defaults.
func Load() *Config {
	cfg := &Config{
		Port:        getEnvOrDefault("PORT", "8080"),
		GRPCPort:    getEnvOrDefault("GRPC_PORT", "9090"),
		LogLevel:    getEnvOrDefault("LOG_LEVEL", "info"),
		LogPretty:   getEnvBoolOrDefault("LOG_PRETTY", false),
		DatabaseURL: os.Getenv("DATABASE_URL"),
		RedisURL:    getEnvOrDefault("REDIS_URL", DefaultRedisURL),
		OrderLock: LockConfig{
			LeaseDuration: getEnvSecondsOrDefault("ORDER_LOCK_LEASE_SECONDS", 30*time.Second),
			RetryTimes:    getEnvIntOrDefault("ORDER_LOCK_RETRY_TIMES", 5),
			RetryDelay:    getEnvSecondsOrDefault("ORDER_LOCK_RETRY_DELAY_SECONDS", 200*time.Millisecond),
		},
		ProductLock: LockConfig{
			LeaseDuration: getEnvSecondsOrDefault("PRODUCT_LOCK_LEASE_SECONDS", 10*time.Second),
			RetryTimes:    getEnvIntOrDefault("PRODUCT_LOCK_RETRY_TIMES", 3),
			RetryDelay:    getEnvSecondsOrDefault("PRODUCT_LOCK_RETRY_DELAY_SECONDS", 100*time.Millisecond),
		},
		CheckoutTimeout:      getEnvSecondsOrDefault("CHECKOUT_TIMEOUT_SECONDS", 20*time.Second),
		CommitTimeout:        getEnvSecondsOrDefault("COMMIT_TIMEOUT_SECONDS", 5*time.Second),
		NotifyTimeout:        getEnvSecondsOrDefault("NOTIFY_TIMEOUT_SECONDS", 5*time.Second),
		IdempotencyTTL:       getEnvSecondsOrDefault("IDEMPOTENCY_TTL_SECONDS", 24*time.Hour),
		MaxRequestsPerWindow: getEnvIntOrDefault("MAX_REQUESTS_PER_MINUTE", 60),
		RateLimitWindow:      getEnvSecondsOrDefault("REQUESTS_TIME_LIMIT_SECONDS", time.Minute),
		MaxPayloadSize:       getEnvInt64OrDefault("API_MAX_PAYLOAD_SIZE", DefaultMaxPayloadSize),
		GRPCMaxMessageSize:   getEnvIntOrDefault("GRPC_MAX_MESSAGE_SIZE", DefaultGRPCMaxMessageSize),

		OperatorSigningSecret: os.Getenv("OPERATOR_SIGNING_SECRET"),
	}

	return cfg
}

// getEnvOrDefault returns the environment variable value or the default if not set.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt64OrDefault returns the environment variable value as int64 or the default if not set or invalid.
func getEnvInt64OrDefault(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseInt(value, 10, 64); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// getEnvIntOrDefault returns the environment variable value as int or the default if not set or invalid.
func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// getEnvBoolOrDefault returns the environment variable value as bool or the default if not set or invalid.
func getEnvBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// getEnvSecondsOrDefault reads a possibly fractional number of seconds, such
// as "0.2", or returns the default if not set, invalid or negative.
func getEnvSecondsOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil && parsed >= 0 {
			return time.Duration(parsed * float64(time.Second))
		}
	}
	return defaultValue
}
