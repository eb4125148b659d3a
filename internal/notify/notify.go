// Package notify delivers order side-effect notifications to the external
// email worker.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// TaskOrderPlaced is the task name the email worker consumes.
const TaskOrderPlaced = "send_order_placement_email"

// DefaultQueueKey is the Redis list the email worker pops from.
const DefaultQueueKey = "queue:email"

// OrderPlaced describes a successfully committed order.
type OrderPlaced struct {
	OrderID    int64     `json:"orderId"`
	CustomerID int64     `json:"customerId"`
	TotalCents int64     `json:"totalCents"`
	ItemCount  int       `json:"itemCount"`
	PlacedAt   time.Time `json:"placedAt"`
}

// Notifier delivers notifications. Implementations must be safe for concurrent use.
type Notifier interface {
	// OrderPlaced announces a committed order.
	OrderPlaced(ctx context.Context, event OrderPlaced) error

	// Channel names the delivery channel for metrics and logs.
	Channel() string
}

// job is the envelope pushed onto the queue.
type job struct {
	Task       string      `json:"task"`
	Payload    OrderPlaced `json:"payload"`
	EnqueuedAt time.Time   `json:"enqueuedAt"`
}

// RedisQueue enqueues notification jobs onto a Redis list.
type RedisQueue struct {
	client *redis.Client
	key    string
}

// RedisQueueOption configures a RedisQueue.
type RedisQueueOption func(*RedisQueue)

// WithQueueKey sets the list key jobs are pushed to.
func WithQueueKey(key string) RedisQueueOption {
	return func(q *RedisQueue) {
		q.key = key
	}
}

// NewRedisQueue creates a notifier that pushes jobs onto a Redis list.
func NewRedisQueue(client *redis.Client, opts ...RedisQueueOption) *RedisQueue {
	q := &RedisQueue{
		client: client,
		key:    DefaultQueueKey,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// OrderPlaced implements Notifier.
func (q *RedisQueue) OrderPlaced(ctx context.Context, event OrderPlaced) error {
	body, err := json.Marshal(job{Task: TaskOrderPlaced, Payload: event, EnqueuedAt: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("failed to marshal notification job: %w", err)
	}
	if err := q.client.LPush(ctx, q.key, body).Err(); err != nil {
		return fmt.Errorf("failed to enqueue notification job: %w", err)
	}
	return nil
}

// Channel implements Notifier.
func (q *RedisQueue) Channel() string {
	return "redis_queue"
}

// LogNotifier writes notifications to the log. Used when no queue is configured.
type LogNotifier struct {
	logger zerolog.Logger
}

// NewLogNotifier creates a notifier that only logs.
func NewLogNotifier(logger zerolog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.With().Str("component", "notify").Logger()}
}

// OrderPlaced implements Notifier.
func (n *LogNotifier) OrderPlaced(ctx context.Context, event OrderPlaced) error {
	n.logger.Info().
		Int64("orderId", event.OrderID).
		Int64("customerId", event.CustomerID).
		Int64("totalCents", event.TotalCents).
		Msg("order placed")
	return nil
}

// Channel implements Notifier.
func (n *LogNotifier) Channel() string {
	return "log"
}
