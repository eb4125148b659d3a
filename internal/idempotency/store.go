// Package idempotency makes retried checkout requests safe: a request carrying
// an idempotency key already seen within the TTL gets the first response back
// instead of placing a second order.
package idempotency

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Deng123666/e-commerce/internal/lease"
)

// pendingMarker is stored while the first request is still running.
const pendingMarker = "pending"

// State is the outcome of claiming an idempotency key.
type State int

const (
	// StateNew means the key was claimed and the request should run.
	StateNew State = iota
	// StateInProgress means another request with the key is still running.
	StateInProgress
	// StateCompleted means the key's response was recorded and can be replayed.
	StateCompleted
)

// Response is a recorded response.
type Response struct {
	StatusCode  int    `json:"statusCode"`
	ContentType string `json:"contentType,omitempty"`
	Body        []byte `json:"body"`
}

// Store keeps idempotency keys and recorded responses in the lease store,
// so keys are shared by every server process and expire on their own.
type Store struct {
	leases lease.Store
	prefix string
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithKeyPrefix sets a prefix for all idempotency keys.
func WithKeyPrefix(prefix string) StoreOption {
	return func(s *Store) {
		s.prefix = prefix
	}
}

// NewStore creates an idempotency store over leases.
func NewStore(leases lease.Store, opts ...StoreOption) *Store {
	s := &Store{
		leases: leases,
		prefix: "idempotency:",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Claim atomically claims key for ttl. For a completed key it also returns
// the recorded response.
func (s *Store) Claim(ctx context.Context, key string, ttl time.Duration) (State, *Response, error) {
	fullKey := s.prefix + key

	claimed, err := s.leases.TrySetLease(ctx, fullKey, pendingMarker, ttl)
	if err != nil {
		return StateNew, nil, err
	}
	if claimed {
		return StateNew, nil, nil
	}

	value, ok, err := s.leases.Get(ctx, fullKey)
	if err != nil {
		return StateNew, nil, err
	}
	if !ok {
		// Expired between the two calls; try once more.
		claimed, err := s.leases.TrySetLease(ctx, fullKey, pendingMarker, ttl)
		if err != nil {
			return StateNew, nil, err
		}
		if claimed {
			return StateNew, nil, nil
		}
		return StateInProgress, nil, nil
	}
	if value == pendingMarker {
		return StateInProgress, nil, nil
	}

	var resp Response
	if err := json.Unmarshal([]byte(value), &resp); err != nil {
		return StateNew, nil, fmt.Errorf("decode recorded response for %s: %w", key, err)
	}
	return StateCompleted, &resp, nil
}

// Complete records the response for a claimed key.
func (s *Store) Complete(ctx context.Context, key string, resp Response, ttl time.Duration) error {
	data, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("encode response: %w", err)
	}
	return s.leases.Set(ctx, s.prefix+key, string(data), ttl)
}

// Release forgets a key so the client can retry.
func (s *Store) Release(ctx context.Context, key string) error {
	return s.leases.Delete(ctx, s.prefix+key)
}
