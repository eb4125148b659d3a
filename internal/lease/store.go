// Package lease provides a client discipline over a shared key-value cache
// for time-bounded reservations (leases) and a handful of plain pass-through
// operations that share the same store.
package lease

import (
	"context"
	"errors"
	"time"
)

// ErrUnavailable is returned (wrapped) when the backing store cannot be
// reached or fails to answer. Callers must never treat it as success.
var ErrUnavailable = errors.New("lease store unavailable")

// Store defines the operations the locking layer and its neighbours need from
// the shared cache. Implementations must be safe for concurrent use.
type Store interface {
	// TrySetLease atomically creates key with value token and the given ttl,
	// only if key does not currently exist. Returns true if the key was created.
	TrySetLease(ctx context.Context, key, token string, ttl time.Duration) (bool, error)

	// CompareAndDelete atomically deletes key only if its current value equals
	// token. Returns true if a deletion happened.
	CompareAndDelete(ctx context.Context, key, token string) (bool, error)

	// Get returns the value stored at key and whether it exists.
	Get(ctx context.Context, key string) (string, bool, error)

	// Set stores value at key. A zero ttl means no expiry.
	Set(ctx context.Context, key, value string, ttl time.Duration) error

	// Delete removes key unconditionally.
	Delete(ctx context.Context, key string) error

	// Incr atomically increments the counter at key and returns the new value.
	// The first increment of a fresh counter starts an expiry of window.
	Incr(ctx context.Context, key string, window time.Duration) (int64, error)

	// TTL returns the remaining time to live of key. It returns 0 if the key
	// does not exist and -1 if the key has no expiry.
	TTL(ctx context.Context, key string) (time.Duration, error)

	// Ping checks that the store is reachable.
	Ping(ctx context.Context) error
}
