// Package lock provides distributed locking mechanisms for coordinating
// work across multiple service instances.
//
// Locks are leases in a shared store: a key created with SET-if-absent and a
// TTL, holding a random owner token. Release deletes the key only while it
// still holds that token, so a holder whose lease already expired can never
// remove a lease that another acquirer has since taken.
package lock

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotAcquired is returned when the retry budget is exhausted while another holder keeps the lease.
	ErrNotAcquired = errors.New("lock not acquired")

	// ErrStoreUnavailable is returned when the lease store failed on the last acquisition attempt or on release.
	ErrStoreUnavailable = errors.New("lock store unavailable")

	// ErrAlreadyHeld is returned when Acquire is called on a lock this instance already holds.
	ErrAlreadyHeld = errors.New("lock already held by this instance")

	// ErrInvalidOptions is returned for a lease duration or retry budget that cannot work.
	ErrInvalidOptions = errors.New("invalid lock options")
)

// DistributedLock defines the interface for a distributed lock.
// A single instance represents one holder and is not meant to be shared
// between goroutines acquiring concurrently.
type DistributedLock interface {
	// Acquire attempts to acquire the lock within the configured retry budget.
	// Returns true if the lock was acquired, false if the budget ran out while
	// another holder kept the lease.
	Acquire(ctx context.Context) (bool, error)

	// Release removes the lease if this instance still owns it and reports
	// whether it did. It's safe to call Release even if the lock is not held.
	Release(ctx context.Context) (bool, error)

	// IsHeld returns true if this instance believes it holds the lock.
	// The lease may nevertheless have expired in the store.
	IsHeld() bool

	// Key returns the lease key.
	Key() string
}

// Options configures lease duration and the acquisition retry budget.
type Options struct {
	// LeaseDuration is how long a holder may occupy the critical section
	// before the lease expires on its own. It is never extended.
	LeaseDuration time.Duration

	// RetryTimes is the number of acquisition attempts before giving up.
	RetryTimes int

	// RetryDelay is the pause between failed attempts.
	RetryDelay time.Duration
}

// Validate reports whether the options can be used.
func (o Options) Validate() error {
	if o.LeaseDuration <= 0 {
		return fmt.Errorf("%w: lease duration must be positive, got %s", ErrInvalidOptions, o.LeaseDuration)
	}
	if o.RetryTimes < 1 {
		return fmt.Errorf("%w: retry times must be at least 1, got %d", ErrInvalidOptions, o.RetryTimes)
	}
	if o.RetryDelay < 0 {
		return fmt.Errorf("%w: retry delay must not be negative, got %s", ErrInvalidOptions, o.RetryDelay)
	}
	return nil
}

var (
	// DefaultOrderOptions guard per-customer order creation.
	DefaultOrderOptions = Options{
		LeaseDuration: 30 * time.Second,
		RetryTimes:    5,
		RetryDelay:    200 * time.Millisecond,
	}

	// DefaultProductOptions guard per-product stock mutation.
	DefaultProductOptions = Options{
		LeaseDuration: 10 * time.Second,
		RetryTimes:    3,
		RetryDelay:    100 * time.Millisecond,
	}
)
