package lock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Deng123666/e-commerce/internal/lease"
	"github.com/Deng123666/e-commerce/internal/metrics"
)

// LeaseLock implements DistributedLock on top of a lease.Store.
// It uses a conditional set with expiration for acquisition and an atomic
// compare-and-delete for release.
type LeaseLock struct {
	store lease.Store
	key   string
	opts  Options
	scope string

	newToken func() string

	mu    sync.Mutex
	token string // owner token of the current acquisition
	held  bool
}

// LeaseLockOption configures a LeaseLock.
type LeaseLockOption func(*LeaseLock)

// WithScope sets the label used for metrics (e.g. "order", "product").
func WithScope(scope string) LeaseLockOption {
	return func(l *LeaseLock) {
		l.scope = scope
	}
}

// WithTokenGenerator overrides how owner tokens are generated.
func WithTokenGenerator(fn func() string) LeaseLockOption {
	return func(l *LeaseLock) {
		l.newToken = fn
	}
}

// NewLeaseLock creates a new lease-backed distributed lock.
// The key identifies the lock; opts set the lease duration and retry budget.
func NewLeaseLock(store lease.Store, key string, opts Options, lockOpts ...LeaseLockOption) (*LeaseLock, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if err := ValidateKey(key); err != nil {
		return nil, err
	}

	l := &LeaseLock{
		store:    store,
		key:      key,
		opts:     opts,
		scope:    "default",
		newToken: uuid.NewString,
	}
	for _, opt := range lockOpts {
		opt(l)
	}
	return l, nil
}

// Acquire tries to create the lease up to RetryTimes times, sleeping
// RetryDelay between failed attempts. A fresh owner token is generated per
// call and reused for that call's retries. The wait honours ctx.
func (l *LeaseLock) Acquire(ctx context.Context) (bool, error) {
	l.mu.Lock()
	if l.held {
		l.mu.Unlock()
		return false, ErrAlreadyHeld
	}
	l.mu.Unlock()

	start := time.Now()
	token := l.newToken()

	var lastErr error
	for attempt := 1; attempt <= l.opts.RetryTimes; attempt++ {
		ok, err := l.store.TrySetLease(ctx, l.key, token, l.opts.LeaseDuration)
		if err == nil && ok {
			l.mu.Lock()
			l.token = token
			l.held = true
			l.mu.Unlock()

			metrics.RecordLockAcquisition(l.scope, "acquired", time.Since(start).Seconds())
			return true, nil
		}
		lastErr = err

		if ctxErr := ctx.Err(); ctxErr != nil {
			metrics.RecordLockAcquisition(l.scope, "cancelled", time.Since(start).Seconds())
			return false, fmt.Errorf("acquire %s: %w", l.key, ctxErr)
		}

		if attempt == l.opts.RetryTimes {
			break
		}

		if err := sleep(ctx, l.opts.RetryDelay); err != nil {
			metrics.RecordLockAcquisition(l.scope, "cancelled", time.Since(start).Seconds())
			return false, fmt.Errorf("acquire %s: %w", l.key, err)
		}
	}

	if lastErr != nil {
		metrics.RecordLockAcquisition(l.scope, "error", time.Since(start).Seconds())
		return false, fmt.Errorf("acquire %s: %w: %w", l.key, ErrStoreUnavailable, lastErr)
	}

	metrics.RecordLockAcquisition(l.scope, "contended", time.Since(start).Seconds())
	return false, nil
}

// Release deletes the lease only if it still holds this acquisition's token.
// It returns false without touching the store when nothing is held, and false
// when the lease had already expired or been taken by someone else.
func (l *LeaseLock) Release(ctx context.Context) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.held {
		return false, nil
	}

	// Whatever the outcome, this instance stops believing it holds the lease;
	// if the delete failed the lease expires at its TTL.
	l.held = false
	token := l.token
	l.token = ""

	deleted, err := l.store.CompareAndDelete(ctx, l.key, token)
	if err != nil {
		metrics.RecordLockRelease(l.scope, "error")
		return false, fmt.Errorf("release %s: %w: %w", l.key, ErrStoreUnavailable, err)
	}

	if deleted {
		metrics.RecordLockRelease(l.scope, "released")
	} else {
		metrics.RecordLockRelease(l.scope, "lost")
	}
	return deleted, nil
}

// IsHeld returns true if this instance currently holds the lock.
func (l *LeaseLock) IsHeld() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.held
}

// Key returns the lock's lease key.
func (l *LeaseLock) Key() string {
	return l.key
}

// TTL returns the lock's lease duration.
func (l *LeaseLock) TTL() time.Duration {
	return l.opts.LeaseDuration
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
