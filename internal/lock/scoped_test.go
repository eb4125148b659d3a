package lock

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Deng123666/e-commerce/internal/lease"
)

func TestWithLock_RunsAndReleases(t *testing.T) {
	store := lease.NewMemoryStore()
	defer store.Close()

	l := mustLock(t, store, "lock:test:scoped", fastOptions(1))

	ran := false
	err := WithLock(context.Background(), zerolog.Nop(), l, func(ctx context.Context) error {
		ran = true
		assert.True(t, l.IsHeld())
		assert.Equal(t, 1, store.Len())
		return nil
	})
	require.NoError(t, err)
	assert.True(t, ran)
	assert.False(t, l.IsHeld())
	assert.Equal(t, 0, store.Len())
}

func TestWithLock_ReleasesOnError(t *testing.T) {
	store := lease.NewMemoryStore()
	defer store.Close()

	l := mustLock(t, store, "lock:test:scoped-err", fastOptions(1))
	boom := errors.New("boom")

	err := WithLock(context.Background(), zerolog.Nop(), l, func(ctx context.Context) error {
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 0, store.Len(), "lease must not leak on error")
}

func TestWithLock_ReleasesOnPanic(t *testing.T) {
	store := lease.NewMemoryStore()
	defer store.Close()

	l := mustLock(t, store, "lock:test:scoped-panic", fastOptions(1))

	assert.Panics(t, func() {
		_ = WithLock(context.Background(), zerolog.Nop(), l, func(ctx context.Context) error {
			panic("critical section blew up")
		})
	})
	assert.Equal(t, 0, store.Len(), "lease must not leak on panic")
}

func TestWithLock_ReleasesAfterContextCancelled(t *testing.T) {
	store := lease.NewMemoryStore()
	defer store.Close()

	l := mustLock(t, store, "lock:test:scoped-cancel", fastOptions(1))
	ctx, cancel := context.WithCancel(context.Background())

	err := WithLock(ctx, zerolog.Nop(), l, func(ctx context.Context) error {
		cancel()
		return ctx.Err()
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, store.Len(), "release must run even when the caller's context is done")
}

func TestWithLock_NotAcquired(t *testing.T) {
	store := lease.NewMemoryStore()
	defer store.Close()

	_, err := store.TrySetLease(context.Background(), "lock:test:busy", "other", time.Minute)
	require.NoError(t, err)

	l := mustLock(t, store, "lock:test:busy", fastOptions(2))

	called := false
	err = WithLock(context.Background(), zerolog.Nop(), l, func(ctx context.Context) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, ErrNotAcquired)
	assert.False(t, called)
}

func TestFactory_Keys(t *testing.T) {
	store := lease.NewMemoryStore()
	defer store.Close()

	f, err := NewFactory(store, zerolog.Nop())
	require.NoError(t, err)

	order := f.OrderLock(42)
	assert.Equal(t, "lock:order:create:42", order.Key())
	assert.Equal(t, DefaultOrderOptions.LeaseDuration, order.TTL())

	product := f.ProductLock(7)
	assert.Equal(t, "lock:product:stock:7", product.Key())
	assert.Equal(t, DefaultProductOptions.LeaseDuration, product.TTL())
}

func TestFactory_InvalidOptions(t *testing.T) {
	store := lease.NewMemoryStore()
	defer store.Close()

	_, err := NewFactory(store, zerolog.Nop(), WithOrderOptions(Options{}))
	assert.ErrorIs(t, err, ErrInvalidOptions)

	_, err = NewFactory(store, zerolog.Nop(), WithProductOptions(Options{LeaseDuration: time.Second}))
	assert.ErrorIs(t, err, ErrInvalidOptions)
}

func TestFactory_NestedScopes(t *testing.T) {
	store := lease.NewMemoryStore()
	defer store.Close()

	f, err := NewFactory(store, zerolog.Nop(),
		WithOrderOptions(fastOptions(1)),
		WithProductOptions(fastOptions(1)),
	)
	require.NoError(t, err)

	err = f.WithOrderLock(context.Background(), 1, func(ctx context.Context) error {
		for _, id := range []int64{3, 5} {
			if err := f.WithProductLock(ctx, id, func(ctx context.Context) error {
				assert.Equal(t, 2, store.Len())
				return nil
			}); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 0, store.Len())
}

func TestKey(t *testing.T) {
	assert.Equal(t, "lock:order:create:9", Key(ResourceOrderCreate, "9"))
	assert.NoError(t, ValidateKey("lock:product:stock:1"))
	assert.Error(t, ValidateKey("lock:"))
	assert.Error(t, ValidateKey("idempotency:abc"))
}
