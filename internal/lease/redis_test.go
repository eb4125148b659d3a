package lease

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = client.Close()
		mr.Close()
	})

	return NewRedisStore(client), mr
}

func TestRedisStore_TrySetLease(t *testing.T) {
	s, mr := newRedisStore(t)
	ctx := context.Background()

	ok, err := s.TrySetLease(ctx, "lock:order:create:1", "token-a", 10*time.Second)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.TrySetLease(ctx, "lock:order:create:1", "token-b", 10*time.Second)
	require.NoError(t, err)
	assert.False(t, ok, "second conditional set must not overwrite a live lease")

	val, err := mr.Get("lock:order:create:1")
	require.NoError(t, err)
	assert.Equal(t, "token-a", val)
	assert.Equal(t, 10*time.Second, mr.TTL("lock:order:create:1"))
}

func TestRedisStore_TrySetLease_AfterExpiry(t *testing.T) {
	s, mr := newRedisStore(t)
	ctx := context.Background()

	ok, err := s.TrySetLease(ctx, "k", "token-a", time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	mr.FastForward(1100 * time.Millisecond)

	ok, err = s.TrySetLease(ctx, "k", "token-b", time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRedisStore_CompareAndDelete(t *testing.T) {
	s, mr := newRedisStore(t)
	ctx := context.Background()

	_, err := s.TrySetLease(ctx, "k", "token-a", 10*time.Second)
	require.NoError(t, err)

	deleted, err := s.CompareAndDelete(ctx, "k", "token-b")
	require.NoError(t, err)
	assert.False(t, deleted)
	assert.True(t, mr.Exists("k"))

	deleted, err = s.CompareAndDelete(ctx, "k", "token-a")
	require.NoError(t, err)
	assert.True(t, deleted)
	assert.False(t, mr.Exists("k"))

	deleted, err = s.CompareAndDelete(ctx, "k", "token-a")
	require.NoError(t, err)
	assert.False(t, deleted)
}

func TestRedisStore_GetSetDelete(t *testing.T) {
	s, _ := newRedisStore(t)
	ctx := context.Background()

	_, ok, err := s.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Set(ctx, "k", "v", 0))
	val, ok, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "v", val)

	require.NoError(t, s.Delete(ctx, "k"))
	_, ok, err = s.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisStore_Incr(t *testing.T) {
	s, mr := newRedisStore(t)
	ctx := context.Background()

	for i := int64(1); i <= 3; i++ {
		n, err := s.Incr(ctx, "rate:client", time.Minute)
		require.NoError(t, err)
		assert.Equal(t, i, n)
	}
	assert.Equal(t, time.Minute, mr.TTL("rate:client"))

	mr.FastForward(time.Minute)

	n, err := s.Incr(ctx, "rate:client", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestRedisStore_TTL(t *testing.T) {
	s, _ := newRedisStore(t)
	ctx := context.Background()

	d, err := s.TTL(ctx, "missing")
	require.NoError(t, err)
	assert.Equal(t, time.Duration(0), d)

	require.NoError(t, s.Set(ctx, "forever", "v", 0))
	d, err = s.TTL(ctx, "forever")
	require.NoError(t, err)
	assert.Equal(t, time.Duration(-1), d)

	_, err = s.TrySetLease(ctx, "leased", "t", 5*time.Second)
	require.NoError(t, err)
	d, err = s.TTL(ctx, "leased")
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, d)
}

func TestRedisStore_Unavailable(t *testing.T) {
	s, mr := newRedisStore(t)
	ctx := context.Background()

	mr.Close()

	ok, err := s.TrySetLease(ctx, "k", "t", time.Second)
	assert.False(t, ok)
	assert.ErrorIs(t, err, ErrUnavailable)

	deleted, err := s.CompareAndDelete(ctx, "k", "t")
	assert.False(t, deleted)
	assert.ErrorIs(t, err, ErrUnavailable)

	assert.ErrorIs(t, s.Ping(ctx), ErrUnavailable)
}
