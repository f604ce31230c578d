package repository

import (
	"context"
	"testing"
	"time"

	"github.com/GoPolymarket/venuegate/internal/model"
	"github.com/GoPolymarket/venuegate/internal/pkg/clock"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMiniRedis(t *testing.T) (*miniredis.Miniredis, *RedisClient) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, NewRedisClientFrom(rdb, "test:")
}

func TestRedisIncrementSetsExpiryOnce(t *testing.T) {
	mr, store := newMiniRedis(t)
	ctx := context.Background()

	n, ttl, err := store.Increment(ctx, "rl:ip:1.2.3.4:global", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Equal(t, time.Minute, ttl)

	mr.FastForward(20 * time.Second)
	n, ttl, err = store.Increment(ctx, "rl:ip:1.2.3.4:global", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.Equal(t, 40*time.Second, ttl)

	mr.FastForward(41 * time.Second)
	n, _, err = store.Increment(ctx, "rl:ip:1.2.3.4:global", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	assert.True(t, mr.Exists("test:rl:ip:1.2.3.4:global"))
}

func TestRedisPeekAndCache(t *testing.T) {
	_, store := newMiniRedis(t)
	ctx := context.Background()

	n, ttl, err := store.Peek(ctx, "missing")
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Zero(t, ttl)

	_, _, err = store.Increment(ctx, "c", time.Minute)
	require.NoError(t, err)
	n, ttl, err = store.Peek(ctx, "c")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Greater(t, ttl, time.Duration(0))

	_, err = store.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrCacheMiss)
	require.NoError(t, store.Set(ctx, "k", "v", time.Minute))
	v, err := store.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v", v)
	require.NoError(t, store.Delete(ctx, "k"))
	_, err = store.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestRedisUnavailable(t *testing.T) {
	mr, store := newMiniRedis(t)
	mr.Close()
	_, _, err := store.Increment(context.Background(), "x", time.Second)
	assert.Error(t, err)
}

func TestMemoryCounterWindow(t *testing.T) {
	clk := clock.NewManual(time.Unix(1700000000, 0))
	store := NewMemoryCounterStore(clk)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		n, _, err := store.Increment(ctx, "k", 10*time.Second)
		require.NoError(t, err)
		assert.Equal(t, int64(i), n)
	}
	clk.Advance(4 * time.Second)
	n, ttl, err := store.Peek(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	assert.Equal(t, 6*time.Second, ttl)

	clk.Advance(6 * time.Second)
	n, ttl, err = store.Increment(ctx, "k", 10*time.Second)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Equal(t, 10*time.Second, ttl)

	require.NoError(t, store.Set(ctx, "c", "v", time.Second))
	clk.Advance(time.Second)
	_, err = store.Get(ctx, "c")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestIdempotencyStore(t *testing.T) {
	_, rc := newMiniRedis(t)
	stores := map[string]*RedisIdempotencyStore{
		"redis":  NewRedisIdempotencyStore(rc, time.Hour),
		"memory": NewRedisIdempotencyStore(NewMemoryCounterStore(nil), time.Hour),
	}
	for name, s := range stores {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			rec, hit, err := s.GetOrLock(ctx, "1:abc")
			require.NoError(t, err)
			assert.False(t, hit)
			assert.Nil(t, rec)

			rec, hit, err = s.GetOrLock(ctx, "1:abc")
			require.NoError(t, err)
			assert.True(t, hit)
			assert.True(t, rec.Processing)

			require.NoError(t, s.Save(ctx, "1:abc", 201, []byte(`{"id":1}`)))
			rec, hit, err = s.GetOrLock(ctx, "1:abc")
			require.NoError(t, err)
			assert.True(t, hit)
			assert.Equal(t, &model.IdempotencyRecord{Status: 201, Body: []byte(`{"id":1}`), CreatedAt: rec.CreatedAt}, rec)

			require.NoError(t, s.Unlock(ctx, "1:abc"))
			_, hit, err = s.GetOrLock(ctx, "1:abc")
			require.NoError(t, err)
			assert.False(t, hit)
		})
	}
}
