package lock

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryLocker(t *testing.T) {
	ctx := context.Background()
	locker := NewMemoryLocker()

	lease, err := locker.Acquire(ctx, "billing:generate:2025-03-01", time.Minute)
	require.NoError(t, err)
	assert.NotEmpty(t, lease.Token)

	_, err = locker.Acquire(ctx, "billing:generate:2025-03-01", time.Minute)
	assert.ErrorIs(t, err, ErrLocked)

	// Other keys are independent
	other, err := locker.Acquire(ctx, "billing:generate:2025-04-01", time.Minute)
	require.NoError(t, err)
	require.NoError(t, other.Release(ctx))

	require.NoError(t, lease.Release(ctx))
	assert.ErrorIs(t, lease.Release(ctx), ErrNotHeld)

	again, err := locker.Acquire(ctx, "billing:generate:2025-03-01", time.Minute)
	require.NoError(t, err)
	require.NoError(t, again.Release(ctx))
}

func TestMemoryLocker_Expiry(t *testing.T) {
	ctx := context.Background()
	locker := NewMemoryLocker()
	now := time.Date(2025, 2, 28, 12, 0, 0, 0, time.UTC)
	locker.now = func() time.Time { return now }

	stale, err := locker.Acquire(ctx, "k", time.Minute)
	require.NoError(t, err)

	now = now.Add(2 * time.Minute)
	fresh, err := locker.Acquire(ctx, "k", time.Minute)
	require.NoError(t, err)

	// The expired holder cannot release the new lease
	assert.ErrorIs(t, stale.Release(ctx), ErrNotHeld)
	assert.NoError(t, fresh.Release(ctx))
}

func TestMemoryLocker_Extend(t *testing.T) {
	ctx := context.Background()
	locker := NewMemoryLocker()
	now := time.Date(2025, 2, 28, 12, 0, 0, 0, time.UTC)
	locker.now = func() time.Time { return now }

	lease, err := locker.Acquire(ctx, "k", time.Minute)
	require.NoError(t, err)

	now = now.Add(50 * time.Second)
	require.NoError(t, lease.Extend(ctx, time.Minute))

	// Past the original expiry but inside the extended one
	now = now.Add(50 * time.Second)
	_, err = locker.Acquire(ctx, "k", time.Minute)
	assert.ErrorIs(t, err, ErrLocked)

	now = now.Add(time.Minute)
	assert.ErrorIs(t, lease.Extend(ctx, time.Minute), ErrNotHeld)

	taken, err := locker.Acquire(ctx, "k", time.Minute)
	require.NoError(t, err)
	assert.ErrorIs(t, lease.Extend(ctx, time.Minute), ErrNotHeld)
	require.NoError(t, taken.Release(ctx))
}

func TestMemoryLocker_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewMemoryLocker().Acquire(ctx, "k", time.Minute)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMemoryLocker_ConcurrentAcquire(t *testing.T) {
	ctx := context.Background()
	locker := NewMemoryLocker()

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := locker.Acquire(ctx, "k", time.Minute); err == nil {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())
}

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, client
}

func TestRedisLocker(t *testing.T) {
	ctx := context.Background()
	mr, client := newTestRedis(t)

	a := NewRedisLocker(client, "subbill:lock:")
	b := NewRedisLocker(client, "subbill:lock:")

	lease, err := a.Acquire(ctx, "billing:generate:2025-03-01", time.Minute)
	require.NoError(t, err)
	assert.True(t, mr.Exists("subbill:lock:billing:generate:2025-03-01"))

	_, err = b.Acquire(ctx, "billing:generate:2025-03-01", time.Minute)
	assert.ErrorIs(t, err, ErrLocked)

	require.NoError(t, lease.Release(ctx))
	assert.False(t, mr.Exists("subbill:lock:billing:generate:2025-03-01"))
	assert.ErrorIs(t, lease.Release(ctx), ErrNotHeld)

	next, err := b.Acquire(ctx, "billing:generate:2025-03-01", time.Minute)
	require.NoError(t, err)
	require.NoError(t, next.Release(ctx))
}

func TestRedisLocker_Expiry(t *testing.T) {
	ctx := context.Background()
	mr, client := newTestRedis(t)
	locker := NewRedisLocker(client, "")

	stale, err := locker.Acquire(ctx, "k", time.Second)
	require.NoError(t, err)

	mr.FastForward(2 * time.Second)

	fresh, err := locker.Acquire(ctx, "k", time.Minute)
	require.NoError(t, err)

	assert.ErrorIs(t, stale.Release(ctx), ErrNotHeld)
	assert.True(t, mr.Exists("k"))
	assert.NoError(t, fresh.Release(ctx))
}

func TestRedisLocker_Extend(t *testing.T) {
	ctx := context.Background()
	mr, client := newTestRedis(t)
	locker := NewRedisLocker(client, "")

	lease, err := locker.Acquire(ctx, "k", time.Second)
	require.NoError(t, err)

	require.NoError(t, lease.Extend(ctx, time.Minute))
	assert.Equal(t, time.Minute, mr.TTL("k"))

	mr.FastForward(2 * time.Second)
	assert.True(t, mr.Exists("k"))

	mr.FastForward(time.Minute)
	assert.ErrorIs(t, lease.Extend(ctx, time.Minute), ErrNotHeld)

	require.NoError(t, mr.Set("k", "someone-else"))
	assert.ErrorIs(t, lease.Extend(ctx, time.Minute), ErrNotHeld)
	got, err := mr.Get("k")
	require.NoError(t, err)
	assert.Equal(t, "someone-else", got)
}

func TestRedisLocker_BackendDown(t *testing.T) {
	mr, client := newTestRedis(t)
	mr.Close()

	_, err := NewRedisLocker(client, "").Acquire(context.Background(), "k", time.Minute)
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrLocked)
}

func TestNewRedisClient(t *testing.T) {
	mr, _ := newTestRedis(t)

	client, err := NewRedisClient(context.Background(), RedisConfig{URL: "redis://" + mr.Addr(), PoolSize: 4})
	require.NoError(t, err)
	defer client.Close()

	_, err = NewRedisClient(context.Background(), RedisConfig{URL: "not-a-url"})
	assert.Error(t, err)
}
