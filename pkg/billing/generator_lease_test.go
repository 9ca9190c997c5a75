package billing

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/platinummonkey/subbill/pkg/lock"
	"github.com/platinummonkey/subbill/pkg/plans"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const redisLockKey = "subbill:billing:generate:2025-03-01"

// redisLockDeps returns a harness with three subscribers whose generator
// locks through miniredis
func redisLockDeps(t *testing.T) (*harness, Deps, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	h := newHarness(t)
	h.addSubscriber(t, "s1", "u1", "basic", plans.TermMonthly, true)
	h.addSubscriber(t, "s2", "u2", "pro", plans.TermMonthly, true)
	h.addSubscriber(t, "s3", "u3", "lite", plans.TermAnnual, true)

	deps := h.deps()
	deps.Locker = lock.NewRedisLocker(client, "subbill:")
	return h, deps, mr
}

func TestGenerateMonthlyOrders_ExtendsLease(t *testing.T) {
	ctx := context.Background()
	h, deps, mr := redisLockDeps(t)

	// Every clock read moves both clocks 6 minutes. The run spans 42 minutes
	// against a 30 minute TTL, so the lock survives only if it is renewed.
	steps := 0
	held, lost := false, false
	clock := func() time.Time {
		at := fixedNow.Add(time.Duration(steps) * 6 * time.Minute)
		if steps > 0 {
			mr.FastForward(6 * time.Minute)
		}
		steps++
		exists := mr.Exists(redisLockKey)
		if held && !exists {
			lost = true
		}
		held = held || exists
		return at
	}

	result, err := NewGenerator(deps, WithClock(clock), WithLockTTL(30*time.Minute)).GenerateMonthlyOrders(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, result.Success)
	assert.True(t, held)
	assert.False(t, lost, "lock expired mid-run")
	assert.Greater(t, result.FinishedAt.Sub(result.StartedAt), 30*time.Minute)
	assert.False(t, mr.Exists(redisLockKey))

	stored, err := h.sink.GetAll(ctx)
	require.NoError(t, err)
	assert.Len(t, stored, 3)
}

func TestGenerateMonthlyOrders_StopsWhenLeaseLost(t *testing.T) {
	ctx := context.Background()
	h, deps, mr := redisLockDeps(t)

	// Once the run holds the lock, another holder replaces it and time jumps
	// past the renewal point
	started := false
	clock := func() time.Time {
		if !started {
			started = true
			return fixedNow
		}
		if mr.Exists(redisLockKey) {
			require.NoError(t, mr.Set(redisLockKey, "other-run"))
		}
		return fixedNow.Add(time.Hour)
	}

	result, err := NewGenerator(deps, WithClock(clock), WithLockTTL(30*time.Minute)).GenerateMonthlyOrders(ctx)
	assert.ErrorIs(t, err, ErrLeaseLost)
	require.NotNil(t, result)
	assert.Zero(t, result.Success)

	stored, err := h.sink.GetAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, stored)

	got, err := mr.Get(redisLockKey)
	require.NoError(t, err)
	assert.Equal(t, "other-run", got)
}
