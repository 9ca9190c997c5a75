package middleware

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// windowScript increments the window counter, starting the window on the
// first request, and returns the count with the window's remaining TTL in ms
var windowScript = redis.NewScript(`
local count = redis.call("INCR", KEYS[1])
if count == 1 then
	redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return {count, redis.call("PTTL", KEYS[1])}
`)

// RedisLimiter implements fixed-window rate limiting in Redis.
// Limits are shared by every instance using the same Redis and prefix.
type RedisLimiter struct {
	redis  *redis.Client
	config *RateLimitConfig
	prefix string
}

// NewRedisLimiter creates a new Redis-backed rate limiter
func NewRedisLimiter(client *redis.Client, config *RateLimitConfig, prefix string) *RedisLimiter {
	if config == nil {
		config = DefaultRateLimitConfig()
	}
	if prefix == "" {
		prefix = "ratelimit"
	}

	return &RedisLimiter{
		redis:  client,
		config: config,
		prefix: prefix,
	}
}

func (rl *RedisLimiter) key(key string) string {
	return fmt.Sprintf("%s:%s", rl.prefix, key)
}

// Allow implements Limiter.Allow. Bursts are added to the per-window limit.
func (rl *RedisLimiter) Allow(ctx context.Context, key string) (Decision, error) {
	res, err := windowScript.Run(ctx, rl.redis, []string{rl.key(key)}, rl.config.WindowDuration.Milliseconds()).Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("redis error: %w", err)
	}
	if len(res) != 2 {
		return Decision{}, fmt.Errorf("unexpected rate limit script reply: %v", res)
	}
	count, ok1 := res[0].(int64)
	pttl, ok2 := res[1].(int64)
	if !ok1 || !ok2 {
		return Decision{}, fmt.Errorf("unexpected rate limit script reply: %v", res)
	}

	capacity := int64(rl.config.capacity())

	d := Decision{
		Allowed:   count <= capacity,
		Limit:     rl.config.RequestsPerWindow,
		Remaining: int(max(capacity-count, 0)),
		ResetIn:   time.Duration(pttl) * time.Millisecond,
	}
	if d.ResetIn < 0 {
		d.ResetIn = rl.config.WindowDuration
	}
	return d, nil
}

// TTL returns the time until the rate limit window resets
func (rl *RedisLimiter) TTL(ctx context.Context, key string) (time.Duration, error) {
	return rl.redis.PTTL(ctx, rl.key(key)).Result()
}

// Reset clears the rate limit for a key
func (rl *RedisLimiter) Reset(ctx context.Context, key string) error {
	return rl.redis.Del(ctx, rl.key(key)).Err()
}
