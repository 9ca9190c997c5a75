// Package middleware provides request rate limiting for the admin API.
//
// Two limiters are available. MemoryLimiter is a per-process token bucket.
// RedisLimiter counts requests in a fixed window shared by every instance
// pointed at the same Redis.
//
//	limiter := middleware.NewMemoryLimiter(middleware.DefaultRateLimitConfig())
//	handler = middleware.RateLimit(limiter, middleware.ClientIP)(handler)
//
// Limiter errors fail open: the request is served and the error logged.
package middleware
