package middleware

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"drawbridge/internal/auth"
	"drawbridge/internal/metrics"
)

// RateLimiter enforces per-user request limits. With a Redis client the
// limit is a fixed one-minute window shared across instances; without one
// it degrades to an in-process token bucket per user. Redis errors fail
// open: a broken limiter must not take the API down with it.
type RateLimiter struct {
	redis  *redis.Client
	logger *zap.Logger

	readsPerMinute  int
	writesPerMinute int

	mu     sync.Mutex
	local  map[string]*rate.Limiter
}

// NewRateLimiter creates a rate limiter. redis may be nil.
func NewRateLimiter(rdb *redis.Client, readsPerMinute, writesPerMinute int, logger *zap.Logger) *RateLimiter {
	if readsPerMinute <= 0 {
		readsPerMinute = 60
	}
	if writesPerMinute <= 0 {
		writesPerMinute = 20
	}
	return &RateLimiter{
		redis:           rdb,
		logger:          logger,
		readsPerMinute:  readsPerMinute,
		writesPerMinute: writesPerMinute,
		local:           make(map[string]*rate.Limiter),
	}
}

// Middleware returns the HTTP middleware function. It must run after the
// auth middleware; unauthenticated requests pass through untouched.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		userCtx, err := auth.GetUserContext(ctx)
		if err != nil {
			next.ServeHTTP(w, r)
			return
		}

		class, limit := rl.classify(r.Method)
		key := fmt.Sprintf("ratelimit:user:%s:%s", userCtx.UserID.String(), class)

		allowed, remaining, resetAt := rl.allow(ctx, key, limit)

		w.Header().Set("X-RateLimit-Limit", fmt.Sprintf("%d", limit))
		w.Header().Set("X-RateLimit-Remaining", fmt.Sprintf("%d", remaining))
		w.Header().Set("X-RateLimit-Reset", fmt.Sprintf("%d", resetAt.Unix()))

		if !allowed {
			metrics.RateLimitExceeded.Inc()
			rl.logger.Warn("Rate limit exceeded",
				zap.String("user_id", userCtx.UserID.String()),
				zap.String("class", class),
				zap.String("path", r.URL.Path),
			)
			w.Header().Set("Retry-After", fmt.Sprintf("%d", max64(resetAt.Unix()-time.Now().Unix(), 1)))
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			json.NewEncoder(w).Encode(map[string]string{
				"error":   "Rate limit exceeded",
				"message": "Too many requests. Please retry after the rate limit window resets.",
			})
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (rl *RateLimiter) classify(method string) (string, int) {
	switch method {
	case http.MethodGet, http.MethodHead:
		return "read", rl.readsPerMinute
	default:
		return "write", rl.writesPerMinute
	}
}

func (rl *RateLimiter) allow(ctx context.Context, key string, limit int) (allowed bool, remaining int, resetAt time.Time) {
	now := time.Now()
	window := now.Truncate(time.Minute)
	resetAt = window.Add(time.Minute)

	if rl.redis == nil {
		return rl.allowLocal(key, limit), limit, resetAt
	}

	windowKey := fmt.Sprintf("%s:%d", key, window.Unix())

	pipe := rl.redis.Pipeline()
	incr := pipe.Incr(ctx, windowKey)
	pipe.Expire(ctx, windowKey, time.Minute+time.Second)
	if _, err := pipe.Exec(ctx); err != nil {
		rl.logger.Error("Rate limit check failed", zap.Error(err))
		return true, limit, resetAt
	}

	count := incr.Val()
	remaining = limit - int(count)
	if remaining < 0 {
		remaining = 0
	}
	return count <= int64(limit), remaining, resetAt
}

func (rl *RateLimiter) allowLocal(key string, limit int) bool {
	rl.mu.Lock()
	lim, ok := rl.local[key]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(float64(limit)/60.0), limit)
		rl.local[key] = lim
	}
	rl.mu.Unlock()
	return lim.Allow()
}

func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
