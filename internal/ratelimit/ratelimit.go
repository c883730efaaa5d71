// Package ratelimit implements fixed-window rate limiting over Redis.
// On Redis failure the limiter degrades open: a broken limiter must not
// take workflow execution down with it.
package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vantori/flowgate/pkg/schema"
)

// Limiter enforces per-org request budgets on named buckets.
type Limiter interface {
	// Allow consumes one unit from the bucket. It returns a RATE_LIMITED
	// error when the window budget is exhausted.
	Allow(ctx context.Context, orgID, bucket string, max int, window time.Duration) error
}

// RedisLimiter is a fixed-window limiter backed by Redis INCR/EXPIRE.
type RedisLimiter struct {
	client *redis.Client
	logger *slog.Logger
}

// NewRedisLimiter creates a RedisLimiter.
func NewRedisLimiter(client *redis.Client, logger *slog.Logger) *RedisLimiter {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisLimiter{client: client, logger: logger}
}

func (l *RedisLimiter) Allow(ctx context.Context, orgID, bucket string, max int, window time.Duration) error {
	if max <= 0 {
		return nil
	}
	windowStart := time.Now().Unix() / int64(window.Seconds())
	key := fmt.Sprintf("ratelimit:%s:%s:%d", orgID, bucket, windowStart)

	count, err := l.client.Incr(ctx, key).Result()
	if err != nil {
		l.logger.Warn("rate limiter unavailable, allowing request",
			"org_id", orgID, "bucket", bucket, "error", err)
		return nil
	}
	if count == 1 {
		// First hit in this window owns the expiry.
		if err := l.client.Expire(ctx, key, window).Err(); err != nil {
			l.logger.Warn("rate limiter expire failed", "key", key, "error", err)
		}
	}
	if count > int64(max) {
		return schema.NewErrorf(schema.ErrCodeRateLimited,
			"rate limit exceeded for %s: %d/%d in window", bucket, count, max).
			WithDetails(map[string]any{"org_id": orgID, "bucket": bucket, "max": max})
	}
	return nil
}

// NoopLimiter allows everything. Used when Redis is not configured.
type NoopLimiter struct{}

func (NoopLimiter) Allow(context.Context, string, string, int, time.Duration) error { return nil }
