package ratelimit

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
)

func TestNoopLimiterAllowsEverything(t *testing.T) {
	var l Limiter = NoopLimiter{}
	for i := 0; i < 10; i++ {
		assert.NoError(t, l.Allow(context.Background(), "org-1", "event_ingest", 1, time.Minute))
	}
}

func TestRedisLimiterZeroMaxIsUnlimited(t *testing.T) {
	// max <= 0 short-circuits before any Redis call.
	l := NewRedisLimiter(nil, discardLogger())
	assert.NoError(t, l.Allow(context.Background(), "org-1", "event_ingest", 0, time.Minute))
}

func TestRedisLimiterDegradesOpenWhenUnavailable(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer client.Close()

	l := NewRedisLimiter(client, discardLogger())
	assert.NoError(t, l.Allow(context.Background(), "org-1", "event_ingest", 5, time.Minute))
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
