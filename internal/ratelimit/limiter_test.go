package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// newTestLimiter connects to a local Redis and removes the test keys before
// and after the test. Tests that call it are skipped without Redis on
// localhost:6379.
func newTestLimiter(t *testing.T) (*Limiter, *redis.Client) {
	t.Helper()
	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("redis not available: %v", err)
	}
	clean := func() {
		iter := client.Scan(ctx, 0, "rl:test:*", 100).Iterator()
		for iter.Next(ctx) {
			client.Del(ctx, iter.Val())
		}
	}
	clean()
	t.Cleanup(func() {
		clean()
		client.Close()
	})
	return NewLimiter(client, zaptest.NewLogger(t)), client
}

func TestLimiter_AllowUpToLimit(t *testing.T) {
	l, client := newTestLimiter(t)
	ctx := context.Background()
	rule := Rule{Key: "rl:test:", Limit: 3, Window: 30 * time.Second}

	for i := 0; i < 3; i++ {
		d, err := l.Allow(ctx, "allow", rule)
		require.NoError(t, err)
		assert.True(t, d.Allowed, "request %d", i+1)
	}

	d, err := l.Allow(ctx, "allow", rule)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Greater(t, d.RetryAfter, time.Duration(0))
	assert.LessOrEqual(t, d.RetryAfter, rule.Window)

	ttl, err := client.TTL(ctx, "rl:test:allow").Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))
}

func TestLimiter_FailsOpen(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	})
	t.Cleanup(func() { client.Close() })
	l := NewLimiter(client, zaptest.NewLogger(t))

	d, err := l.Allow(context.Background(), "down", RuleChat)
	assert.Error(t, err)
	assert.True(t, d.Allowed)
}

func TestNoop(t *testing.T) {
	d, err := Noop{}.Allow(context.Background(), "x", RuleConnect)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

func TestRetrySeconds(t *testing.T) {
	assert.Equal(t, 1, RetrySeconds(0))
	assert.Equal(t, 1, RetrySeconds(300*time.Millisecond))
	assert.Equal(t, 2, RetrySeconds(1500*time.Millisecond))
	assert.Equal(t, 10, RetrySeconds(10*time.Second))
}
