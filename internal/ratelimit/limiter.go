// Package ratelimit provides Redis-backed fixed-window rate limiting using
// INCR + EXPIRE. Limits are keyed per client address for connection attempts
// and per session for matchmaking and chat commands.
package ratelimit

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Rule defines a rate limiting policy: the Redis key prefix, maximum number of
// requests allowed in the window, and the window duration.
type Rule struct {
	Key    string        // Redis key prefix (e.g. "rl:conn:")
	Limit  int           // max count in the window
	Window time.Duration // time window
}

var (
	// RuleConnect allows 20 WebSocket upgrades per minute per client address.
	RuleConnect = Rule{Key: "rl:conn:", Limit: 20, Window: time.Minute}

	// RuleSearch allows 30 start_search, next or search_again commands per
	// minute per session.
	RuleSearch = Rule{Key: "rl:search:", Limit: 30, Window: time.Minute}

	// RuleChat allows 20 chat messages per 10 seconds per session.
	RuleChat = Rule{Key: "rl:chat:", Limit: 20, Window: 10 * time.Second}
)

// Decision is the outcome of a rate limit check. RetryAfter is set only when
// the request was refused.
type Decision struct {
	Allowed    bool
	RetryAfter time.Duration
}

// Checker decides whether identifier may act again under rule.
type Checker interface {
	Allow(ctx context.Context, identifier string, rule Rule) (Decision, error)
}

// Noop allows everything. It is used when no Redis address is configured.
type Noop struct{}

// Allow implements Checker.
func (Noop) Allow(context.Context, string, Rule) (Decision, error) {
	return Decision{Allowed: true}, nil
}

// Limiter performs rate limiting checks against Redis.
type Limiter struct {
	client *redis.Client
	log    *zap.Logger
}

// NewLimiter creates a Limiter backed by the given Redis client.
func NewLimiter(client *redis.Client, logger *zap.Logger) *Limiter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Limiter{client: client, log: logger.Named("ratelimit")}
}

// Allow increments the counter for identifier under rule and sets the expiry
// on first access.
//
// On Redis errors the method fails open (Allowed is true) and returns the
// error so that a Redis outage does not block legitimate traffic.
func (l *Limiter) Allow(ctx context.Context, identifier string, rule Rule) (Decision, error) {
	key := rule.Key + identifier
	open := Decision{Allowed: true}

	count, err := l.client.Incr(ctx, key).Result()
	if err != nil {
		l.log.Warn("redis INCR failed, failing open", zap.String("key", key), zap.Error(err))
		return open, err
	}

	if count == 1 {
		if err := l.client.Expire(ctx, key, rule.Window).Err(); err != nil {
			l.log.Warn("redis EXPIRE failed, failing open", zap.String("key", key), zap.Error(err))
			// A key without TTL would throttle the identifier forever.
			l.client.Del(ctx, key)
			return open, err
		}
	}

	if int(count) <= rule.Limit {
		return open, nil
	}

	retry := rule.Window
	if ttl, err := l.client.TTL(ctx, key).Result(); err == nil && ttl > 0 {
		retry = ttl
	}
	return Decision{Allowed: false, RetryAfter: retry}, nil
}

// RetrySeconds rounds d up to whole seconds, with a minimum of one.
func RetrySeconds(d time.Duration) int {
	s := int((d + time.Second - 1) / time.Second)
	if s < 1 {
		return 1
	}
	return s
}
