// Package ratelimit throttles per-user actions with fixed windows. The Redis
// limiter uses INCR + EXPIRE so that several server instances share counts;
// the memory limiter covers single-instance runs without Redis.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Rule defines a rate limiting policy: the key prefix, maximum number of
// requests allowed in the window, and the window duration.
type Rule struct {
	Key    string        // key prefix (e.g., "rl:send:")
	Limit  int           // max count in the window
	Window time.Duration // time window
}

// SendRule builds the rule applied to chat message posts.
func SendRule(limit int, window time.Duration) Rule {
	return Rule{Key: "rl:send:", Limit: limit, Window: window}
}

// Limiter decides whether identifier may act again under rule.
type Limiter interface {
	Allow(ctx context.Context, identifier string, rule Rule) (bool, error)
	RetryAfter(ctx context.Context, identifier string, rule Rule) (time.Duration, error)
}

// RedisLimiter performs rate limiting checks against Redis.
type RedisLimiter struct {
	client *redis.Client
	logger zerolog.Logger
}

// NewRedisLimiter creates a limiter backed by the given Redis client.
func NewRedisLimiter(client *redis.Client, logger zerolog.Logger) *RedisLimiter {
	return &RedisLimiter{client: client, logger: logger}
}

// Allow increments the identifier's counter and sets the expiry on first
// access. On Redis errors it fails open (returns true) so that a Redis outage
// does not block legitimate traffic.
func (l *RedisLimiter) Allow(ctx context.Context, identifier string, rule Rule) (bool, error) {
	key := rule.Key + identifier

	count, err := l.client.Incr(ctx, key).Result()
	if err != nil {
		l.logger.Warn().Err(err).Str("key", key).Msg("redis INCR failed, failing open")
		return true, err
	}

	if count == 1 {
		if err := l.client.Expire(ctx, key, rule.Window).Err(); err != nil {
			l.logger.Warn().Err(err).Str("key", key).Msg("redis EXPIRE failed, failing open")
			// A key without TTL would block the identifier forever.
			l.client.Del(ctx, key)
			return true, err
		}
	}

	return int(count) <= rule.Limit, nil
}

// RetryAfter returns how long until the identifier's window resets. Returns
// zero if the key does not exist yet or Redis fails.
func (l *RedisLimiter) RetryAfter(ctx context.Context, identifier string, rule Rule) (time.Duration, error) {
	key := rule.Key + identifier

	ttl, err := l.client.PTTL(ctx, key).Result()
	if err != nil {
		l.logger.Warn().Err(err).Str("key", key).Msg("redis PTTL failed")
		return 0, err
	}
	// PTTL reports -2 for a missing key and -1 for a key without expiry.
	if ttl < 0 {
		return 0, nil
	}
	return ttl, nil
}

type window struct {
	count int
	reset time.Time
}

// MemoryLimiter keeps fixed-window counters in process memory.
type MemoryLimiter struct {
	mu      sync.Mutex
	windows map[string]*window
	now     func() time.Time
}

// NewMemoryLimiter creates an empty in-process limiter.
func NewMemoryLimiter() *MemoryLimiter {
	return &MemoryLimiter{windows: make(map[string]*window), now: time.Now}
}

// Allow never returns an error.
func (l *MemoryLimiter) Allow(_ context.Context, identifier string, rule Rule) (bool, error) {
	key := rule.Key + identifier
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.windows[key]
	if !ok || !now.Before(w.reset) {
		w = &window{reset: now.Add(rule.Window)}
		l.windows[key] = w
	}
	w.count++
	return w.count <= rule.Limit, nil
}

// RetryAfter never returns an error.
func (l *MemoryLimiter) RetryAfter(_ context.Context, identifier string, rule Rule) (time.Duration, error) {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.windows[rule.Key+identifier]
	if !ok || !now.Before(w.reset) {
		return 0, nil
	}
	return w.reset.Sub(now), nil
}

// Prune drops expired windows.
func (l *MemoryLimiter) Prune() int {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	n := 0
	for key, w := range l.windows {
		if !now.Before(w.reset) {
			delete(l.windows, key)
			n++
		}
	}
	return n
}
