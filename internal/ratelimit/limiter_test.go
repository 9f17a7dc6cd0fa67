package ratelimit

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

func TestMemoryLimiterWindow(t *testing.T) {
	now := time.Unix(1700000000, 0)
	l := NewMemoryLimiter()
	l.now = func() time.Time { return now }
	rule := SendRule(2, 10*time.Second)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if ok, _ := l.Allow(ctx, "u1", rule); !ok {
			t.Fatalf("request %d should be allowed", i+1)
		}
	}
	if ok, _ := l.Allow(ctx, "u1", rule); ok {
		t.Fatal("third request should be limited")
	}
	if ok, _ := l.Allow(ctx, "u2", rule); !ok {
		t.Error("other identifiers have their own window")
	}

	now = now.Add(10 * time.Second)
	if ok, _ := l.Allow(ctx, "u1", rule); !ok {
		t.Error("expected a fresh window after expiry")
	}
}

func TestMemoryLimiterRetryAfter(t *testing.T) {
	now := time.Unix(1700000000, 0)
	l := NewMemoryLimiter()
	l.now = func() time.Time { return now }
	rule := SendRule(1, 10*time.Second)
	ctx := context.Background()

	if wait, _ := l.RetryAfter(ctx, "u1", rule); wait != 0 {
		t.Fatalf("expected no wait before any request, got %v", wait)
	}
	_, _ = l.Allow(ctx, "u1", rule)

	now = now.Add(4 * time.Second)
	if wait, _ := l.RetryAfter(ctx, "u1", rule); wait != 6*time.Second {
		t.Errorf("expected 6s, got %v", wait)
	}

	now = now.Add(6 * time.Second)
	if wait, _ := l.RetryAfter(ctx, "u1", rule); wait != 0 {
		t.Errorf("expected no wait after the window, got %v", wait)
	}
}

func TestMemoryLimiterPrune(t *testing.T) {
	now := time.Unix(1700000000, 0)
	l := NewMemoryLimiter()
	l.now = func() time.Time { return now }
	rule := SendRule(1, time.Second)

	_, _ = l.Allow(context.Background(), "a", rule)
	_, _ = l.Allow(context.Background(), "b", rule)

	if n := l.Prune(); n != 0 {
		t.Fatalf("expected nothing pruned, got %d", n)
	}
	now = now.Add(2 * time.Second)
	if n := l.Prune(); n != 2 {
		t.Errorf("expected 2 pruned, got %d", n)
	}
}

func testRedis(t *testing.T) *redis.Client {
	t.Helper()
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}
	client := redis.NewClient(&redis.Options{Addr: addr, DB: 15})
	if err := client.Ping(context.Background()).Err(); err != nil {
		t.Skipf("redis not available: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return client
}

func TestRedisLimiter(t *testing.T) {
	client := testRedis(t)
	ctx := context.Background()
	rule := Rule{Key: "rl:test:", Limit: 3, Window: 5 * time.Second}
	id := "limiter-test"
	client.Del(ctx, rule.Key+id)
	t.Cleanup(func() { client.Del(ctx, rule.Key+id) })

	l := NewRedisLimiter(client, zerolog.Nop())
	for i := 0; i < 3; i++ {
		ok, err := l.Allow(ctx, id, rule)
		if err != nil || !ok {
			t.Fatalf("request %d: ok=%v err=%v", i+1, ok, err)
		}
	}
	if ok, _ := l.Allow(ctx, id, rule); ok {
		t.Error("fourth request should be limited")
	}
	wait, err := l.RetryAfter(ctx, id, rule)
	if err != nil {
		t.Fatalf("RetryAfter: %v", err)
	}
	if wait <= 0 || wait > rule.Window {
		t.Errorf("expected a wait within the window, got %v", wait)
	}
	if wait, _ := l.RetryAfter(ctx, "limiter-test-unknown", rule); wait != 0 {
		t.Errorf("expected no wait for an unknown key, got %v", wait)
	}
}
