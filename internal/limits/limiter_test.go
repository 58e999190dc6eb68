package limits

import (
	"context"
	"errors"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/pianoemotion/crmgate/internal/config"
)

func testBuckets() config.RateLimitConfig {
	return config.RateLimitConfig{
		Buckets: map[string]config.BucketConfig{
			"api":  {MaxRequests: 3, Window: time.Second},
			"auth": {MaxRequests: 1, Window: time.Second},
		},
	}
}

func newClockedLimiter(t *testing.T) (*RateLimiter, *MemoryStore, *time.Time) {
	t.Helper()
	now := time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)
	store := NewMemoryStore()
	store.now = func() time.Time { return now }
	limiter := NewRateLimiter(store, testBuckets())
	limiter.now = store.now
	return limiter, store, &now
}

func TestAllowEnforcesWindowArithmetic(t *testing.T) {
	limiter, _, now := newClockedLimiter(t)
	ctx := context.Background()
	key := Key("api", "userA", "")

	for i := 0; i < 3; i++ {
		result, err := limiter.Allow(ctx, "api", key)
		if err != nil {
			t.Fatalf("request %d should admit: %v", i+1, err)
		}
		if result.Remaining != 2-i {
			t.Fatalf("request %d: want remaining %d, got %d", i+1, 2-i, result.Remaining)
		}
	}

	*now = now.Add(500 * time.Millisecond)
	result, err := limiter.Allow(ctx, "api", key)
	if !errors.Is(err, ErrLimitExceeded) {
		t.Fatalf("4th request should reject, got %v", err)
	}
	if result.RetryAfter != 1 {
		t.Fatalf("want retryAfter 1, got %d", result.RetryAfter)
	}
	if result.Remaining != 0 {
		t.Fatalf("rejected result should report zero remaining, got %d", result.Remaining)
	}

	*now = now.Add(501 * time.Millisecond)
	if _, err := limiter.Allow(ctx, "api", key); err != nil {
		t.Fatalf("request in fresh window should admit: %v", err)
	}
}

func TestAllowIsolatesKeysAndBuckets(t *testing.T) {
	limiter, _, _ := newClockedLimiter(t)
	ctx := context.Background()

	if _, err := limiter.Allow(ctx, "auth", Key("auth", "userA", "")); err != nil {
		t.Fatalf("first auth request: %v", err)
	}
	if _, err := limiter.Allow(ctx, "auth", Key("auth", "userA", "")); !errors.Is(err, ErrLimitExceeded) {
		t.Fatalf("auth quota should be exhausted, got %v", err)
	}

	// Another caller on the same bucket is unaffected.
	if _, err := limiter.Allow(ctx, "auth", Key("auth", "userB", "")); err != nil {
		t.Fatalf("userB should have full auth quota: %v", err)
	}
	// The same caller on another bucket is unaffected.
	if _, err := limiter.Allow(ctx, "api", Key("api", "userA", "")); err != nil {
		t.Fatalf("api quota should be untouched: %v", err)
	}
}

func TestKeyFallsBackToIPThenAnonymous(t *testing.T) {
	if got := Key("api", "user_7", "203.0.113.9"); got != "api:user_7" {
		t.Fatalf("subject should win: %q", got)
	}
	if got := Key("api", "", "203.0.113.9"); got != "api:203.0.113.9" {
		t.Fatalf("ip fallback: %q", got)
	}
	if got := Key("api", "", ""); got != "api:anonymous" {
		t.Fatalf("anonymous fallback: %q", got)
	}
}

func TestResultHeaders(t *testing.T) {
	reset := time.Unix(1770000000, 0)
	headers := Result{Allowed: true, Limit: 100, Remaining: 42, ResetAt: reset}.Headers()
	if headers["X-RateLimit-Limit"] != "100" || headers["X-RateLimit-Remaining"] != "42" {
		t.Fatalf("unexpected headers %v", headers)
	}
	if headers["X-RateLimit-Reset"] != "1770000000" {
		t.Fatalf("unexpected reset header %q", headers["X-RateLimit-Reset"])
	}
	if _, ok := headers["Retry-After"]; ok {
		t.Fatal("admitted result must not carry Retry-After")
	}

	rejected := Result{Allowed: false, Limit: 100, ResetAt: reset, RetryAfter: 30}.Headers()
	if rejected["Retry-After"] != "30" {
		t.Fatalf("unexpected Retry-After %q", rejected["Retry-After"])
	}
}

func TestMemoryStoreSweepKeepsActiveWindows(t *testing.T) {
	now := time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)
	store := NewMemoryStore()
	store.now = func() time.Time { return now }
	ctx := context.Background()

	if _, _, err := store.Incr(ctx, "api:stale", time.Second); err != nil {
		t.Fatalf("incr: %v", err)
	}
	now = now.Add(2 * time.Second)
	if _, _, err := store.Incr(ctx, "api:active", time.Minute); err != nil {
		t.Fatalf("incr: %v", err)
	}

	if removed := store.Sweep(); removed != 1 {
		t.Fatalf("want 1 removed, got %d", removed)
	}
	if _, ok := store.entries["api:active"]; !ok {
		t.Fatal("active window must survive the sweep")
	}
	if _, ok := store.entries["api:stale"]; ok {
		t.Fatal("elapsed window must be purged")
	}
}

func TestRedisStoreCountsPerWindow(t *testing.T) {
	server, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	defer server.Close()
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	defer client.Close()

	now := time.Date(2026, time.March, 1, 12, 0, 0, 500*int(time.Millisecond), time.UTC)
	store := NewRedisStore(client)
	store.now = func() time.Time { return now }
	limiter := NewRateLimiter(store, testBuckets())
	limiter.now = store.now
	ctx := context.Background()
	key := Key("api", "userA", "")

	for i := 0; i < 3; i++ {
		if _, err := limiter.Allow(ctx, "api", key); err != nil {
			t.Fatalf("request %d should admit: %v", i+1, err)
		}
	}
	if _, err := limiter.Allow(ctx, "api", key); !errors.Is(err, ErrLimitExceeded) {
		t.Fatalf("4th request should reject, got %v", err)
	}

	// The next window slot starts from a fresh counter.
	now = now.Add(time.Second)
	if _, err := limiter.Allow(ctx, "api", key); err != nil {
		t.Fatalf("request in next slot should admit: %v", err)
	}
}

func TestNilLimiterAdmitsEverything(t *testing.T) {
	var limiter *RateLimiter
	result, err := limiter.Allow(context.Background(), "api", "api:anyone")
	if err != nil || !result.Allowed {
		t.Fatalf("nil limiter must admit: %v %v", result, err)
	}
}
