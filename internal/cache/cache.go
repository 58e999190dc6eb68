package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"golang.org/x/sync/singleflight"
)

// Store holds serialized entries with a TTL. A Get on an expired entry must
// behave exactly like a miss. Implementations are safe for concurrent use.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration)
	Delete(ctx context.Context, key string)
	// DeletePattern removes every key matching the glob-like pattern
	// (* matches any run of characters) and reports how many were removed.
	DeletePattern(ctx context.Context, pattern string) int
}

// Cache is the read-through cache consulted by idempotent handlers. It is
// purely an optimization: disabling it changes latency, never behavior.
type Cache struct {
	store      Store
	defaultTTL time.Duration
	enabled    bool
	group      singleflight.Group
}

func New(store Store, defaultTTL time.Duration, enabled bool) *Cache {
	if defaultTTL <= 0 {
		defaultTTL = 5 * time.Minute
	}
	return &Cache{store: store, defaultTTL: defaultTTL, enabled: enabled}
}

// Enabled reports whether lookups consult the store at all.
func (c *Cache) Enabled() bool {
	return c != nil && c.enabled && c.store != nil
}

// Get unmarshals the entry for key into out. False means miss (or disabled).
func (c *Cache) Get(ctx context.Context, key string, out any) bool {
	if !c.Enabled() || key == "" {
		return false
	}
	data, ok := c.store.Get(ctx, key)
	if !ok {
		return false
	}
	if err := json.Unmarshal(data, out); err != nil {
		// A corrupt entry is treated as a miss and dropped.
		c.store.Delete(ctx, key)
		return false
	}
	return true
}

// Set stores value under key. A non-positive ttl uses the default.
func (c *Cache) Set(ctx context.Context, key string, value any, ttl time.Duration) {
	if !c.Enabled() || key == "" {
		return
	}
	data, err := json.Marshal(value)
	if err != nil {
		return
	}
	if ttl <= 0 {
		ttl = c.defaultTTL
	}
	c.store.Set(ctx, key, data, ttl)
}

// Invalidate removes a single entry.
func (c *Cache) Invalidate(ctx context.Context, key string) {
	if !c.Enabled() || key == "" {
		return
	}
	c.store.Delete(ctx, key)
}

// InvalidatePattern removes every entry matching the glob-like pattern.
// Mutating handlers call this before reporting success so the same logical
// session never reads stale data it just wrote.
func (c *Cache) InvalidatePattern(ctx context.Context, pattern string) int {
	if !c.Enabled() || pattern == "" {
		return 0
	}
	return c.store.DeletePattern(ctx, pattern)
}

// GetOrCompute returns the cached value for key, computing and storing it on
// a miss. Concurrent callers for the same cold key share one compute call.
// Compute failures propagate to every waiter and are never cached.
func GetOrCompute[T any](ctx context.Context, c *Cache, key string, ttl time.Duration, compute func(context.Context) (T, error)) (T, error) {
	if !c.Enabled() || key == "" {
		return compute(ctx)
	}

	var cached T
	if c.Get(ctx, key, &cached) {
		return cached, nil
	}

	value, err, _ := c.group.Do(key, func() (any, error) {
		// Re-check under the flight: a concurrent caller may have filled it.
		var again T
		if c.Get(ctx, key, &again) {
			return again, nil
		}
		computed, err := compute(ctx)
		if err != nil {
			return nil, err
		}
		c.Set(ctx, key, computed, ttl)
		return computed, nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	typed, ok := value.(T)
	if !ok {
		var zero T
		return zero, fmt.Errorf("cache: unexpected value type for key %s", key)
	}
	return typed, nil
}
