package limits

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/pianoemotion/crmgate/internal/config"
)

// ErrLimitExceeded is returned when a bucket's quota is exhausted for the
// current window. Callers carrying it across the transport boundary should
// surface the RetryAfter from the accompanying Result.
var ErrLimitExceeded = errors.New("rate limit exceeded")

// Store tracks fixed-window counters per key. Implementations must be safe
// for concurrent use; each key's counter is independent.
type Store interface {
	// Incr opens a window for the key if none is active, increments the
	// counter, and reports the count and when the active window resets.
	Incr(ctx context.Context, key string, window time.Duration) (count int64, resetAt time.Time, err error)
}

// Result describes one admission decision, including the metadata the HTTP
// layer surfaces as X-RateLimit-* headers.
type Result struct {
	Allowed    bool
	Limit      int
	Remaining  int
	ResetAt    time.Time
	RetryAfter int
}

// Headers returns the response headers describing the bucket state.
func (r Result) Headers() map[string]string {
	h := map[string]string{
		"X-RateLimit-Limit":     strconv.Itoa(r.Limit),
		"X-RateLimit-Remaining": strconv.Itoa(r.Remaining),
		"X-RateLimit-Reset":     strconv.FormatInt(r.ResetAt.Unix(), 10),
	}
	if !r.Allowed {
		h["Retry-After"] = strconv.Itoa(r.RetryAfter)
	}
	return h
}

// RateLimiter admits or rejects requests per named bucket using fixed-window
// counting. Windows admit brief bursts at their boundaries (up to ~2x the
// nominal rate); that tradeoff is accepted for this layer.
type RateLimiter struct {
	store   Store
	buckets config.RateLimitConfig
	now     func() time.Time
}

func NewRateLimiter(store Store, buckets config.RateLimitConfig) *RateLimiter {
	return &RateLimiter{store: store, buckets: buckets, now: time.Now}
}

// Key derives the counter key for a bucket and caller. The caller identity is
// the verified subject when known, else the source IP, else "anonymous".
func Key(bucket, subject, ip string) string {
	id := subject
	if id == "" {
		id = ip
	}
	if id == "" {
		id = "anonymous"
	}
	return bucket + ":" + id
}

// Allow records one request against the bucket and decides admission.
// A nil limiter or store admits everything.
func (l *RateLimiter) Allow(ctx context.Context, bucket, key string) (Result, error) {
	if l == nil || l.store == nil {
		return Result{Allowed: true}, nil
	}

	cfg := l.buckets.Bucket(bucket)
	count, resetAt, err := l.store.Incr(ctx, key, cfg.Window)
	if err != nil {
		return Result{}, fmt.Errorf("rate limit store: %w", err)
	}

	remaining := cfg.MaxRequests - int(count)
	if remaining < 0 {
		remaining = 0
	}
	result := Result{
		Allowed:   int(count) <= cfg.MaxRequests,
		Limit:     cfg.MaxRequests,
		Remaining: remaining,
		ResetAt:   resetAt,
	}
	if !result.Allowed {
		secs := int((resetAt.Sub(l.now()) + time.Second - 1) / time.Second)
		if secs < 1 {
			secs = 1
		}
		result.RetryAfter = secs
		return result, ErrLimitExceeded
	}
	return result, nil
}
