package limits

import (
	"context"
	"sync"
	"time"
)

type windowEntry struct {
	count   int64
	resetAt time.Time
}

// MemoryStore is the in-process counter table. It is correct for a single
// instance only; multi-instance deployments should use the Redis store.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]windowEntry
	now     func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]windowEntry),
		now:     time.Now,
	}
}

func (s *MemoryStore) Incr(ctx context.Context, key string, window time.Duration) (int64, time.Time, error) {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[key]
	if !ok || !now.Before(entry.resetAt) {
		entry = windowEntry{count: 1, resetAt: now.Add(window)}
	} else {
		entry.count++
	}
	s.entries[key] = entry
	return entry.count, entry.resetAt, nil
}

// Sweep drops entries whose window has elapsed. Best-effort: a stale entry
// simply opens a fresh window on next use, so correctness never depends on it.
func (s *MemoryStore) Sweep() int {
	now := s.now()

	// Snapshot under lock, filter outside, delete under lock again, so the
	// request path is never blocked behind a full-table walk.
	s.mu.Lock()
	keys := make([]string, 0, len(s.entries))
	resets := make([]time.Time, 0, len(s.entries))
	for key, entry := range s.entries {
		keys = append(keys, key)
		resets = append(resets, entry.resetAt)
	}
	s.mu.Unlock()

	expired := keys[:0]
	for i, key := range keys {
		if !now.Before(resets[i]) {
			expired = append(expired, key)
		}
	}

	removed := 0
	s.mu.Lock()
	for _, key := range expired {
		if entry, ok := s.entries[key]; ok && !now.Before(entry.resetAt) {
			delete(s.entries, key)
			removed++
		}
	}
	s.mu.Unlock()
	return removed
}

// RunSweeper purges expired windows on the interval until ctx is cancelled.
func (s *MemoryStore) RunSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep()
		}
	}
}
