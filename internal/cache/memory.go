package cache

import (
	"context"
	"regexp"
	"strings"
	"sync"
	"time"
)

type memoryEntry struct {
	data      []byte
	createdAt time.Time
	ttl       time.Duration
}

func (e memoryEntry) expired(now time.Time) bool {
	return now.Sub(e.createdAt) > e.ttl
}

// MemoryStore keeps entries in-process with lazy expiry: an expired entry is
// deleted on the read that discovers it. Correct for a single instance only.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]memoryEntry),
		now:     time.Now,
	}
}

func (s *MemoryStore) Get(ctx context.Context, key string) ([]byte, bool) {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[key]
	if !ok {
		return nil, false
	}
	if entry.expired(now) {
		delete(s.entries, key)
		return nil, false
	}
	return entry.data, true
}

func (s *MemoryStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	s.mu.Lock()
	s.entries[key] = memoryEntry{data: value, createdAt: s.now(), ttl: ttl}
	s.mu.Unlock()
}

func (s *MemoryStore) Delete(ctx context.Context, key string) {
	s.mu.Lock()
	delete(s.entries, key)
	s.mu.Unlock()
}

func (s *MemoryStore) DeletePattern(ctx context.Context, pattern string) int {
	re, err := compileGlob(pattern)
	if err != nil {
		return 0
	}

	// Snapshot keys first so the request path never waits behind a match
	// loop holding the lock.
	s.mu.Lock()
	keys := make([]string, 0, len(s.entries))
	for key := range s.entries {
		keys = append(keys, key)
	}
	s.mu.Unlock()

	matched := keys[:0]
	for _, key := range keys {
		if re.MatchString(key) {
			matched = append(matched, key)
		}
	}

	removed := 0
	s.mu.Lock()
	for _, key := range matched {
		if _, ok := s.entries[key]; ok {
			delete(s.entries, key)
			removed++
		}
	}
	s.mu.Unlock()
	return removed
}

// Sweep drops expired entries eagerly; lazy expiry already guarantees they
// are never served, this just bounds memory.
func (s *MemoryStore) Sweep() int {
	now := s.now()
	s.mu.Lock()
	removed := 0
	for key, entry := range s.entries {
		if entry.expired(now) {
			delete(s.entries, key)
			removed++
		}
	}
	s.mu.Unlock()
	return removed
}

// RunSweeper runs Sweep on the interval until ctx is cancelled.
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

func compileGlob(pattern string) (*regexp.Regexp, error) {
	parts := strings.Split(pattern, "*")
	for i := range parts {
		parts[i] = regexp.QuoteMeta(parts[i])
	}
	return regexp.Compile("^" + strings.Join(parts, ".*") + "$")
}
