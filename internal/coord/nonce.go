package coord

import (
	"context"
	"sync"
	"time"
)

// defaultNonceCapacity bounds the in-memory nonce map when the caller does
// not choose a size.
const defaultNonceCapacity = 65536

// MemoryNonceStore is a bounded in-process NonceStore for single-instance
// and development operation. Eviction is deferred: expired entries are only
// swept once the map crosses its capacity, and if the sweep is not enough
// the oldest-admitted entries go next. Under sustained burst load the
// duplicate-suppression window therefore shrinks — bounded memory is
// traded against perfect dedup.
type MemoryNonceStore struct {
	mu      sync.Mutex
	max     int
	entries map[string]time.Time // key → expiry
	order   []string             // admission order, oldest first
	now     func() time.Time
}

// NewMemoryNonceStore creates a store holding at most capacity keys.
// capacity <= 0 selects the default.
func NewMemoryNonceStore(capacity int) *MemoryNonceStore {
	if capacity <= 0 {
		capacity = defaultNonceCapacity
	}
	return &MemoryNonceStore{
		max:     capacity,
		entries: make(map[string]time.Time),
		now:     time.Now,
	}
}

// CheckAndSetNonce implements NonceStore.
func (s *MemoryNonceStore) CheckAndSetNonce(_ context.Context, key string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if exp, ok := s.entries[key]; ok && exp.After(now) {
		return false, nil
	}

	s.entries[key] = now.Add(ttl)
	s.order = append(s.order, key)

	if len(s.entries) > s.max {
		s.evictLocked(now)
	}
	return true, nil
}

// Len reports the number of tracked keys, expired ones included.
func (s *MemoryNonceStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// evictLocked drops expired entries first, then the oldest-admitted live
// ones until the map fits its capacity again.
func (s *MemoryNonceStore) evictLocked(now time.Time) {
	kept := s.order[:0]
	for _, k := range s.order {
		exp, ok := s.entries[k]
		if !ok {
			continue // re-admitted later in order; this slot is stale
		}
		if !exp.After(now) {
			delete(s.entries, k)
			continue
		}
		kept = append(kept, k)
	}
	s.order = kept

	for len(s.entries) > s.max && len(s.order) > 0 {
		oldest := s.order[0]
		s.order = s.order[1:]
		delete(s.entries, oldest)
	}
}
