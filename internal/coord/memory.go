package coord

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-process Store implementation for tests and
// single-instance deployments. Operations are serialised by one mutex, so
// two goroutines racing AcquireLease observe the same head-to-head outcome
// a shared database would give: exactly one wins.
type MemoryStore struct {
	mu     sync.Mutex
	leases map[string]memLease
	queues map[string][][]byte
	nonces *MemoryNonceStore
	now    func() time.Time
}

type memLease struct {
	holder    string
	expiresAt time.Time
}

// NewMemoryStore creates an empty MemoryStore. nonceCapacity bounds the
// embedded nonce map; zero selects the default.
func NewMemoryStore(nonceCapacity int) *MemoryStore {
	return &MemoryStore{
		leases: make(map[string]memLease),
		queues: make(map[string][][]byte),
		nonces: NewMemoryNonceStore(nonceCapacity),
		now:    time.Now,
	}
}

// AcquireLease implements Store.
func (s *MemoryStore) AcquireLease(_ context.Context, name, holder string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.leases[name]
	if ok && l.holder != holder && l.expiresAt.After(s.now()) {
		return false, nil
	}
	s.leases[name] = memLease{holder: holder, expiresAt: s.now().Add(ttl)}
	return true, nil
}

// RenewLease implements Store.
func (s *MemoryStore) RenewLease(_ context.Context, name, holder string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.leases[name]
	if !ok || l.holder != holder || !l.expiresAt.After(s.now()) {
		return false, nil
	}
	s.leases[name] = memLease{holder: holder, expiresAt: s.now().Add(ttl)}
	return true, nil
}

// ReleaseLease implements Store.
func (s *MemoryStore) ReleaseLease(_ context.Context, name, holder string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if l, ok := s.leases[name]; ok && l.holder == holder {
		delete(s.leases, name)
	}
	return nil
}

// Push implements Store.
func (s *MemoryStore) Push(_ context.Context, queue string, item []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := make([]byte, len(item))
	copy(cp, item)
	s.queues[queue] = append(s.queues[queue], cp)
	return nil
}

// Pop implements Store.
func (s *MemoryStore) Pop(_ context.Context, queue string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	q := s.queues[queue]
	if len(q) == 0 {
		return nil, false, nil
	}
	head := q[0]
	s.queues[queue] = q[1:]
	return head, true, nil
}

// CheckAndSetNonce implements Store.
func (s *MemoryStore) CheckAndSetNonce(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return s.nonces.CheckAndSetNonce(ctx, key, ttl)
}

// QueueLen reports the depth of the named FIFO.
func (s *MemoryStore) QueueLen(queue string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queues[queue])
}
