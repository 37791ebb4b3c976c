package queue

import (
	"sync"
	"time"
)

// idemCache is the bounded set of recently-applied event ids. Eviction is
// insertion-ordered: once capacity is exceeded the oldest-inserted entries
// go first. That is an approximation of LRU, not true recency-based LRU;
// if sustained traffic exceeds the capacity within the replay window,
// duplicate suppression silently weakens. The capacity is the tunable.
type idemCache struct {
	mu    sync.Mutex
	max   int
	seen  map[string]time.Time
	order []string
}

func newIdemCache(capacity int) *idemCache {
	if capacity <= 0 {
		capacity = 4096
	}
	return &idemCache{
		max:  capacity,
		seen: make(map[string]time.Time),
	}
}

// Seen reports whether id has already been applied.
func (c *idemCache) Seen(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.seen[id]
	return ok
}

// Add marks id as applied, evicting oldest-inserted entries at capacity.
func (c *idemCache) Add(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.addLocked(id)
}

// CheckAndAdd atomically admits id, returning true on first use and false
// if it was already applied. Concurrent callers with the same id cannot
// both see first use.
func (c *idemCache) CheckAndAdd(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.seen[id]; ok {
		return false
	}
	c.addLocked(id)
	return true
}

// Forget drops id so a later retry is admitted again; used when applying
// an admitted item fails.
func (c *idemCache) Forget(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.seen[id]; !ok {
		return
	}
	delete(c.seen, id)
	for i, v := range c.order {
		if v == id {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
}

func (c *idemCache) addLocked(id string) {
	if _, ok := c.seen[id]; ok {
		return
	}
	c.seen[id] = time.Now()
	c.order = append(c.order, id)

	for len(c.seen) > c.max && len(c.order) > 0 {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.seen, oldest)
	}
}

// Len reports the number of tracked ids.
func (c *idemCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.seen)
}
