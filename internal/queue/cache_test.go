package queue

import (
	"fmt"
	"sync"
	"testing"
)

func TestIdemCache_seenAfterAdd(t *testing.T) {
	c := newIdemCache(8)
	if c.Seen("a") {
		t.Fatal("fresh cache should not have seen anything")
	}
	c.Add("a")
	if !c.Seen("a") {
		t.Fatal("id should be seen after Add")
	}
	c.Add("a")
	if c.Len() != 1 {
		t.Fatalf("re-adding an id should not grow the cache, got %d", c.Len())
	}
}

func TestIdemCache_evictsOldestInserted(t *testing.T) {
	c := newIdemCache(4)
	for i := 0; i < 6; i++ {
		c.Add(fmt.Sprintf("id-%d", i))
	}
	if c.Len() != 4 {
		t.Fatalf("cache holds %d ids, want 4", c.Len())
	}
	// Eviction order follows insertion, not recency, so the two oldest
	// ids are gone even though nothing touched the newer ones.
	for _, gone := range []string{"id-0", "id-1"} {
		if c.Seen(gone) {
			t.Fatalf("%s should have been evicted", gone)
		}
	}
	for _, kept := range []string{"id-2", "id-3", "id-4", "id-5"} {
		if !c.Seen(kept) {
			t.Fatalf("%s should still be cached", kept)
		}
	}
}

func TestIdemCache_checkAndAddAdmitsOnce(t *testing.T) {
	c := newIdemCache(8)
	if !c.CheckAndAdd("a") {
		t.Fatal("first CheckAndAdd must report first use")
	}
	if c.CheckAndAdd("a") {
		t.Fatal("second CheckAndAdd must report a repeat")
	}

	c.Forget("a")
	if c.Seen("a") {
		t.Fatal("Forget must drop the id")
	}
	if !c.CheckAndAdd("a") {
		t.Fatal("a forgotten id must be admissible again")
	}
}

func TestIdemCache_checkAndAddConcurrent(t *testing.T) {
	c := newIdemCache(8)

	const n = 32
	admitted := make(chan bool, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			admitted <- c.CheckAndAdd("same-id")
		}()
	}
	wg.Wait()
	close(admitted)

	wins := 0
	for ok := range admitted {
		if ok {
			wins++
		}
	}
	if wins != 1 {
		t.Fatalf("%d callers admitted for one id, want exactly 1", wins)
	}
}

func TestIdemCache_evictedIDIsAdmittedAgain(t *testing.T) {
	c := newIdemCache(2)
	c.Add("first")
	c.Add("second")
	c.Add("third") // evicts "first"
	if c.Seen("first") {
		t.Fatal("first should have been evicted")
	}
	c.Add("first")
	if !c.Seen("first") {
		t.Fatal("evicted id should be admissible again")
	}
}
