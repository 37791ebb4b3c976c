package queue_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/holdonravn/Privora-core/internal/coord"
	"github.com/holdonravn/Privora-core/internal/ledger"
	"github.com/holdonravn/Privora-core/internal/queue"
)

func openLedger(t *testing.T) *ledger.Ledger {
	t.Helper()
	l, err := ledger.Open(ledger.Config{Dir: t.TempDir()}, zap.NewNop())
	if err != nil {
		t.Fatalf("open ledger: %v", err)
	}
	t.Cleanup(func() { l.Close() })
	return l
}

func newQueue(t *testing.T, store coord.Store, l *ledger.Ledger) *queue.AppendQueue {
	t.Helper()
	cfg := queue.Config{
		Store:        store,
		Ledger:       l,
		Logger:       zap.NewNop(),
		PollInterval: 10 * time.Millisecond,
	}
	if store != nil {
		cfg.Elector = coord.NewElector(store, "writer", time.Second, zap.NewNop())
	}
	q := queue.New(cfg)
	q.Start()
	t.Cleanup(func() { q.Close(context.Background()) })
	return q
}

func waitForLeaves(t *testing.T, l *ledger.Ledger, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if l.LeafCount() >= want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("ledger has %d leaves, want %d", l.LeafCount(), want)
}

func TestEnqueue_drainAppends(t *testing.T) {
	l := openLedger(t)
	store := coord.NewMemoryStore(0)
	q := newQueue(t, store, l)

	line := `{"t":"pc","createdAt":"2026-08-30T12:00:00Z","proofId":"p-1","score":42}`
	id, err := q.Enqueue(context.Background(), "", line, "evt-1")
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if id != "evt-1" {
		t.Fatalf("got event id %q, want evt-1", id)
	}

	waitForLeaves(t, l, 1)
}

func TestEnqueue_duplicateEventIDAppendsOnce(t *testing.T) {
	l := openLedger(t)
	store := coord.NewMemoryStore(0)
	q := newQueue(t, store, l)

	line := `{"t":"do","createdAt":"2026-08-30T12:00:00Z","disputeId":"d-9"}`
	for i := 0; i < 2; i++ {
		if _, err := q.Enqueue(context.Background(), "", line, "evt-dup"); err != nil {
			t.Fatalf("enqueue %d: %v", i, err)
		}
	}

	waitForLeaves(t, l, 1)

	// Give the drain loop time to pop the duplicate as well.
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) && store.QueueLen(queue.QueueName) > 0 {
		time.Sleep(5 * time.Millisecond)
	}
	if n := l.LeafCount(); n != 1 {
		t.Fatalf("ledger has %d leaves after duplicate enqueue, want 1", n)
	}
}

func TestEnqueue_generatedEventID(t *testing.T) {
	l := openLedger(t)
	q := newQueue(t, nil, l)

	line := `{"t":"px","createdAt":"2026-08-30T12:00:00Z","supersedes":"p-1"}`
	id, err := q.Enqueue(context.Background(), "", line, "")
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if id == "" {
		t.Fatal("expected a generated event id")
	}
	if n := l.LeafCount(); n != 1 {
		t.Fatalf("ledger has %d leaves, want 1", n)
	}
}

func TestEnqueue_fallbackModeDeduplicates(t *testing.T) {
	l := openLedger(t)
	q := newQueue(t, nil, l)

	line := `{"t":"du","createdAt":"2026-08-30T12:00:00Z","disputeId":"d-9","status":"resolved"}`
	for i := 0; i < 3; i++ {
		if _, err := q.Enqueue(context.Background(), "", line, "evt-fb"); err != nil {
			t.Fatalf("enqueue %d: %v", i, err)
		}
	}
	if n := l.LeafCount(); n != 1 {
		t.Fatalf("ledger has %d leaves after repeated fallback enqueue, want 1", n)
	}
}

func TestEnqueue_fallbackModeConcurrentDuplicates(t *testing.T) {
	l := openLedger(t)
	q := newQueue(t, nil, l)

	// Concurrent producers retrying the same eventId race the idempotency
	// check; exactly one append may land.
	line := `{"t":"pc","createdAt":"2026-08-30T12:00:00Z","proofId":"p-race"}`
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			q.Enqueue(context.Background(), "", line, "evt-race")
		}()
	}
	wg.Wait()

	if n := l.LeafCount(); n != 1 {
		t.Fatalf("ledger has %d leaves after concurrent duplicate enqueue, want 1", n)
	}
}

func TestEnqueue_badLineSurfacesInFallbackMode(t *testing.T) {
	l := openLedger(t)
	q := newQueue(t, nil, l)

	if _, err := q.Enqueue(context.Background(), "", `{"t":"nope"}`, ""); err == nil {
		t.Fatal("expected error for unknown event kind")
	}
	if _, err := q.Enqueue(context.Background(), "", `not json`, ""); err == nil {
		t.Fatal("expected error for malformed line")
	}
	if n := l.LeafCount(); n != 0 {
		t.Fatalf("ledger has %d leaves, want 0", n)
	}
}

func TestClose_whileDraining(t *testing.T) {
	l := openLedger(t)
	store := coord.NewMemoryStore(0)
	q := newQueue(t, store, l)

	for i := 0; i < 5; i++ {
		line := `{"t":"pc","createdAt":"2026-08-30T12:00:00Z","proofId":"p-close"}`
		if _, err := q.Enqueue(context.Background(), "", line, ""); err != nil {
			t.Fatalf("enqueue %d: %v", i, err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := q.Close(ctx); err != nil {
		t.Fatalf("close: %v", err)
	}
	// A second close is a no-op.
	if err := q.Close(ctx); err != nil {
		t.Fatalf("second close: %v", err)
	}

	if _, err := q.Enqueue(context.Background(), "", `{"t":"pc"}`, ""); err == nil {
		t.Fatal("expected enqueue on a closed queue to fail")
	}
}
