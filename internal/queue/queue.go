// Package queue is the sole write path into the ledger. Producers enqueue
// items onto a shared durable FIFO; a background drain loop, gated by
// lease-based leader election, pops items one at a time and applies them.
// Delivery into the queue is at-least-once and application is at-most-once
// via a bounded idempotency cache, so true exactly-once across a leader
// crash combined with cache loss is not guaranteed.
package queue

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/holdonravn/Privora-core/internal/coord"
	"github.com/holdonravn/Privora-core/internal/ledger"
	"github.com/holdonravn/Privora-core/internal/metrics"
)

const (
	// QueueName is the FIFO shared by every instance writing to one ledger.
	QueueName = "ledger-appends"

	defaultPollInterval = time.Second
	defaultCacheSize    = 4096
)

// Item is the wire shape pushed onto the coordination-store FIFO.
type Item struct {
	EventID string `json:"eventId"`
	File    string `json:"file"`
	Line    string `json:"line"`
}

// Config wires an AppendQueue. Store may be nil, in which case the queue
// runs in fallback mode: Enqueue appends directly instead of pushing onto
// a FIFO, guarded by the same idempotency cache the drain loop uses.
type Config struct {
	Store        coord.Store
	Elector      *coord.Elector
	Ledger       *ledger.Ledger
	Logger       *zap.Logger
	PollInterval time.Duration
	CacheSize    int
}

// AppendQueue serializes concurrent producers into single-writer ledger
// appends.
type AppendQueue struct {
	store   coord.Store
	elector *coord.Elector
	ledger  *ledger.Ledger
	logger  *zap.Logger
	poll    time.Duration
	cache   *idemCache

	mu     sync.Mutex
	closed bool
	stop   chan struct{}
	done   chan struct{}
}

// New builds an AppendQueue. The drain loop is not started until Start.
func New(cfg Config) *AppendQueue {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = defaultCacheSize
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &AppendQueue{
		store:   cfg.Store,
		elector: cfg.Elector,
		ledger:  cfg.Ledger,
		logger:  cfg.Logger,
		poll:    cfg.PollInterval,
		cache:   newIdemCache(cfg.CacheSize),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Enqueue submits one serialized record line for appending. An empty
// eventID gets a generated one, so every item is individually trackable
// by the idempotency cache.
//
// In coordination-store mode the item is pushed onto the shared FIFO and
// applied later by whichever instance holds the writer lease. In fallback
// mode the append happens inline.
func (q *AppendQueue) Enqueue(ctx context.Context, file, line, eventID string) (string, error) {
	if eventID == "" {
		eventID = uuid.NewString()
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return "", fmt.Errorf("enqueue %q: queue is closed", eventID)
	}
	q.mu.Unlock()

	if q.store == nil {
		if err := q.apply(ctx, Item{EventID: eventID, File: file, Line: line}); err != nil {
			return "", err
		}
		metrics.RecordEnqueue()
		return eventID, nil
	}

	raw, err := json.Marshal(Item{EventID: eventID, File: file, Line: line})
	if err != nil {
		return "", fmt.Errorf("marshal queue item %q: %w", eventID, err)
	}
	if err := q.store.Push(ctx, QueueName, raw); err != nil {
		return "", fmt.Errorf("push queue item %q: %w", eventID, err)
	}
	metrics.RecordEnqueue()
	return eventID, nil
}

// Start launches the drain loop. It is a no-op in fallback mode.
func (q *AppendQueue) Start() {
	if q.store == nil || q.elector == nil {
		close(q.done)
		return
	}
	go q.drain()
}

// drain is the cooperative loop consuming the FIFO. Leadership is
// re-evaluated against the store on every iteration rather than cached, to
// shrink the window in which a demoted instance could still write. Errors
// are counted and logged and the loop continues; a failed item is presumed
// lost under this policy, there is no internal redelivery.
func (q *AppendQueue) drain() {
	defer close(q.done)
	ticker := time.NewTicker(q.poll)
	defer ticker.Stop()

	for {
		select {
		case <-q.stop:
			return
		case <-ticker.C:
		}

		ctx, cancel := context.WithTimeout(context.Background(), q.poll*5)
		q.drainOne(ctx)
		cancel()
	}
}

func (q *AppendQueue) drainOne(ctx context.Context) {
	if !q.elector.IsLeader(ctx) {
		return
	}

	raw, ok, err := q.store.Pop(ctx, QueueName)
	if err != nil {
		metrics.RecordDrainError()
		q.logger.Warn("queue pop failed", zap.Error(err))
		return
	}
	if !ok {
		return
	}

	var item Item
	if err := json.Unmarshal(raw, &item); err != nil {
		metrics.RecordDrainError()
		q.logger.Warn("queue item is not valid JSON, dropping", zap.Error(err))
		return
	}

	if err := q.apply(ctx, item); err != nil {
		metrics.RecordDrainError()
		q.logger.Warn("queue item apply failed, item dropped",
			zap.String("eventId", item.EventID), zap.Error(err))
	}
}

// apply performs the idempotency-guarded ledger append for one item.
// Admission is a single check-and-set so concurrent fallback-mode callers
// with the same eventID cannot both append; a failed apply forgets the
// eventID again so a retried submission is admitted.
func (q *AppendQueue) apply(ctx context.Context, item Item) error {
	if !q.cache.CheckAndAdd(item.EventID) {
		metrics.RecordDuplicate()
		q.logger.Debug("duplicate event discarded", zap.String("eventId", item.EventID))
		return nil
	}

	rec, err := parseLine(item.Line)
	if err != nil {
		q.cache.Forget(item.EventID)
		return fmt.Errorf("parse line for event %q: %w", item.EventID, err)
	}
	if _, err := q.ledger.Append(ctx, rec); err != nil {
		q.cache.Forget(item.EventID)
		return fmt.Errorf("append event %q: %w", item.EventID, err)
	}
	return nil
}

// Close stops the drain loop and waits for any in-flight iteration to
// finish, then releases leadership. Appends are line-atomic, so closing
// mid-iteration at worst drops an item cleanly, never half-writes one.
func (q *AppendQueue) Close(ctx context.Context) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	q.mu.Unlock()

	close(q.stop)
	select {
	case <-q.done:
	case <-ctx.Done():
		return ctx.Err()
	}

	if q.elector != nil {
		return q.elector.Release(ctx)
	}
	return nil
}

// parseLine turns a producer's serialized record line into a ledger record.
// The line is a JSON object carrying the event kind under "t", an optional
// "createdAt" timestamp, and arbitrary business fields. Numbers are kept as
// json.Number so the canonical bytes hashed at append time match what the
// producer serialized.
func parseLine(line string) (*ledger.Record, error) {
	dec := json.NewDecoder(bytes.NewReader([]byte(line)))
	dec.UseNumber()

	var fields map[string]any
	if err := dec.Decode(&fields); err != nil {
		return nil, fmt.Errorf("decode record line: %w", err)
	}

	kindStr, _ := fields["t"].(string)
	kind := ledger.Kind(kindStr)
	if !kind.Valid() {
		return nil, fmt.Errorf("record line carries unknown event kind %q", kindStr)
	}
	delete(fields, "t")

	createdAt := time.Now().UTC()
	if s, ok := fields["createdAt"].(string); ok {
		ts, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return nil, fmt.Errorf("record line carries bad createdAt %q: %w", s, err)
		}
		createdAt = ts
	}
	delete(fields, "createdAt")

	return &ledger.Record{Kind: kind, CreatedAt: createdAt, Payload: fields}, nil
}
