// Package coord provides the coordination primitives that let multiple
// stateless service instances share one ledger safely: a lease-based leader
// elector, a durable FIFO, and the exactly-once nonce admission check.
//
// Everything runs against the Store interface. PostgresStore is the
// production implementation; MemoryStore serves tests and single-instance
// deployments. None of this is a consensus protocol — see Elector for the
// accepted split-brain caveat.
package coord

import (
	"context"
	"time"
)

// Store is the shared coordination backend.
type Store interface {
	// AcquireLease grants a time-bound exclusive claim on name. It succeeds
	// when the lease is free, expired, or already held by this holder (in
	// which case the lease is extended).
	AcquireLease(ctx context.Context, name, holder string, ttl time.Duration) (bool, error)

	// RenewLease extends a live lease held by holder. Returns false when the
	// lease was lost (expired or taken over).
	RenewLease(ctx context.Context, name, holder string, ttl time.Duration) (bool, error)

	// ReleaseLease relinquishes the lease if holder still owns it.
	ReleaseLease(ctx context.Context, name, holder string) error

	// Push appends an item to the named FIFO.
	Push(ctx context.Context, queue string, item []byte) error

	// Pop removes and returns the oldest item of the named FIFO. The second
	// return is false when the queue is empty.
	Pop(ctx context.Context, queue string) ([]byte, bool, error)

	NonceStore
}

// NonceStore is the exactly-once admission primitive the authentication
// layer builds its anti-replay check on. Its contract is load-bearing for
// the ledger's non-repudiation story: a key is admitted exactly once per
// TTL window.
type NonceStore interface {
	// CheckAndSetNonce atomically admits key if absent: true on first use,
	// false on any repeat within the TTL window.
	CheckAndSetNonce(ctx context.Context, key string, ttl time.Duration) (bool, error)
}
