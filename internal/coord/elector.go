package coord

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/holdonravn/Privora-core/internal/metrics"
)

// Elector elects a single writer among multiple service instances using a
// time-bound lease. It is a lease primitive, not a consensus protocol:
// under extreme clock skew or a network partition two instances can briefly
// both believe they lead (split-brain). That window is accepted — the
// drain loop re-checks leadership before every write to keep it small, and
// availability is preferred over strict mutual exclusion.
type Elector struct {
	store    Store
	resource string
	holder   string
	ttl      time.Duration
	logger   *zap.Logger

	mu       sync.Mutex
	leader   bool
	renewing bool
	stop     chan struct{}
	done     chan struct{}
}

// NewElector creates an elector for the named resource. Each Elector gets a
// unique holder identity; two electors never share a lease.
func NewElector(store Store, resource string, ttl time.Duration, logger *zap.Logger) *Elector {
	if ttl <= 0 {
		ttl = 15 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Elector{
		store:    store,
		resource: resource,
		holder:   uuid.NewString(),
		ttl:      ttl,
		logger:   logger,
	}
}

// Holder returns this elector's lease identity.
func (e *Elector) Holder() string { return e.holder }

// Acquire attempts to obtain the lease. On success the elector becomes
// leader and starts background renewal.
func (e *Elector) Acquire(ctx context.Context) (bool, error) {
	ok, err := e.store.AcquireLease(ctx, e.resource, e.holder, e.ttl)
	if err != nil {
		return false, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.leader = ok
	metrics.SetLeader(ok)
	if ok && !e.renewing {
		e.startRenewalLocked()
	}
	return ok, nil
}

// IsLeader re-evaluates leadership against the store rather than trusting a
// cached flag, shrinking the window in which a demoted instance could still
// write. A non-leader uses the same call to pick up a freed lease.
func (e *Elector) IsLeader(ctx context.Context) bool {
	ok, err := e.store.AcquireLease(ctx, e.resource, e.holder, e.ttl)
	if err != nil {
		e.logger.Warn("leadership check failed, demoting", zap.Error(err))
		ok = false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.leader = ok
	metrics.SetLeader(ok)
	if ok && !e.renewing {
		e.startRenewalLocked()
	}
	return ok
}

// Release relinquishes the lease on graceful shutdown. Best-effort: leases
// expire naturally, so skipping this is safe.
func (e *Elector) Release(ctx context.Context) error {
	e.mu.Lock()
	wasLeader := e.leader
	e.leader = false
	metrics.SetLeader(false)
	if e.renewing {
		close(e.stop)
		e.renewing = false
	}
	done := e.done
	e.mu.Unlock()

	if done != nil {
		<-done
	}
	if !wasLeader {
		return nil
	}
	return e.store.ReleaseLease(ctx, e.resource, e.holder)
}

// startRenewalLocked launches the background renewal loop. The interval is
// strictly shorter than the lease TTL so a healthy leader never lapses.
func (e *Elector) startRenewalLocked() {
	e.renewing = true
	e.stop = make(chan struct{})
	e.done = make(chan struct{})
	stop, done := e.stop, e.done

	interval := e.ttl / 3
	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), e.ttl/2)
				ok, err := e.store.RenewLease(ctx, e.resource, e.holder, e.ttl)
				cancel()
				if ok {
					continue
				}
				// Lease lost or store unreachable: demote immediately and
				// let IsLeader re-acquire if the lease frees up later.
				if err != nil {
					e.logger.Warn("lease renewal error, demoting", zap.Error(err))
				} else {
					e.logger.Warn("lease lost, demoting",
						zap.String("resource", e.resource),
						zap.String("holder", e.holder),
					)
				}
				e.mu.Lock()
				e.leader = false
				e.renewing = false
				e.mu.Unlock()
				metrics.SetLeader(false)
				return
			}
		}
	}()
}
