// Package metrics holds the Prometheus instruments for the proof-ledger
// service. Counters are package-level so the ledger, queue and server
// layers can record without threading a registry through every
// constructor.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ledgerAppendsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "privora_ledger_appends_total",
		Help: "Total ledger records appended, by event kind.",
	}, []string{"kind"})

	ledgerSnapshotsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "privora_ledger_snapshots_total",
		Help: "Total root snapshot / leaf index persists.",
	})

	queueEnqueuedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "privora_queue_enqueued_total",
		Help: "Total items accepted into the append queue.",
	})

	queueDuplicatesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "privora_queue_duplicates_total",
		Help: "Total items discarded as already-applied duplicates.",
	})

	drainErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "privora_drain_errors_total",
		Help: "Total drain-loop iterations that failed. The loop continues; failed items are presumed lost.",
	})

	leaderGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "privora_leader",
		Help: "1 while this instance holds the writer lease, else 0.",
	})

	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "privora_requests_total",
		Help: "Total HTTP requests by method, path, and response status.",
	}, []string{"method", "path", "status"})
)

// RecordAppend records one ledger append of the given event kind.
func RecordAppend(kind string) { ledgerAppendsTotal.WithLabelValues(kind).Inc() }

// RecordSnapshot records one snapshot persist.
func RecordSnapshot() { ledgerSnapshotsTotal.Inc() }

// RecordEnqueue records one accepted queue item.
func RecordEnqueue() { queueEnqueuedTotal.Inc() }

// RecordDuplicate records one suppressed duplicate.
func RecordDuplicate() { queueDuplicatesTotal.Inc() }

// RecordDrainError records one failed drain iteration.
func RecordDrainError() { drainErrorsTotal.Inc() }

// SetLeader flips the leadership gauge.
func SetLeader(isLeader bool) {
	if isLeader {
		leaderGauge.Set(1)
	} else {
		leaderGauge.Set(0)
	}
}

// RecordRequest records one served HTTP request.
func RecordRequest(method, path, status string) {
	requestsTotal.WithLabelValues(method, path, status).Inc()
}
