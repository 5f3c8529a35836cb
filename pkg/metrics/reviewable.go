package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcome labels.
const (
	OutcomeSuccess  = "success"
	OutcomeConflict = "conflict"
	OutcomeRejected = "rejected"
	OutcomeFailed   = "failed"
	OutcomeError    = "error"
)

var (
	// ReviewableActions counts performed actions by kind, action and outcome.
	ReviewableActions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reviewable_actions_total",
			Help: "Reviewable actions performed by kind, action and outcome",
		},
		[]string{"kind", "action", "outcome"},
	)

	// ReviewableUpdates counts field edit batches by kind and outcome.
	ReviewableUpdates = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reviewable_updates_total",
			Help: "Reviewable field edit batches by kind and outcome",
		},
		[]string{"kind", "outcome"},
	)

	// UpdateConflicts counts optimistic version mismatches by operation.
	UpdateConflicts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reviewable_update_conflicts_total",
			Help: "Optimistic concurrency conflicts by operation",
		},
		[]string{"operation"},
	)

	// QueryLatency tracks listing, counting and topic aggregation latency.
	QueryLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "reviewable_query_duration_seconds",
			Help:    "Latency of review queue queries",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"query"},
	)

	// OutboxDelivered counts relayed notifications by result.
	OutboxDelivered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reviewable_outbox_delivered_total",
			Help: "Outbox notifications relayed to the event bus by result",
		},
		[]string{"result"},
	)
)

// ObserveQuery records the latency of a query started at start.
func ObserveQuery(query string, start time.Time) {
	QueryLatency.WithLabelValues(query).Observe(time.Since(start).Seconds())
}
