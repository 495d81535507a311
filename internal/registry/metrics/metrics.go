// Package metrics registers the prometheus instruments for the registry
// core. A single Metrics value satisfies the metrics interfaces of the
// identity, merge, and suspicion services.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"civreg/internal/registry/models"
)

// Metrics provides observability for the registry core.
type Metrics struct {
	// Identity mutations by operation and result
	Mutations *prometheus.CounterVec

	// Creations and imports rejected by a blocking duplicate rule
	BlockedDuplicates *prometheus.CounterVec

	// Merge and cancel-merge operations
	Merges *prometheus.CounterVec

	// Suspicion rows recorded or refreshed
	Suspicions prometheus.Counter

	// Lock attempts rejected because another author holds the lock
	LockConflicts prometheus.Counter
}

// New creates a Metrics instance with all registry metrics registered on the
// default registerer.
func New() *Metrics {
	return &Metrics{
		Mutations: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "civreg_identity_mutations_total",
			Help: "Total identity mutations by operation and result",
		}, []string{"op", "result"}), // op: "create", "update", "import", "soft_delete", "purge"

		BlockedDuplicates: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "civreg_identity_duplicates_blocked_total",
			Help: "Total mutations rejected by a blocking duplicate rule",
		}, []string{"rule"}),

		Merges: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "civreg_identity_merges_total",
			Help: "Total merge operations by kind",
		}, []string{"op"}), // op: "merge", "cancel"

		Suspicions: promauto.NewCounter(prometheus.CounterOpts{
			Name: "civreg_suspicions_recorded_total",
			Help: "Total suspicion rows recorded or refreshed",
		}),

		LockConflicts: promauto.NewCounter(prometheus.CounterOpts{
			Name: "civreg_suspicion_lock_conflicts_total",
			Help: "Total lock attempts rejected because another author holds the lock",
		}),
	}
}

// MutationObserved records one identity mutation.
func (m *Metrics) MutationObserved(op string, result models.RequestResult) {
	if m != nil {
		m.Mutations.WithLabelValues(op, string(result)).Inc()
	}
}

// DuplicateBlocked records a mutation stopped by a blocking rule.
func (m *Metrics) DuplicateBlocked(ruleCode string) {
	if m != nil {
		m.BlockedDuplicates.WithLabelValues(ruleCode).Inc()
	}
}

// MergeObserved records a merge or cancel-merge.
func (m *Metrics) MergeObserved(op string) {
	if m != nil {
		m.Merges.WithLabelValues(op).Inc()
	}
}

// SuspicionRecorded records one suspicion upsert.
func (m *Metrics) SuspicionRecorded() {
	if m != nil {
		m.Suspicions.Inc()
	}
}

// LockConflict records a rejected lock attempt.
func (m *Metrics) LockConflict() {
	if m != nil {
		m.LockConflicts.Inc()
	}
}
