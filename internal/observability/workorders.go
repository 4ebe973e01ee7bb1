package observability

import "github.com/prometheus/client_golang/prometheus"

// WorkOrderMetrics counts work-order writes, optimistic-concurrency retries
// and lifecycle transitions. A nil receiver records nothing.
type WorkOrderMetrics struct {
	created     *prometheus.CounterVec
	mutations   *prometheus.CounterVec
	conflicts   *prometheus.CounterVec
	transitions *prometheus.CounterVec
}

func newWorkOrderMetrics(reg prometheus.Registerer) *WorkOrderMetrics {
	m := &WorkOrderMetrics{
		created: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "odyssey_mfg_workorders_created_total",
			Help: "Work orders created, by work order type.",
		}, []string{"type"}),
		mutations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "odyssey_mfg_workorder_mutations_total",
			Help: "Work order write attempts by operation and outcome.",
		}, []string{"operation", "outcome"}),
		conflicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "odyssey_mfg_workorder_version_conflicts_total",
			Help: "Stale-version writes that were re-read and retried.",
		}, []string{"operation"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "odyssey_mfg_workorder_transitions_total",
			Help: "Lifecycle transitions applied.",
		}, []string{"from", "to"}),
	}
	reg.MustRegister(m.created, m.mutations, m.conflicts, m.transitions)
	return m
}

// RecordCreated counts a new work order.
func (m *WorkOrderMetrics) RecordCreated(workOrderType string) {
	if m == nil {
		return
	}
	m.created.WithLabelValues(workOrderType).Inc()
}

// RecordMutation counts one finished write.
func (m *WorkOrderMetrics) RecordMutation(operation, outcome string) {
	if m == nil {
		return
	}
	m.mutations.WithLabelValues(operation, outcome).Inc()
}

// RecordConflict counts one stale-version retry.
func (m *WorkOrderMetrics) RecordConflict(operation string) {
	if m == nil {
		return
	}
	m.conflicts.WithLabelValues(operation).Inc()
}

// RecordTransition counts one lifecycle move.
func (m *WorkOrderMetrics) RecordTransition(from, to string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(from, to).Inc()
}
