// Package metrics holds the Prometheus collectors exported on /metrics.
// A nil *Metrics is valid and records nothing.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics groups counters for identity and session outcomes.
type Metrics struct {
	reconcile   *prometheus.CounterVec
	session     *prometheus.CounterVec
	revocations *prometheus.CounterVec
	unlink      *prometheus.CounterVec
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		reconcile: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "linkgate_reconcile_total",
			Help: "Identity reconciliations by provider and outcome",
		}, []string{"provider", "outcome"}), // outcome: created|updated|reactivated|failed
		session: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "linkgate_session_operations_total",
			Help: "Session lifecycle operations by result",
		}, []string{"op", "result"}),
		revocations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "linkgate_revocations_total",
			Help: "Access token denylist writes by reason and result",
		}, []string{"reason", "result"}), // result: stored|skipped|failed
		unlink: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "linkgate_unlink_calls_total",
			Help: "Outbound provider calls made while unlinking accounts",
		}, []string{"provider", "stage", "result"}), // stage: refresh|revoke
	}
	if reg != nil {
		reg.MustRegister(m.reconcile, m.session, m.revocations, m.unlink)
	}
	return m
}

func (m *Metrics) Reconcile(provider, outcome string) {
	if m == nil {
		return
	}
	m.reconcile.WithLabelValues(provider, outcome).Inc()
}

func (m *Metrics) Session(op, result string) {
	if m == nil {
		return
	}
	m.session.WithLabelValues(op, result).Inc()
}

func (m *Metrics) Revocation(reason, result string) {
	if m == nil {
		return
	}
	m.revocations.WithLabelValues(reason, result).Inc()
}

func (m *Metrics) Unlink(provider, stage, result string) {
	if m == nil {
		return
	}
	m.unlink.WithLabelValues(provider, stage, result).Inc()
}
