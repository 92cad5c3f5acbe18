package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes pipeline outcomes to Prometheus. A nil *Metrics is a
// no-op.
type Metrics struct {
	outcomes      *prometheus.CounterVec
	alerts        *prometheus.CounterVec
	enrichFailure *prometheus.CounterVec
}

// NewMetrics registers the pipeline collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sentinel",
			Subsystem: "pipeline",
			Name:      "events_total",
			Help:      "Events by processing outcome.",
		}, []string{"outcome"}),
		alerts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sentinel",
			Subsystem: "pipeline",
			Name:      "alerts_total",
			Help:      "Alerts persisted by severity.",
		}, []string{"severity"}),
		enrichFailure: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sentinel",
			Subsystem: "pipeline",
			Name:      "enrichment_failures_total",
			Help:      "Enrichment capability failures by capability.",
		}, []string{"capability"}),
	}
	reg.MustRegister(m.outcomes, m.alerts, m.enrichFailure)
	return m
}

// IncOutcome counts one event outcome (discarded, parse_fallback,
// persisted).
func (m *Metrics) IncOutcome(outcome string) {
	if m == nil {
		return
	}
	m.outcomes.WithLabelValues(outcome).Inc()
}

// IncAlert counts one persisted alert by severity.
func (m *Metrics) IncAlert(severity string) {
	if m == nil {
		return
	}
	m.alerts.WithLabelValues(severity).Inc()
}

// IncEnrichFailure counts one capability failure.
func (m *Metrics) IncEnrichFailure(capability string) {
	if m == nil {
		return
	}
	m.enrichFailure.WithLabelValues(capability).Inc()
}
