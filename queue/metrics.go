package queue

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes queue health to Prometheus. A nil *Metrics is a no-op so
// tests can construct queues without a registry.
type Metrics struct {
	depth     prometheus.Gauge
	jobsTotal *prometheus.CounterVec
	dropped   prometheus.Counter
	procTime  prometheus.Histogram
}

// NewMetrics registers the queue collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		depth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "sentinel",
			Subsystem: "queue",
			Name:      "depth",
			Help:      "Number of pending jobs across all priority bands.",
		}),
		jobsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sentinel",
			Subsystem: "queue",
			Name:      "jobs_total",
			Help:      "Jobs by terminal disposition.",
		}, []string{"state"}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "sentinel",
			Subsystem: "queue",
			Name:      "dropped_total",
			Help:      "Enqueue attempts rejected because the queue was full.",
		}),
		procTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "sentinel",
			Subsystem: "queue",
			Name:      "processing_seconds",
			Help:      "Job processing time from dequeue to completion.",
			Buckets:   prometheus.DefBuckets,
		}),
	}
	reg.MustRegister(m.depth, m.jobsTotal, m.dropped, m.procTime)
	return m
}

// SetDepth records the current pending depth.
func (m *Metrics) SetDepth(n int) {
	if m == nil {
		return
	}
	m.depth.Set(float64(n))
}

// IncState counts a job disposition (completed, failed, retried).
func (m *Metrics) IncState(state string) {
	if m == nil {
		return
	}
	m.jobsTotal.WithLabelValues(state).Inc()
}

// IncDropped counts a rejected enqueue.
func (m *Metrics) IncDropped() {
	if m == nil {
		return
	}
	m.dropped.Inc()
}

// ObserveProcessing records one job's processing time in seconds.
func (m *Metrics) ObserveProcessing(seconds float64) {
	if m == nil {
		return
	}
	m.procTime.Observe(seconds)
}
