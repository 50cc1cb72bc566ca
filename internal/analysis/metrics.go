package analysis

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes Prometheus collectors for analysis activity.
type Metrics struct {
	reports  *prometheus.CounterVec
	rejected *prometheus.CounterVec
	duration prometheus.Histogram
	history  *prometheus.CounterVec
	samples  *prometheus.CounterVec
}

// MustNewMetrics registers the analysis collectors on reg. Registering twice
// on the same registry panics, so tests should pass a fresh registry.
func MustNewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		reports: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "vitalsense",
			Subsystem: "analysis",
			Name:      "reports_total",
			Help:      "Completed analyses by persona and severity.",
		}, []string{"persona", "severity"}),
		rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "vitalsense",
			Subsystem: "analysis",
			Name:      "rejected_total",
			Help:      "Analysis requests that produced no report.",
		}, []string{"reason"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "vitalsense",
			Subsystem: "analysis",
			Name:      "duration_seconds",
			Help:      "Wall time of completed analyses, simulated latency included.",
			Buckets:   []float64{0.01, 0.1, 0.5, 1, 2, 3, 5},
		}),
		history: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "vitalsense",
			Subsystem: "analysis",
			Name:      "history_total",
			Help:      "Generated history series by trend.",
		}, []string{"trend"}),
		samples: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "vitalsense",
			Subsystem: "analysis",
			Name:      "samples_total",
			Help:      "Simulated live heart-rate samples by severity.",
		}, []string{"severity"}),
	}
	reg.MustRegister(m.reports, m.rejected, m.duration, m.history, m.samples)
	return m
}
