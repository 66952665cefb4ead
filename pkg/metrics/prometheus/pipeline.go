// Package prometheus provides the backup pipeline's Prometheus
// collectors and the HTTP listener they are scraped from.
package prometheus

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Label constants for metrics.
const (
	LabelWiki   = "wiki"
	LabelStatus = "status"
)

// Metrics tracks backup pipeline progress: how many files reached each
// terminal backup status, how many bytes were written to the backup
// storage and how long claimed batches take.
type Metrics struct {
	filesTotal    *prometheus.CounterVec
	bytesTotal    *prometheus.CounterVec
	batchDuration prometheus.Histogram

	// Flag to track if metrics are registered
	registered bool
}

// NewMetrics creates and registers pipeline metrics.
// If registry is nil, metrics will be created but not registered
// (useful for testing). All observer methods accept a nil receiver, so
// a disabled pipeline can simply carry a nil *Metrics.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	m := &Metrics{
		filesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "mediabackups",
				Subsystem: "backup",
				Name:      "files_total",
				Help:      "Total number of files processed by the backup pipeline",
			},
			[]string{LabelWiki, LabelStatus},
		),

		bytesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "mediabackups",
				Subsystem: "backup",
				Name:      "bytes_total",
				Help:      "Total bytes uploaded to the backup storage",
			},
			[]string{LabelWiki},
		),

		batchDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "mediabackups",
				Subsystem: "backup",
				Name:      "batch_duration_seconds",
				Help:      "Time spent processing one claimed batch of files",
				Buckets:   []float64{1, 5, 15, 60, 300, 900, 3600},
			},
		),
	}

	// Register with registry if provided
	if registry != nil {
		registry.MustRegister(
			m.filesTotal,
			m.bytesTotal,
			m.batchDuration,
		)
		m.registered = true
	}

	return m
}

// ObserveFile records one file reaching a terminal backup status.
// Bytes are only counted for files actually written upstream, so
// callers pass 0 for duplicates and errors.
func (m *Metrics) ObserveFile(wiki, status string, bytes int64) {
	if m == nil {
		return
	}

	m.filesTotal.WithLabelValues(wiki, status).Inc()
	if bytes > 0 {
		m.bytesTotal.WithLabelValues(wiki).Add(float64(bytes))
	}
}

// ObserveBatch records the wall time of one claimed batch.
func (m *Metrics) ObserveBatch(seconds float64) {
	if m == nil {
		return
	}
	m.batchDuration.Observe(seconds)
}
