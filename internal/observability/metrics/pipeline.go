package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PipelineMetrics contains Prometheus metrics for exports, imports, and
// snapshots.
type PipelineMetrics struct {
	exportsTotal     *prometheus.CounterVec
	importsTotal     *prometheus.CounterVec
	snapshotsTotal   *prometheus.CounterVec
	snapshotDuration prometheus.Histogram
}

// NewPipelineMetrics creates and registers the pipeline metrics.
func NewPipelineMetrics(registry *prometheus.Registry) (*PipelineMetrics, error) {
	m := &PipelineMetrics{
		exportsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pipeline_exports_total",
				Help: "Total number of export generations by status",
			},
			[]string{"status"}, // status: success, error
		),
		importsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pipeline_imports_total",
				Help: "Total number of import runs by status",
			},
			[]string{"status"},
		),
		snapshotsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pipeline_snapshots_total",
				Help: "Total number of database snapshots by category and status",
			},
			[]string{"category", "status"},
		),
		snapshotDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "pipeline_snapshot_duration_seconds",
				Help:    "Time taken for database snapshots",
				Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
			},
		),
	}

	collectors := []prometheus.Collector{
		m.exportsTotal,
		m.importsTotal,
		m.snapshotsTotal,
		m.snapshotDuration,
	}
	for _, collector := range collectors {
		if err := registry.Register(collector); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// RecordExport counts one export generation.
func (m *PipelineMetrics) RecordExport(status string) {
	m.exportsTotal.WithLabelValues(status).Inc()
}

// RecordImport counts one import run.
func (m *PipelineMetrics) RecordImport(status string) {
	m.importsTotal.WithLabelValues(status).Inc()
}

// RecordSnapshot counts one snapshot attempt.
func (m *PipelineMetrics) RecordSnapshot(category, status string, duration time.Duration) {
	m.snapshotsTotal.WithLabelValues(category, status).Inc()
	m.snapshotDuration.Observe(duration.Seconds())
}
