// Package metrics provides Prometheus metric collectors for the curation
// service components.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// LedgerMetrics contains Prometheus metrics for match and note writes.
type LedgerMetrics struct {
	matchWritesTotal    *prometheus.CounterVec
	matchConflictsTotal prometheus.Counter
	noteWritesTotal     prometheus.Counter
	writeDuration       *prometheus.HistogramVec
	matchedGauge        *prometheus.GaugeVec
}

// NewLedgerMetrics creates and registers the ledger metrics.
func NewLedgerMetrics(registry *prometheus.Registry) (*LedgerMetrics, error) {
	m := &LedgerMetrics{
		matchWritesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_match_writes_total",
				Help: "Total number of match writes by result",
			},
			[]string{"result"}, // result: matched, no_match, unmatched, conflict, error
		),
		matchConflictsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "ledger_match_conflicts_total",
				Help: "Total number of match writes rejected because the card was claimed",
			},
		),
		noteWritesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "ledger_note_writes_total",
				Help: "Total number of note writes",
			},
		),
		writeDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ledger_write_duration_seconds",
				Help:    "Time taken for ledger writes",
				Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
			},
			[]string{"operation"}, // operation: match, note
		),
		matchedGauge: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "ledger_decisions",
				Help: "Current number of stored decisions by kind",
			},
			[]string{"kind"}, // kind: matched, no_match
		),
	}

	collectors := []prometheus.Collector{
		m.matchWritesTotal,
		m.matchConflictsTotal,
		m.noteWritesTotal,
		m.writeDuration,
		m.matchedGauge,
	}
	for _, collector := range collectors {
		if err := registry.Register(collector); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// RecordMatchWrite counts one match write with its outcome.
func (m *LedgerMetrics) RecordMatchWrite(result string, duration time.Duration) {
	m.matchWritesTotal.WithLabelValues(result).Inc()
	m.writeDuration.WithLabelValues("match").Observe(duration.Seconds())
	if result == "conflict" {
		m.matchConflictsTotal.Inc()
	}
}

// RecordNoteWrite counts one note write.
func (m *LedgerMetrics) RecordNoteWrite(duration time.Duration) {
	m.noteWritesTotal.Inc()
	m.writeDuration.WithLabelValues("note").Observe(duration.Seconds())
}

// SetDecisionCounts updates the stored decision gauges.
func (m *LedgerMetrics) SetDecisionCounts(matched, noMatch int64) {
	m.matchedGauge.WithLabelValues("matched").Set(float64(matched))
	m.matchedGauge.WithLabelValues("no_match").Set(float64(noMatch))
}
