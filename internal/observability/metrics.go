// ABOUTME: Prometheus metrics for update cycles and per-database outcomes
// ABOUTME: Nil-safe recorder so components can run without a registry

package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "cvdmirror"

// UpdateMetrics holds all Prometheus metrics for the mirror.
// A nil *UpdateMetrics is valid and records nothing.
type UpdateMetrics struct {
	CyclesTotal     *prometheus.CounterVec
	CycleDuration   prometheus.Histogram
	ResultsTotal    *prometheus.CounterVec
	PatchesWritten  *prometheus.CounterVec
	BytesDownloaded *prometheus.CounterVec
	CooldownSkips   *prometheus.CounterVec
	LocalVersion    *prometheus.GaugeVec
	LastSuccess     prometheus.Gauge
}

// NewUpdateMetrics creates the metrics and registers them with reg.
func NewUpdateMetrics(reg prometheus.Registerer) *UpdateMetrics {
	f := promauto.With(reg)

	return &UpdateMetrics{
		CyclesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "cycles_total",
			Help:      "Update cycles run, by outcome (ok or failed).",
		}, []string{"outcome"}),
		CycleDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "cycle_duration_seconds",
			Help:      "Wall time of one update cycle.",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 12),
		}),
		ResultsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "database_results_total",
			Help:      "Per-database cycle results by status.",
		}, []string{"database", "status"}),
		PatchesWritten: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "patches_written_total",
			Help:      "Incremental patch files written.",
		}, []string{"database"}),
		BytesDownloaded: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "downloaded_bytes_total",
			Help:      "Bytes written to disk by kind (patch or snapshot).",
		}, []string{"kind"}),
		CooldownSkips: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "cooldown_skips_total",
			Help:      "Databases skipped because a rate-limit cooldown was active.",
		}, []string{"database"}),
		LocalVersion: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "local_version",
			Help:      "Version of the local copy of each versioned database.",
		}, []string{"database"}),
		LastSuccess: f.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time of the last cycle that finished without errors.",
		}),
	}
}

// ObserveCycle records a finished cycle.
func (m *UpdateMetrics) ObserveCycle(errors int, elapsed time.Duration, finished time.Time) {
	if m == nil {
		return
	}
	outcome := "ok"
	if errors > 0 {
		outcome = "failed"
	} else {
		m.LastSuccess.Set(float64(finished.Unix()))
	}
	m.CyclesTotal.WithLabelValues(outcome).Inc()
	m.CycleDuration.Observe(elapsed.Seconds())
}

// ObserveResult records the final status of one database.
func (m *UpdateMetrics) ObserveResult(database, status string) {
	if m == nil {
		return
	}
	m.ResultsTotal.WithLabelValues(database, status).Inc()
}

// ObservePatch records one written patch of size bytes.
func (m *UpdateMetrics) ObservePatch(database string, size int) {
	if m == nil {
		return
	}
	m.PatchesWritten.WithLabelValues(database).Inc()
	m.BytesDownloaded.WithLabelValues("patch").Add(float64(size))
}

// ObserveSnapshot records one written snapshot of size bytes.
func (m *UpdateMetrics) ObserveSnapshot(size int) {
	if m == nil {
		return
	}
	m.BytesDownloaded.WithLabelValues("snapshot").Add(float64(size))
}

// ObserveCooldownSkip records a database skipped for cooldown.
func (m *UpdateMetrics) ObserveCooldownSkip(database string) {
	if m == nil {
		return
	}
	m.CooldownSkips.WithLabelValues(database).Inc()
}

// SetLocalVersion publishes the local version of a database.
func (m *UpdateMetrics) SetLocalVersion(database string, version int) {
	if m == nil {
		return
	}
	m.LocalVersion.WithLabelValues(database).Set(float64(version))
}
