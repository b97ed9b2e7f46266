// Package metrics records store, cache and audit activity as Prometheus
// collectors on the default registry.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	cacheLookupsTotal  *prometheus.CounterVec
	cacheErrorsTotal   *prometheus.CounterVec
	l2Degraded         prometheus.Gauge
	commitDuration     *prometheus.HistogramVec
	writesTotal        *prometheus.CounterVec
	decryptFailures    *prometheus.CounterVec
	auditDroppedTotal  *prometheus.CounterVec
	reencryptedEntries prometheus.Counter

	metricsOnce       sync.Once
	metricsRegistered bool
)

// Metrics records cfgstore metrics. The zero value is usable; calls are
// no-ops until InitMetrics runs.
type Metrics struct{}

// New returns a Metrics recorder.
func New() *Metrics {
	return &Metrics{}
}

// InitMetrics registers all collectors. Safe to call more than once.
func InitMetrics() {
	metricsOnce.Do(func() {
		cacheLookupsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cfgstore_cache_lookups_total",
				Help: "Cache lookups by tier and result (hit or miss)",
			},
			[]string{"tier", "result"},
		)

		cacheErrorsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cfgstore_cache_errors_total",
				Help: "Non-fatal cache tier failures",
			},
			[]string{"tier", "op"},
		)

		l2Degraded = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "cfgstore_cache_l2_degraded",
				Help: "1 while the L2 cache is bypassed after a failure",
			},
		)

		commitDuration = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "cfgstore_store_commit_duration_seconds",
				Help:    "Duration of version store commits, including lock wait",
				Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
			},
			[]string{"op", "status"},
		)

		writesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cfgstore_writes_total",
				Help: "Acknowledged writes by action and environment",
			},
			[]string{"action", "environment"},
		)

		decryptFailures = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cfgstore_decrypt_failures_total",
				Help: "Secret decryption failures by kind",
			},
			[]string{"kind"},
		)

		auditDroppedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cfgstore_audit_dropped_total",
				Help: "Audit events that could not be delivered",
			},
			[]string{"sink"},
		)

		reencryptedEntries = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "cfgstore_reencrypted_entries_total",
				Help: "Secret versions re-encrypted by key rotation",
			},
		)

		metricsRegistered = true
	})
}

// RecordCacheLookup counts a lookup against one tier.
func (m *Metrics) RecordCacheLookup(tier string, hit bool) {
	if !metricsRegistered {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	cacheLookupsTotal.WithLabelValues(tier, result).Inc()
}

// RecordCacheError counts a swallowed cache failure.
func (m *Metrics) RecordCacheError(tier, op string) {
	if !metricsRegistered {
		return
	}
	cacheErrorsTotal.WithLabelValues(tier, op).Inc()
}

// SetL2Degraded flips the degraded gauge.
func (m *Metrics) SetL2Degraded(degraded bool) {
	if !metricsRegistered {
		return
	}
	value := 0.0
	if degraded {
		value = 1.0
	}
	l2Degraded.Set(value)
}

// RecordCommit observes a store commit.
func (m *Metrics) RecordCommit(op string, ok bool, durationSeconds float64) {
	if !metricsRegistered {
		return
	}
	status := "ok"
	if !ok {
		status = "error"
	}
	commitDuration.WithLabelValues(op, status).Observe(durationSeconds)
}

// RecordWrite counts an acknowledged manager write.
func (m *Metrics) RecordWrite(action, environment string) {
	if !metricsRegistered {
		return
	}
	writesTotal.WithLabelValues(action, environment).Inc()
}

// RecordDecryptFailure counts a failed decryption.
func (m *Metrics) RecordDecryptFailure(kind string) {
	if !metricsRegistered {
		return
	}
	decryptFailures.WithLabelValues(kind).Inc()
}

// RecordAuditDropped counts an undeliverable audit event.
func (m *Metrics) RecordAuditDropped(sink string) {
	if !metricsRegistered {
		return
	}
	auditDroppedTotal.WithLabelValues(sink).Inc()
}

// RecordReencrypted counts re-encrypted secret versions.
func (m *Metrics) RecordReencrypted(n int) {
	if !metricsRegistered {
		return
	}
	reencryptedEntries.Add(float64(n))
}

// WriteTextfile dumps the default registry in the node-exporter textfile
// format.
func WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, prometheus.DefaultGatherer)
}
