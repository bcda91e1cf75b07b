// Package metrics exposes the spec §6 Prometheus surface: a fixed set of
// nexus_-prefixed counters/gauges/histograms plus a RuntimeStats aggregation
// for get_stats(). The collector struct (rather than package-level globals)
// is grounded on oriys-nova/internal/metrics.PrometheusMetrics, adapted away
// from that package's process-wide promMetrics singleton per spec §9's
// "avoid hidden singletons" requirement: the runtime owns one Metrics value,
// constructed at runtime.New and passed down explicitly.
package metrics

import (
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"

	"github.com/WorlesEnric/Nexus-sub001/internal/domain"
)

// durationBucketsUs are histogram buckets in microseconds, spanning typical
// handler durations from sub-millisecond to multi-second timeouts.
var durationBucketsUs = []float64{100, 500, 1000, 5000, 10000, 50000, 100000, 500000, 1000000, 5000000}

// Metrics owns the module's Prometheus collectors and the lightweight
// running totals behind get_stats() (spec §6).
type Metrics struct {
	registry *prometheus.Registry

	executionsTotal   *prometheus.CounterVec
	executionDuration prometheus.Histogram
	memoryPeak        prometheus.Gauge
	cacheHits         prometheus.Counter
	cacheMisses       prometheus.Counter
	compileDuration   prometheus.Histogram
	poolActive        prometheus.Gauge
	poolIdle          prometheus.Gauge
	poolSuspended     prometheus.Gauge
	capabilityDenied  *prometheus.CounterVec

	mu      sync.Mutex
	stats   domain.RuntimeStats
}

// New constructs a Metrics collector registered under its own registry, so
// multiple Runtime instances in the same process never collide on metric
// names (spec §9: "the compilation cache and pool are owned by the runtime
// instance, not by module globals").
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		executionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "nexus_handler_executions_total",
			Help: "Total handler executions by outcome status.",
		}, []string{"status"}),
		executionDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "nexus_handler_execution_duration_us",
			Help:    "Handler execution duration in microseconds.",
			Buckets: durationBucketsUs,
		}),
		memoryPeak: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "nexus_handler_memory_peak_bytes",
			Help: "Most recent handler execution's peak memory usage in bytes.",
		}),
		cacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "nexus_compile_cache_hits_total",
			Help: "Total compilation cache hits.",
		}),
		cacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "nexus_compile_cache_misses_total",
			Help: "Total compilation cache misses.",
		}),
		compileDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "nexus_compile_duration_us",
			Help:    "Handler compile duration in microseconds.",
			Buckets: durationBucketsUs,
		}),
		poolActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "nexus_pool_active",
			Help: "Sandbox instances currently borrowed for execution.",
		}),
		poolIdle: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "nexus_pool_idle",
			Help: "Sandbox instances idle in the pool.",
		}),
		poolSuspended: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "nexus_pool_suspended",
			Help: "Sandbox instances parked awaiting resumption.",
		}),
		capabilityDenied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "nexus_capability_denied_total",
			Help: "Total capability_denied errors by domain.",
		}, []string{"domain"}),
	}
	reg.MustRegister(
		m.executionsTotal, m.executionDuration, m.memoryPeak,
		m.cacheHits, m.cacheMisses, m.compileDuration,
		m.poolActive, m.poolIdle, m.poolSuspended, m.capabilityDenied,
	)
	return m
}

// RecordExecution records a completed handler execution's status and
// duration, and updates the running stats behind get_stats().
func (m *Metrics) RecordExecution(status domain.Status, result domain.Metrics) {
	m.executionsTotal.WithLabelValues(string(status)).Inc()
	m.executionDuration.Observe(float64(result.ExecutionDurationUs))
	m.memoryPeak.Set(float64(result.PeakMemoryBytes))

	m.mu.Lock()
	defer m.mu.Unlock()
	m.stats.TotalExecutions++
	switch status {
	case domain.StatusSuccess:
		m.stats.SuccessCount++
	case domain.StatusError:
		m.stats.ErrorCount++
	case domain.StatusSuspended:
		m.stats.SuspendedCount++
	}
	m.stats.TotalExecutionDurationUs += result.ExecutionDurationUs
	if result.PeakMemoryBytes > m.stats.PeakMemoryBytes {
		m.stats.PeakMemoryBytes = result.PeakMemoryBytes
	}
}

// RecordCompile records a compile cache lookup outcome.
func (m *Metrics) RecordCompile(hit bool, durationUs int64) {
	if hit {
		m.cacheHits.Inc()
	} else {
		m.cacheMisses.Inc()
	}
	m.compileDuration.Observe(float64(durationUs))

	m.mu.Lock()
	defer m.mu.Unlock()
	if hit {
		m.stats.CacheHits++
	} else {
		m.stats.CacheMisses++
	}
}

// RecordCapabilityDenied increments the capability_denied counter for the
// given capability domain.
func (m *Metrics) RecordCapabilityDenied(domainName string) {
	m.capabilityDenied.WithLabelValues(domainName).Inc()
}

// SetPoolGauges reflects the Instance Pool's current counters (spec §6).
func (m *Metrics) SetPoolGauges(active, idle, suspended int) {
	m.poolActive.Set(float64(active))
	m.poolIdle.Set(float64(idle))
	m.poolSuspended.Set(float64(suspended))

	m.mu.Lock()
	defer m.mu.Unlock()
	m.stats.PoolActive = active
	m.stats.PoolIdle = idle
	m.stats.PoolSuspended = suspended
}

// Stats returns a snapshot of the aggregated RuntimeStats (get_stats()).
func (m *Metrics) Stats() domain.RuntimeStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.stats
	if s.TotalExecutions > 0 {
		s.AverageExecutionDurationUs = s.TotalExecutionDurationUs / s.TotalExecutions
	}
	if total := s.CacheHits + s.CacheMisses; total > 0 {
		s.CacheHitRate = float64(s.CacheHits) / float64(total)
	}
	return s
}

// Gather renders the registry in Prometheus text exposition format
// (get_prometheus_metrics()).
func (m *Metrics) Gather() (string, error) {
	mfs, err := m.registry.Gather()
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	enc := expfmt.NewEncoder(&sb, expfmt.FmtText)
	for _, mf := range mfs {
		if err := enc.Encode(mf); err != nil {
			return "", err
		}
	}
	return sb.String(), nil
}
