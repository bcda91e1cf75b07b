package metrics

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/WorlesEnric/Nexus-sub001/internal/domain"
)

func TestRecordExecution_UpdatesStats(t *testing.T) {
	m := New()
	m.RecordExecution(domain.StatusSuccess, domain.Metrics{ExecutionDurationUs: 100, PeakMemoryBytes: 1024})
	m.RecordExecution(domain.StatusError, domain.Metrics{ExecutionDurationUs: 300, PeakMemoryBytes: 2048})
	m.RecordExecution(domain.StatusSuspended, domain.Metrics{ExecutionDurationUs: 50})

	stats := m.Stats()
	assert.Equal(t, int64(3), stats.TotalExecutions)
	assert.Equal(t, int64(1), stats.SuccessCount)
	assert.Equal(t, int64(1), stats.ErrorCount)
	assert.Equal(t, int64(1), stats.SuspendedCount)
	assert.Equal(t, int64(450), stats.TotalExecutionDurationUs)
	assert.Equal(t, int64(150), stats.AverageExecutionDurationUs)
	assert.Equal(t, int64(2048), stats.PeakMemoryBytes)
}

func TestRecordCompile_TracksHitRate(t *testing.T) {
	m := New()
	m.RecordCompile(true, 10)
	m.RecordCompile(false, 20)
	m.RecordCompile(true, 5)

	stats := m.Stats()
	assert.Equal(t, int64(2), stats.CacheHits)
	assert.Equal(t, int64(1), stats.CacheMisses)
	assert.InDelta(t, 2.0/3.0, stats.CacheHitRate, 1e-9)
}

func TestSetPoolGauges_ReflectedInStats(t *testing.T) {
	m := New()
	m.SetPoolGauges(3, 2, 1)
	stats := m.Stats()
	assert.Equal(t, 3, stats.PoolActive)
	assert.Equal(t, 2, stats.PoolIdle)
	assert.Equal(t, 1, stats.PoolSuspended)
}

func TestGather_RendersPrometheusTextFormat(t *testing.T) {
	m := New()
	m.RecordExecution(domain.StatusSuccess, domain.Metrics{ExecutionDurationUs: 10})
	m.RecordCapabilityDenied("state")

	text, err := m.Gather()
	require.NoError(t, err)
	assert.Contains(t, text, "nexus_handler_executions_total")
	assert.Contains(t, text, "nexus_capability_denied_total")
	assert.True(t, strings.Contains(text, `status="success"`))
}

func TestNew_SeparateRegistriesDoNotCollide(t *testing.T) {
	m1 := New()
	m2 := New()
	m1.RecordExecution(domain.StatusSuccess, domain.Metrics{})
	_, err := m2.Gather()
	require.NoError(t, err, "two independent Metrics instances must not collide on Prometheus metric names")
}
