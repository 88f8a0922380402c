package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestMetrics(t *testing.T) *Metrics {
	t.Helper()
	return NewMetricsWithRegistry(DefaultConfig(), prometheus.NewRegistry())
}

func TestNewMetricsWithRegistry(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewMetricsWithRegistry(DefaultConfig(), registry)
	require.NotNil(t, m.ErrorsTotal)

	m.RecordError("network", "high")

	families, err := registry.Gather()
	require.NoError(t, err)

	names := make([]string, 0, len(families))
	for _, mf := range families {
		names = append(names, mf.GetName())
	}
	assert.Contains(t, names, "renderforge_resilience_errors_total")
}

func TestMetrics_Recording(t *testing.T) {
	m := newTestMetrics(t)

	m.RecordExecution("generate", "success", 100*time.Millisecond)
	m.RecordExecution("generate", "failure", 50*time.Millisecond)
	m.RecordRetry("generate")
	m.RecordError("network", "high")
	m.RecordRecovery("network", "success")
	m.RecordFallbackExecution("generate-chain", "success")
	m.UpdateBreakerState("comfyui", "OPEN", 1)
	m.UpdateDegradationLevel(2)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.ExecutionsTotal.WithLabelValues("generate", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ExecutionsTotal.WithLabelValues("generate", "failure")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RetriesTotal.WithLabelValues("generate")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ErrorsTotal.WithLabelValues("network", "high")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RecoveriesTotal.WithLabelValues("network", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.FallbackExecutionsTotal.WithLabelValues("generate-chain", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.BreakerState.WithLabelValues("comfyui")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.DegradationLevel))
}

func TestMetrics_DisabledIsNilSafe(t *testing.T) {
	m := NewMetricsWithRegistry(&Config{Enabled: false}, prometheus.NewRegistry())

	// None of these should panic
	m.RecordExecution("generate", "success", time.Second)
	m.RecordRetry("generate")
	m.RecordError("network", "high")
	m.RecordRecovery("network", "failure")
	m.RecordFallbackExecution("chain", "failure")
	m.UpdateBreakerState("comfyui", "OPEN", 1)
	m.UpdateDegradationLevel(1)
}
