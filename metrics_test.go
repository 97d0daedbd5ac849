package leadguard

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsCounters(t *testing.T) {
	m := NewInMemoryMetricsCollector()

	m.IncrementCounter("requests_total", nil)
	m.IncrementCounter("requests_total", nil)
	m.IncrementCounter("requests_total", map[string]string{"outcome": "accepted"})

	assert.Equal(t, int64(2), m.CounterValue("requests_total", nil))
	assert.Equal(t, int64(1), m.CounterValue("requests_total", map[string]string{"outcome": "accepted"}))
	assert.Equal(t, int64(0), m.CounterValue("requests_total", map[string]string{"outcome": "rejected"}))
	assert.Equal(t, int64(0), m.CounterValue("never_seen", nil))
}

func TestMetricsLabelOrderIsCanonical(t *testing.T) {
	m := NewInMemoryMetricsCollector()
	m.IncrementCounter("c", map[string]string{"a": "1", "b": "2"})
	m.IncrementCounter("c", map[string]string{"b": "2", "a": "1"})
	assert.Equal(t, int64(2), m.CounterValue("c", map[string]string{"a": "1", "b": "2"}))
}

func TestMetricsPrometheusExport(t *testing.T) {
	m := NewInMemoryMetricsCollector()
	m.IncrementCounter("inquiry_submissions_total", map[string]string{"outcome": "accepted"})
	m.SetGauge("guard_last_sweep_removed", 3, nil)

	out := m.ExportPrometheus()
	assert.Contains(t, out, "# TYPE inquiry_submissions_total counter")
	assert.Contains(t, out, `inquiry_submissions_total{outcome="accepted"} 1`)
	assert.Contains(t, out, "# TYPE guard_last_sweep_removed gauge")
	assert.Contains(t, out, "guard_last_sweep_removed 3")

	require.NoError(t, m.HealthCheck())
}

func TestMetricsExportEmpty(t *testing.T) {
	m := NewInMemoryMetricsCollector()
	assert.Empty(t, m.ExportPrometheus())
}
