package telemetry

import (
	"testing"

	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func metricValue(t *testing.T, m *Metrics, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := m.Registry().Gather()
	require.NoError(t, err)
	for _, fam := range families {
		if fam.GetName() != name {
			continue
		}
		for _, metric := range fam.GetMetric() {
			if !matchLabels(metric, labels) {
				continue
			}
			if c := metric.GetCounter(); c != nil {
				return c.GetValue()
			}
			if g := metric.GetGauge(); g != nil {
				return g.GetValue()
			}
		}
	}
	t.Fatalf("metric %s%v not found", name, labels)
	return 0
}

func matchLabels(metric *dto.Metric, want map[string]string) bool {
	got := map[string]string{}
	for _, lp := range metric.GetLabel() {
		got[lp.GetName()] = lp.GetValue()
	}
	for k, v := range want {
		if got[k] != v {
			return false
		}
	}
	return true
}

func TestCountersRegisterAndIncrement(t *testing.T) {
	m := New()

	m.AlertsProcessed.WithLabelValues("prtg", "raise").Inc()
	m.AlertsProcessed.WithLabelValues("prtg", "raise").Inc()
	m.TrapsReceived.Inc()
	m.TrapQueueDepth.Set(7)
	m.ExecutionsTotal.WithLabelValues("opsconductor.job.run", "success").Inc()

	assert.Equal(t, 2.0, metricValue(t, m, "opsconductor_alerts_processed_total",
		map[string]string{"source_system": "prtg", "kind": "raise"}))
	assert.Equal(t, 1.0, metricValue(t, m, "opsconductor_traps_received_total", nil))
	assert.Equal(t, 7.0, metricValue(t, m, "opsconductor_trap_queue_depth", nil))
	assert.Equal(t, 1.0, metricValue(t, m, "opsconductor_executions_total",
		map[string]string{"task_name": "opsconductor.job.run", "status": "success"}))
}

func TestIsolatedRegistries(t *testing.T) {
	a := New()
	b := New()

	a.TrapsErrors.Inc()

	assert.Equal(t, 1.0, metricValue(t, a, "opsconductor_traps_errors_total", nil))
	assert.Equal(t, 0.0, metricValue(t, b, "opsconductor_traps_errors_total", nil))
}
