package telemetry

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics_ObserveReport(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.ObserveReport(testReport())

	assert.InDelta(t, 11.984, testutil.ToFloat64(m.Voltage), 1e-9)
	assert.InDelta(t, 0.801, testutil.ToFloat64(m.Current), 1e-9)
	assert.InDelta(t, 9.6, testutil.ToFloat64(m.Power), 1e-9)
	assert.Equal(t, 400.0, testutil.ToFloat64(m.Samples))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Relay))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Reports))

	r := testReport()
	r.RelayOn = false
	m.ObserveReport(r)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.Relay))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Reports))
}

func TestMetrics_ObserveCommand(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.ObserveCommand('P', true, false)
	m.ObserveCommand('Z', false, false)
	m.ObserveCommand(0, false, true)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Commands.WithLabelValues("P")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Commands.WithLabelValues("Z")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Dropped))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Saves))
}

func TestNewMetrics_RegistersCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	m.ObserveReport(testReport())

	families, err := reg.Gather()
	assert.NoError(t, err)

	names := make(map[string]bool, len(families))
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["energino_voltage_volts"])
	assert.True(t, names["energino_power_watts"])
	assert.True(t, names["energino_reports_total"])
}
