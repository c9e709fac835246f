package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics exposes the meter state to Prometheus. All collectors share the
// energino namespace.
type Metrics struct {
	Voltage prometheus.Gauge
	Current prometheus.Gauge
	Power   prometheus.Gauge
	Samples prometheus.Gauge
	Relay   prometheus.Gauge

	Reports    prometheus.Counter
	Commands   *prometheus.CounterVec
	Dropped    prometheus.Counter
	Saves      prometheus.Counter
	FeedErrors prometheus.Counter
}

// NewMetrics builds the collector set and registers it with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Voltage: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "energino",
			Name:      "voltage_volts",
			Help:      "Averaged line voltage of the last report window.",
		}),
		Current: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "energino",
			Name:      "current_amps",
			Help:      "Averaged load current of the last report window.",
		}),
		Power: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "energino",
			Name:      "power_watts",
			Help:      "Averaged power draw of the last report window.",
		}),
		Samples: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "energino",
			Name:      "window_samples",
			Help:      "Raw readings accumulated into the last report window.",
		}),
		Relay: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "energino",
			Name:      "relay_on",
			Help:      "Relay output state, 1 when driven high.",
		}),
		Reports: f.NewCounter(prometheus.CounterOpts{
			Namespace: "energino",
			Name:      "reports_total",
			Help:      "Telemetry status lines emitted.",
		}),
		Commands: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "energino",
			Name:      "commands_total",
			Help:      "Command frames dispatched, by command byte.",
		}, []string{"command"}),
		Dropped: f.NewCounter(prometheus.CounterOpts{
			Namespace: "energino",
			Name:      "frames_dropped_total",
			Help:      "Input batches discarded before dispatch.",
		}),
		Saves: f.NewCounter(prometheus.CounterOpts{
			Namespace: "energino",
			Name:      "settings_saves_total",
			Help:      "Settings records persisted after mutations.",
		}),
		FeedErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: "energino",
			Name:      "feed_errors_total",
			Help:      "Failed feed publishes.",
		}),
	}
}

// ObserveReport records one telemetry window.
func (m *Metrics) ObserveReport(r Report) {
	m.Voltage.Set(r.Voltage)
	m.Current.Set(r.Current)
	m.Power.Set(r.Power)
	m.Samples.Set(float64(r.Samples))
	if r.RelayOn {
		m.Relay.Set(1)
	} else {
		m.Relay.Set(0)
	}
	m.Reports.Inc()
}

// ObserveCommand records the outcome of one input batch.
func (m *Metrics) ObserveCommand(cmd byte, mutated, dropped bool) {
	if dropped {
		m.Dropped.Inc()
		return
	}
	if cmd != 0 {
		m.Commands.WithLabelValues(string(cmd)).Inc()
	}
	if mutated {
		m.Saves.Inc()
	}
}
