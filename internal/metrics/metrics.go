// Package metrics holds the Prometheus collectors of the UI core.
//
// A nil *Metrics is valid and records nothing, so components can be built
// without a registry in tests and tools.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "ventcore"

// Connection states exported by the connection_state gauge.
var connectionStates = []string{"disconnected", "connecting", "open", "errored"}

// Metrics contains the collectors for transport, codec, schedule and store
// activity.
type Metrics struct {
	FramesReceived    *prometheus.CounterVec
	FramesSent        *prometheus.CounterVec
	DecodeErrors      *prometheus.CounterVec
	SendsSkipped      *prometheus.CounterVec
	ReconnectAttempts prometheus.Counter
	ConnectionState   *prometheus.GaugeVec
	LogEventsMerged   prometheus.Counter
	WaveformPoints    prometheus.Gauge
	ReduceDuration    prometheus.Histogram
	UIClients         prometheus.Gauge
}

// New creates the collectors and registers them with reg. A nil reg leaves
// them unregistered.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		FramesReceived: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "transport",
				Name:      "frames_received_total",
				Help:      "Total number of device frames decoded, by message kind",
			},
			[]string{"kind"},
		),

		FramesSent: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "transport",
				Name:      "frames_sent_total",
				Help:      "Total number of frames queued to the device, by message kind",
			},
			[]string{"kind"},
		),

		DecodeErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "codec",
				Name:      "decode_errors_total",
				Help:      "Total number of dropped device frames, by reason",
			},
			[]string{"reason"},
		),

		SendsSkipped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "schedule",
				Name:      "sends_skipped_total",
				Help:      "Total number of scheduled sends that were skipped, by kind and reason",
			},
			[]string{"kind", "reason"},
		),

		ReconnectAttempts: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "transport",
				Name:      "reconnect_attempts_total",
				Help:      "Total number of dial attempts to the device",
			},
		),

		ConnectionState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "transport",
				Name:      "connection_state",
				Help:      "1 for the current connection state, 0 for the others",
			},
			[]string{"state"},
		),

		LogEventsMerged: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "store",
				Name:      "log_events_merged_total",
				Help:      "Total number of new log events added to the ledger",
			},
		),

		WaveformPoints: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "store",
				Name:      "waveform_points",
				Help:      "Number of waveform points currently held across all channels",
			},
		),

		ReduceDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "store",
				Name:      "reduce_duration_seconds",
				Help:      "Time spent reducing one event",
				Buckets:   []float64{.00001, .00005, .0001, .0005, .001, .005, .01, .05},
			},
		),

		UIClients: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "ui",
				Name:      "clients",
				Help:      "Number of connected UI state clients",
			},
		),
	}

	if reg != nil {
		reg.MustRegister(
			m.FramesReceived,
			m.FramesSent,
			m.DecodeErrors,
			m.SendsSkipped,
			m.ReconnectAttempts,
			m.ConnectionState,
			m.LogEventsMerged,
			m.WaveformPoints,
			m.ReduceDuration,
			m.UIClients,
		)
	}
	return m
}

// RecordFrameReceived increments the received frame counter
func (m *Metrics) RecordFrameReceived(kind string) {
	if m == nil {
		return
	}
	m.FramesReceived.WithLabelValues(kind).Inc()
}

// RecordFrameSent increments the sent frame counter
func (m *Metrics) RecordFrameSent(kind string) {
	if m == nil {
		return
	}
	m.FramesSent.WithLabelValues(kind).Inc()
}

// RecordDecodeError increments the decode error counter
func (m *Metrics) RecordDecodeError(reason string) {
	if m == nil {
		return
	}
	m.DecodeErrors.WithLabelValues(reason).Inc()
}

// RecordSendSkipped increments the skipped send counter
func (m *Metrics) RecordSendSkipped(kind, reason string) {
	if m == nil {
		return
	}
	m.SendsSkipped.WithLabelValues(kind, reason).Inc()
}

// RecordReconnectAttempt increments the dial attempt counter
func (m *Metrics) RecordReconnectAttempt() {
	if m == nil {
		return
	}
	m.ReconnectAttempts.Inc()
}

// SetConnectionState marks state as the current connection state.
func (m *Metrics) SetConnectionState(state string) {
	if m == nil {
		return
	}
	for _, s := range connectionStates {
		v := 0.0
		if s == state {
			v = 1.0
		}
		m.ConnectionState.WithLabelValues(s).Set(v)
	}
}

// RecordLogEventsMerged adds n new log events
func (m *Metrics) RecordLogEventsMerged(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.LogEventsMerged.Add(float64(n))
}

// SetWaveformPoints updates the waveform point gauge
func (m *Metrics) SetWaveformPoints(n int) {
	if m == nil {
		return
	}
	m.WaveformPoints.Set(float64(n))
}

// ObserveReduce records the duration of one reduction
func (m *Metrics) ObserveReduce(d time.Duration) {
	if m == nil {
		return
	}
	m.ReduceDuration.Observe(d.Seconds())
}

// SetUIClients updates the connected UI client gauge
func (m *Metrics) SetUIClients(n int) {
	if m == nil {
		return
	}
	m.UIClients.Set(float64(n))
}
