package metrics

import (
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Capitan-Parrot/barn-monitor/internal/models"
)

var states = []models.StreamState{
	models.StateConnecting,
	models.StateActive,
	models.StateStalled,
	models.StateStreamLost,
	models.StateStopped,
}

// Metrics holds all application metrics. A nil *Metrics is valid and records nothing.
type Metrics struct {
	FramesProcessed atomic.Uint64
	Detections      atomic.Uint64
	EvidenceSaved   atomic.Uint64
	EvidenceErrors  atomic.Uint64
	Reconnects      atomic.Uint64
	InferenceErrors atomic.Uint64

	pending atomic.Pointer[func() int]

	notifications *prometheus.CounterVec
	state         *prometheus.GaugeVec
	registry      *prometheus.Registry
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "barn_notifications_total",
			Help: "Notification dispatch attempts by channel and result",
		}, []string{"channel", "result"}),
		state: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "barn_stream_state",
			Help: "1 for the current detection loop state, 0 otherwise",
		}, []string{"state"}),
	}
	m.registerPrometheusMetrics()
	return m
}

func (m *Metrics) registerPrometheusMetrics() {
	m.registry.MustRegister(m.notifications, m.state)

	counters := []struct {
		name, help string
		v          *atomic.Uint64
	}{
		{"barn_frames_processed_total", "Frames run through inference", &m.FramesProcessed},
		{"barn_detections_total", "Frames with a qualifying detection", &m.Detections},
		{"barn_evidence_saved_total", "Evidence images written", &m.EvidenceSaved},
		{"barn_evidence_errors_total", "Failed evidence writes or persistence calls", &m.EvidenceErrors},
		{"barn_stream_reconnects_total", "Stream reconnect attempts", &m.Reconnects},
		{"barn_inference_errors_total", "Failed inference calls", &m.InferenceErrors},
	}
	for _, c := range counters {
		v := c.v
		m.registry.MustRegister(prometheus.NewCounterFunc(
			prometheus.CounterOpts{Name: c.name, Help: c.help},
			func() float64 { return float64(v.Load()) },
		))
	}

	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "barn_pending_detections",
			Help: "Detections queued for the next daily summary",
		},
		func() float64 {
			if fn := m.pending.Load(); fn != nil {
				return float64((*fn)())
			}
			return 0
		},
	))
}

func (m *Metrics) IncFrames() {
	if m != nil {
		m.FramesProcessed.Add(1)
	}
}

func (m *Metrics) IncDetections() {
	if m != nil {
		m.Detections.Add(1)
	}
}

func (m *Metrics) IncEvidence(ok bool) {
	if m == nil {
		return
	}
	if ok {
		m.EvidenceSaved.Add(1)
	} else {
		m.EvidenceErrors.Add(1)
	}
}

func (m *Metrics) IncReconnects() {
	if m != nil {
		m.Reconnects.Add(1)
	}
}

func (m *Metrics) IncInferenceErrors() {
	if m != nil {
		m.InferenceErrors.Add(1)
	}
}

func (m *Metrics) Notification(channel string, ok bool) {
	if m == nil {
		return
	}
	result := "sent"
	if !ok {
		result = "failed"
	}
	m.notifications.WithLabelValues(channel, result).Inc()
}

func (m *Metrics) SetState(s models.StreamState) {
	if m == nil {
		return
	}
	for _, st := range states {
		v := 0.0
		if st == s {
			v = 1
		}
		m.state.WithLabelValues(string(st)).Set(v)
	}
}

// SetPendingFunc wires the pending queue length gauge.
func (m *Metrics) SetPendingFunc(fn func() int) {
	if m != nil {
		m.pending.Store(&fn)
	}
}

// Handler returns the Prometheus HTTP handler
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
