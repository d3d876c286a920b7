package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "companion"

// Metrics contains all Prometheus metrics for the device session
type Metrics struct {
	reg      prometheus.Registerer
	gatherer prometheus.Gatherer

	// Wire metrics
	FramesReceived *prometheus.CounterVec
	ItemsSent      *prometheus.CounterVec
	BytesSent      prometheus.Counter
	QueueDepth     prometheus.Gauge

	// Accumulator metrics
	MessagesCompleted *prometheus.CounterVec
	MalformedMessages prometheus.Counter
	ContentSwitches   prometheus.Counter
	PartialsDropped   prometheus.Counter

	// Connection metrics
	ConnectionState prometheus.Gauge
	ConnectFailures prometheus.Counter
	Reconnects      prometheus.Counter

	// Capture metrics
	ImagesCaptured prometheus.Counter
	AudioSent      prometheus.Counter

	// Transcription metrics
	Transcriptions        *prometheus.CounterVec
	TranscriptionDuration prometheus.Histogram

	// Control API metrics
	ControlRequests *prometheus.CounterVec
}

// New creates and registers all metrics with reg. gatherer serves /metrics.
func New(reg prometheus.Registerer, gatherer prometheus.Gatherer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		reg:      reg,
		gatherer: gatherer,

		FramesReceived: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_received_total",
			Help:      "Wire frames received, by frame kind",
		}, []string{"kind"}),
		ItemsSent: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "items_sent_total",
			Help:      "Outbound items written to the wire, by label",
		}, []string{"label"}),
		BytesSent: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_sent_total",
			Help:      "Payload bytes written to the wire",
		}),
		QueueDepth: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "outbound_queue_depth",
			Help:      "Items waiting in the outbound queue",
		}),

		MessagesCompleted: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_completed_total",
			Help:      "Messages reassembled from the wire, by kind",
		}, []string{"kind"}),
		MalformedMessages: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_malformed_total",
			Help:      "Partial messages dropped because they could not be finalized",
		}),
		ContentSwitches: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "content_switches_total",
			Help:      "Partial messages restarted because the content representation changed",
		}),
		PartialsDropped: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "partials_dropped_total",
			Help:      "Partial messages discarded on connection loss",
		}),

		ConnectionState: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connection_state",
			Help:      "Current connection state (0 connecting, 1 open, 2 closing, 3 reconnecting)",
		}),
		ConnectFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connect_failures_total",
			Help:      "Failed connection attempts",
		}),
		Reconnects: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconnects_total",
			Help:      "Transitions into the reconnecting state",
		}),

		ImagesCaptured: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "images_captured_total",
			Help:      "Camera frames captured",
		}),
		AudioSent: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "capture_audio_bytes_total",
			Help:      "PCM bytes handed to the outbound queue by the capture pump",
		}),

		Transcriptions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transcriptions_total",
			Help:      "On-device transcriptions, by provider and result",
		}, []string{"provider", "result"}),
		TranscriptionDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "transcription_duration_seconds",
			Help:      "Time taken by on-device transcription",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10},
		}),

		ControlRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "control_requests_total",
			Help:      "Control API requests, by path and status code",
		}, []string{"path", "code"}),
	}
}

// NewIsolated creates metrics on a private registry (tests, tools).
func NewIsolated() *Metrics {
	reg := prometheus.NewRegistry()
	return New(reg, reg)
}

// CounterFunc registers a counter whose value is read from fn on scrape.
// Used for counters maintained with atomics on real-time audio threads.
func (m *Metrics) CounterFunc(name, help string, fn func() float64) {
	promauto.With(m.reg).NewCounterFunc(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      name,
		Help:      help,
	}, fn)
}

// GaugeFunc registers a gauge whose value is read from fn on scrape.
func (m *Metrics) GaugeFunc(name, help string, fn func() float64) {
	promauto.With(m.reg).NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      name,
		Help:      help,
	}, fn)
}

// Handler serves the registered metrics
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
