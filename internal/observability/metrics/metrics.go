// Package metrics provides Prometheus metrics for observability.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "stt_gateway"

// Metrics holds all Prometheus metrics for the service.
type Metrics struct {
	// Session metrics
	SessionsTotal   prometheus.Counter
	SessionsActive  prometheus.Gauge
	SessionsSuccess prometheus.Counter
	SessionsFailed  prometheus.Counter
	SessionDuration prometheus.Histogram
	SessionsClosed  *prometheus.CounterVec

	// Transcript metrics
	TranscriptsPartial prometheus.Counter
	TranscriptsFinal   prometheus.Counter
	FinalWords         prometheus.Counter

	// Audio metrics
	AudioBytesReceived  prometheus.Counter
	AudioFramesReceived prometheus.Counter

	// Transcription metrics
	TranscriptionLatency *prometheus.HistogramVec
	TranscriptionErrors  *prometheus.CounterVec
	PartialThreshold     prometheus.Histogram

	// Admission metrics
	AdmissionWaits *prometheus.CounterVec
	AdmissionDelay prometheus.Histogram
	SeatsAvailable *prometheus.GaugeVec
	SeatsCapacity  *prometheus.GaugeVec
	ControlUnknown prometheus.Counter

	// Bus publish metrics
	PublishTotal   *prometheus.CounterVec
	PublishErrors  *prometheus.CounterVec
	PublishLatency *prometheus.HistogramVec

	// Export metrics
	ExportsTotal *prometheus.CounterVec

	// gRPC metrics
	GRPCStreams *prometheus.CounterVec
}

// DefaultMetrics is the global metrics instance.
var DefaultMetrics = NewMetrics()

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		// Session metrics
		SessionsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_total",
			Help:      "Total number of stream sessions accepted",
		}),
		SessionsActive: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Number of currently open stream sessions",
		}),
		SessionsSuccess: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_success_total",
			Help:      "Total number of sessions ended by end-of-stream",
		}),
		SessionsFailed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_failed_total",
			Help:      "Total number of sessions ended by an error or disconnect",
		}),
		SessionDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "session_duration_seconds",
			Help:      "Duration of stream sessions in seconds",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600, 1800},
		}),
		SessionsClosed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_closed_total",
			Help:      "Sessions closed, by reason",
		}, []string{"reason"}),

		// Transcript metrics
		TranscriptsPartial: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transcripts_partial_total",
			Help:      "Total number of partial messages sent",
		}),
		TranscriptsFinal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transcripts_final_total",
			Help:      "Total number of final messages sent",
		}),
		FinalWords: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "final_words_total",
			Help:      "Total number of words committed in finals",
		}),

		// Audio metrics
		AudioBytesReceived: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_bytes_received_total",
			Help:      "Total audio bytes received",
		}),
		AudioFramesReceived: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_frames_received_total",
			Help:      "Total audio frames received",
		}),

		// Transcription metrics
		TranscriptionLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "transcription_latency_seconds",
			Help:      "Duration of recognizer calls in seconds",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		}, []string{"pool", "provider"}),
		TranscriptionErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transcription_errors_total",
			Help:      "Total number of failed recognizer calls",
		}, []string{"pool", "provider"}),
		PartialThreshold: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "partial_threshold_seconds",
			Help:      "Adapted partial interval after each adaptation",
			Buckets:   []float64{0.25, 0.5, 0.75, 1, 1.5, 2, 3, 5},
		}),

		// Admission metrics
		AdmissionWaits: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "admission_waits_total",
			Help:      "Number of admission attempts that found no free seat",
		}, []string{"outcome"}),
		AdmissionDelay: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "admission_delay_seconds",
			Help:      "Time from accept until a seat was leased",
			Buckets:   []float64{0.001, 0.01, 0.1, 1, 10, 30, 60, 300},
		}),
		SeatsAvailable: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pool_seats_available",
			Help:      "Free seats per transcription pool",
		}, []string{"pool"}),
		SeatsCapacity: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pool_seats_capacity",
			Help:      "Configured seats per transcription pool",
		}, []string{"pool"}),
		ControlUnknown: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "control_unknown_total",
			Help:      "Unrecognized control messages received",
		}),

		// Bus publish metrics
		PublishTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bus_publish_total",
			Help:      "Total number of transcript events published",
		}, []string{"sink", "topic", "event_type"}),
		PublishErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bus_publish_errors_total",
			Help:      "Total number of transcript event publish errors",
		}, []string{"sink", "topic", "event_type"}),
		PublishLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "bus_publish_latency_seconds",
			Help:      "Transcript event publish latency in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"sink", "topic"}),

		// Export metrics
		ExportsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "exports_total",
			Help:      "Export artifacts handed to the store, by result",
		}, []string{"result"}),

		// gRPC metrics
		GRPCStreams: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "grpc_streams_total",
			Help:      "gRPC stream calls handled, by method and code",
		}, []string{"method", "code"}),
	}
}

// RecordSessionStart records a new session being accepted.
func (m *Metrics) RecordSessionStart() {
	m.SessionsTotal.Inc()
	m.SessionsActive.Inc()
}

// RecordSessionEnd records a session ending.
func (m *Metrics) RecordSessionEnd(reason string, success bool, durationSeconds float64) {
	m.SessionsActive.Dec()
	m.SessionDuration.Observe(durationSeconds)
	m.SessionsClosed.WithLabelValues(reason).Inc()
	if success {
		m.SessionsSuccess.Inc()
	} else {
		m.SessionsFailed.Inc()
	}
}

// RecordPartial records a partial message sent.
func (m *Metrics) RecordPartial() {
	m.TranscriptsPartial.Inc()
}

// RecordFinal records a final message sent.
func (m *Metrics) RecordFinal(words int) {
	m.TranscriptsFinal.Inc()
	m.FinalWords.Add(float64(words))
}

// RecordAudioReceived records audio bytes and frames received.
func (m *Metrics) RecordAudioReceived(bytes int) {
	m.AudioBytesReceived.Add(float64(bytes))
	m.AudioFramesReceived.Inc()
}

// RecordTranscription records one recognizer call.
func (m *Metrics) RecordTranscription(pool, provider string, err error, latencySeconds float64) {
	m.TranscriptionLatency.WithLabelValues(pool, provider).Observe(latencySeconds)
	if err != nil {
		m.TranscriptionErrors.WithLabelValues(pool, provider).Inc()
	}
}

// RecordPartialThreshold records a newly adapted partial interval.
func (m *Metrics) RecordPartialThreshold(seconds float64) {
	m.PartialThreshold.Observe(seconds)
}

// RecordAdmissionWait records a failed admission attempt.
func (m *Metrics) RecordAdmissionWait() {
	m.AdmissionWaits.WithLabelValues("retry").Inc()
}

// RecordAdmitted records the time a session spent waiting for a seat.
func (m *Metrics) RecordAdmitted(delaySeconds float64) {
	m.AdmissionDelay.Observe(delaySeconds)
}

// RecordSeats records the seat state of a pool.
func (m *Metrics) RecordSeats(pool string, available, capacity int) {
	m.SeatsAvailable.WithLabelValues(pool).Set(float64(available))
	m.SeatsCapacity.WithLabelValues(pool).Set(float64(capacity))
}

// RecordUnknownControl records an unrecognized control message.
func (m *Metrics) RecordUnknownControl() {
	m.ControlUnknown.Inc()
}

// RecordPublish records a bus publish attempt.
func (m *Metrics) RecordPublish(sink, topic, eventType string, err error, latencySeconds float64) {
	m.PublishTotal.WithLabelValues(sink, topic, eventType).Inc()
	m.PublishLatency.WithLabelValues(sink, topic).Observe(latencySeconds)
	if err != nil {
		m.PublishErrors.WithLabelValues(sink, topic, eventType).Inc()
	}
}

// RecordExport records the outcome of an export save.
func (m *Metrics) RecordExport(err error) {
	if err != nil {
		m.ExportsTotal.WithLabelValues("error").Inc()
		return
	}
	m.ExportsTotal.WithLabelValues("ok").Inc()
}

// RecordGRPCStream records a completed gRPC stream call.
func (m *Metrics) RecordGRPCStream(method, code string) {
	m.GRPCStreams.WithLabelValues(method, code).Inc()
}
