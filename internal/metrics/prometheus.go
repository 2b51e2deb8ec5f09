package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the voice relay service.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	// Session metrics
	ActiveSessions    prometheus.Gauge
	SessionsCreated   prometheus.Counter
	SessionsDestroyed prometheus.Counter
	SessionDuration   prometheus.Histogram
	SessionsRejected  prometheus.Counter

	// Client audio metrics
	FramesReceived  prometheus.Counter
	FrameBytes      prometheus.Counter
	ChunksForwarded prometheus.Counter
	ChunkSize       prometheus.Histogram

	// Transcription connection metrics
	TranscriptionConnects   prometheus.Counter
	TranscriptionReconnects prometheus.Counter
	TranscriptionErrors     prometheus.Counter
	TranscriptsReceived     *prometheus.CounterVec
	PendingBytesDropped     prometheus.Counter

	// Synthesis metrics
	SynthesisRequests  prometheus.Counter
	SynthesisSuccesses prometheus.Counter
	SynthesisFailures  prometheus.Counter
	SynthesisClipBytes prometheus.Histogram

	// Latency metrics
	TranscriptLatency prometheus.Histogram
	SynthesisLatency  prometheus.Histogram
	PlaybackLatency   prometheus.Histogram

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPErrors          *prometheus.CounterVec
}

// NewMetrics creates all Prometheus metrics and registers them with reg.
// Pass prometheus.DefaultRegisterer to expose them on the default /metrics handler.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		// Session metrics
		ActiveSessions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "voicerelay_active_sessions",
			Help: "Current number of connected client sessions",
		}),
		SessionsCreated: factory.NewCounter(prometheus.CounterOpts{
			Name: "voicerelay_sessions_created_total",
			Help: "Total number of sessions created",
		}),
		SessionsDestroyed: factory.NewCounter(prometheus.CounterOpts{
			Name: "voicerelay_sessions_destroyed_total",
			Help: "Total number of sessions torn down",
		}),
		SessionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "voicerelay_session_duration_seconds",
			Help:    "Duration of client sessions in seconds",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12), // 1s to ~1 hour
		}),
		SessionsRejected: factory.NewCounter(prometheus.CounterOpts{
			Name: "voicerelay_sessions_rejected_total",
			Help: "Total number of connections rejected by the session limit",
		}),

		// Client audio metrics
		FramesReceived: factory.NewCounter(prometheus.CounterOpts{
			Name: "voicerelay_frames_received_total",
			Help: "Total number of audio frames received from clients",
		}),
		FrameBytes: factory.NewCounter(prometheus.CounterOpts{
			Name: "voicerelay_frame_bytes_total",
			Help: "Total bytes of client audio received",
		}),
		ChunksForwarded: factory.NewCounter(prometheus.CounterOpts{
			Name: "voicerelay_chunks_forwarded_total",
			Help: "Total number of aggregated chunks handed to the transcription stream",
		}),
		ChunkSize: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "voicerelay_chunk_size_bytes",
			Help:    "Size of aggregated audio chunks in bytes",
			Buckets: prometheus.ExponentialBuckets(512, 2, 12), // 512B to ~1MB
		}),

		// Transcription connection metrics
		TranscriptionConnects: factory.NewCounter(prometheus.CounterOpts{
			Name: "voicerelay_transcription_connects_total",
			Help: "Total number of transcription streams dialed",
		}),
		TranscriptionReconnects: factory.NewCounter(prometheus.CounterOpts{
			Name: "voicerelay_transcription_reconnects_total",
			Help: "Total number of transcription streams replaced after closing",
		}),
		TranscriptionErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "voicerelay_transcription_errors_total",
			Help: "Total number of transcription provider errors",
		}),
		TranscriptsReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "voicerelay_transcripts_received_total",
			Help: "Total number of provider messages by kind",
		}, []string{"kind"}),
		PendingBytesDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "voicerelay_pending_bytes_dropped_total",
			Help: "Bytes dropped from the reconnect buffer when it overflowed",
		}),

		// Synthesis metrics
		SynthesisRequests: factory.NewCounter(prometheus.CounterOpts{
			Name: "voicerelay_synthesis_requests_total",
			Help: "Total number of synthesis requests",
		}),
		SynthesisSuccesses: factory.NewCounter(prometheus.CounterOpts{
			Name: "voicerelay_synthesis_successes_total",
			Help: "Total number of clips synthesized and delivered",
		}),
		SynthesisFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "voicerelay_synthesis_failures_total",
			Help: "Total number of abandoned synthesis requests",
		}),
		SynthesisClipBytes: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "voicerelay_synthesis_clip_bytes",
			Help:    "Size of synthesized clips in bytes",
			Buckets: prometheus.ExponentialBuckets(4096, 2, 10), // 4KB to ~2MB
		}),

		// Latency metrics
		TranscriptLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "voicerelay_transcript_latency_seconds",
			Help:    "Time from the first audio packet of a turn to its transcript",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10), // 50ms to ~25s
		}),
		SynthesisLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "voicerelay_synthesis_latency_seconds",
			Help:    "Time from synthesis request to complete response",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
		}),
		PlaybackLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "voicerelay_playback_latency_seconds",
			Help:    "Time from capture start of a turn to client playback start",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10), // 100ms to ~50s
		}),

		// HTTP API metrics
		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "voicerelay_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "voicerelay_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
		HTTPErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "voicerelay_http_errors_total",
			Help: "Total number of HTTP errors",
		}, []string{"method", "endpoint", "error_type"}),
	}
}

// SetActiveSessions sets the current number of active sessions
func (m *Metrics) SetActiveSessions(count int) {
	if m == nil {
		return
	}
	m.ActiveSessions.Set(float64(count))
}

// RecordSessionCreated increments the sessions created counter
func (m *Metrics) RecordSessionCreated() {
	if m == nil {
		return
	}
	m.SessionsCreated.Inc()
}

// RecordSessionDestroyed increments the sessions destroyed counter and records duration
func (m *Metrics) RecordSessionDestroyed(durationSeconds float64) {
	if m == nil {
		return
	}
	m.SessionsDestroyed.Inc()
	m.SessionDuration.Observe(durationSeconds)
}

// RecordSessionRejected increments the rejected sessions counter
func (m *Metrics) RecordSessionRejected() {
	if m == nil {
		return
	}
	m.SessionsRejected.Inc()
}

// RecordFrame records an inbound client audio frame
func (m *Metrics) RecordFrame(sizeBytes int) {
	if m == nil {
		return
	}
	m.FramesReceived.Inc()
	m.FrameBytes.Add(float64(sizeBytes))
}

// RecordChunkForwarded records an aggregated chunk sent upstream
func (m *Metrics) RecordChunkForwarded(sizeBytes int) {
	if m == nil {
		return
	}
	m.ChunksForwarded.Inc()
	m.ChunkSize.Observe(float64(sizeBytes))
}

// RecordTranscriptionConnect increments the dial counter
func (m *Metrics) RecordTranscriptionConnect() {
	if m == nil {
		return
	}
	m.TranscriptionConnects.Inc()
}

// RecordTranscriptionReconnect increments the reconnect counter
func (m *Metrics) RecordTranscriptionReconnect() {
	if m == nil {
		return
	}
	m.TranscriptionReconnects.Inc()
}

// RecordTranscriptionError increments the provider error counter
func (m *Metrics) RecordTranscriptionError() {
	if m == nil {
		return
	}
	m.TranscriptionErrors.Inc()
}

// RecordTranscript counts a provider message by kind
func (m *Metrics) RecordTranscript(kind string) {
	if m == nil {
		return
	}
	m.TranscriptsReceived.WithLabelValues(kind).Inc()
}

// RecordPendingDropped records bytes lost from the reconnect buffer
func (m *Metrics) RecordPendingDropped(sizeBytes int) {
	if m == nil {
		return
	}
	m.PendingBytesDropped.Add(float64(sizeBytes))
}

// RecordSynthesisRequest increments synthesis requests counter
func (m *Metrics) RecordSynthesisRequest() {
	if m == nil {
		return
	}
	m.SynthesisRequests.Inc()
}

// RecordSynthesisSuccess records a delivered clip
func (m *Metrics) RecordSynthesisSuccess(durationSeconds float64, sizeBytes int) {
	if m == nil {
		return
	}
	m.SynthesisSuccesses.Inc()
	m.SynthesisLatency.Observe(durationSeconds)
	m.SynthesisClipBytes.Observe(float64(sizeBytes))
}

// RecordSynthesisFailure records an abandoned synthesis request
func (m *Metrics) RecordSynthesisFailure() {
	if m == nil {
		return
	}
	m.SynthesisFailures.Inc()
}

// RecordTranscriptLatency observes first-packet to transcript latency
func (m *Metrics) RecordTranscriptLatency(durationSeconds float64) {
	if m == nil {
		return
	}
	m.TranscriptLatency.Observe(durationSeconds)
}

// RecordPlaybackLatency observes capture-start to playback-start latency
func (m *Metrics) RecordPlaybackLatency(durationSeconds float64) {
	if m == nil {
		return
	}
	m.PlaybackLatency.Observe(durationSeconds)
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(durationSeconds)
}

// RecordHTTPError records an HTTP error
func (m *Metrics) RecordHTTPError(method, endpoint, errorType string) {
	if m == nil {
		return
	}
	m.HTTPErrors.WithLabelValues(method, endpoint, errorType).Inc()
}
