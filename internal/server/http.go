package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/diegoasua/dubbing/internal/config"
	"github.com/diegoasua/dubbing/internal/metrics"
	"github.com/diegoasua/dubbing/internal/session"
	"github.com/diegoasua/dubbing/internal/synthesis"
)

const serviceName = "voice-relay"

// HTTPServer serves the client session websocket and the monitoring API
type HTTPServer struct {
	server     *http.Server
	logger     *slog.Logger
	config     *config.Config
	sessionMgr *session.Manager
	synth      *synthesis.Client
	ws         *WSHandler
	metrics    *metrics.Metrics
	gatherer   prometheus.Gatherer

	// Server state
	startTime time.Time
}

// NewHTTPServer creates the HTTP server. A nil gatherer serves the default
// Prometheus registry on /metrics.
func NewHTTPServer(appConfig *config.Config, logger *slog.Logger, sessionMgr *session.Manager,
	synth *synthesis.Client, m *metrics.Metrics, gatherer prometheus.Gatherer) *HTTPServer {

	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	h := &HTTPServer{
		logger:     logger,
		config:     appConfig,
		sessionMgr: sessionMgr,
		synth:      synth,
		ws:         NewWSHandler(appConfig.Server, sessionMgr, logger, m),
		metrics:    m,
		gatherer:   gatherer,
		startTime:  time.Now(),
	}

	mux := http.NewServeMux()
	h.setupRoutes(mux)

	// No WriteTimeout: websocket connections are long lived and bound their
	// own writes
	h.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", appConfig.Server.Address, appConfig.Server.Port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return h
}

// setupRoutes configures HTTP API routes
func (h *HTTPServer) setupRoutes(mux *http.ServeMux) {
	// Client sessions
	mux.Handle(h.config.Server.WSPath, h.ws)

	// Health check endpoint
	mux.HandleFunc("/health", h.withMetrics("/health", h.handleHealth))

	// Session monitoring endpoints
	mux.HandleFunc("/sessions", h.withMetrics("/sessions", h.handleSessions))
	mux.HandleFunc("/sessions/", h.withMetrics("/sessions/{id}", h.handleSessionDetail))

	// Configuration endpoint
	mux.HandleFunc("/config", h.withMetrics("/config", h.handleConfig))

	// Statistics endpoint
	mux.HandleFunc("/stats", h.withMetrics("/stats", h.handleStats))

	// Prometheus metrics endpoint (no metrics needed for metrics endpoint)
	if h.config.Metrics.Enabled {
		mux.Handle("/metrics", promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{}))
	}

	// Root endpoint with API documentation
	mux.HandleFunc("/", h.withMetrics("/", h.handleRoot))
}

// Handler returns the root handler, for tests
func (h *HTTPServer) Handler() http.Handler {
	return h.server.Handler
}

// withMetrics wraps an HTTP handler with metrics collection
func (h *HTTPServer) withMetrics(endpoint string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()

		// Create a response writer wrapper to capture status code
		ww := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		handler(ww, r)

		duration := time.Since(startTime).Seconds()
		statusCode := fmt.Sprintf("%d", ww.statusCode)

		h.metrics.RecordHTTPRequest(r.Method, endpoint, statusCode, duration)

		if ww.statusCode >= 400 {
			errorType := "client_error"
			if ww.statusCode >= 500 {
				errorType = "server_error"
			}
			h.metrics.RecordHTTPError(r.Method, endpoint, errorType)
		}
	}
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Start starts the HTTP server
func (h *HTTPServer) Start() error {
	h.logger.Info("Starting HTTP server",
		slog.String("address", h.server.Addr),
		slog.String("ws_path", h.config.Server.WSPath),
	)

	go func() {
		if err := h.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			h.logger.Error("HTTP server error", slog.String("error", err.Error()))
		}
	}()

	return nil
}

// Stop gracefully stops the HTTP server. Hijacked websocket connections are
// not tracked by Shutdown; the session manager closes them.
func (h *HTTPServer) Stop(ctx context.Context) error {
	h.logger.Info("Stopping HTTP server...")

	return h.server.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

// handleHealth implements the /health endpoint
func (h *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	uptime := time.Since(h.startTime)
	wsStats := h.ws.GetStats()
	synthStats := h.synth.GetStats()

	health := map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"uptime":    uptime.String(),
		"service": map[string]interface{}{
			"name":    serviceName,
			"version": "1.0.0",
		},
		"components": map[string]interface{}{
			"websocket": map[string]interface{}{
				"status":               "running",
				"path":                 h.config.Server.WSPath,
				"connections_accepted": wsStats.ConnectionsAccepted,
				"connections_rejected": wsStats.ConnectionsRejected,
			},
			"session_manager": map[string]interface{}{
				"status":          "running",
				"active_sessions": h.sessionMgr.GetActiveSessionCount(),
				"max_sessions":    h.config.Server.MaxSessions,
			},
			"transcription": map[string]interface{}{
				"provider": h.config.Transcription.Provider,
				"endpoint": h.config.Transcription.Endpoint,
			},
			"synthesis": map[string]interface{}{
				"provider":        synthStats.Provider,
				"total_requests":  synthStats.TotalRequests,
				"success_rate":    synthStats.SuccessRate,
				"active_requests": synthStats.ActiveRequests,
			},
		},
	}

	writeJSON(w, health)
}

// handleSessions implements the /sessions endpoint
func (h *HTTPServer) handleSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	sessions := h.sessionMgr.GetAllSessions()
	sessionInfos := make([]session.SessionInfo, 0, len(sessions))

	for _, s := range sessions {
		sessionInfos = append(sessionInfos, s.GetSessionInfo())
	}

	writeJSON(w, map[string]interface{}{
		"total_sessions": len(sessionInfos),
		"timestamp":      time.Now().UTC(),
		"sessions":       sessionInfos,
	})
}

// handleSessionDetail implements the /sessions/{id} endpoint
func (h *HTTPServer) handleSessionDetail(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	id := strings.TrimPrefix(r.URL.Path, "/sessions/")
	if id == "" {
		http.Error(w, "Session ID required", http.StatusBadRequest)
		return
	}

	s, exists := h.sessionMgr.GetSession(id)
	if !exists {
		http.Error(w, "Session not found", http.StatusNotFound)
		return
	}

	writeJSON(w, s.GetSessionInfo())
}

// handleConfig implements the /config endpoint
func (h *HTTPServer) handleConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	// API keys are left out
	sanitizedConfig := map[string]interface{}{
		"server": map[string]interface{}{
			"address":         h.config.Server.Address,
			"port":            h.config.Server.Port,
			"ws_path":         h.config.Server.WSPath,
			"max_sessions":    h.config.Server.MaxSessions,
			"read_limit":      h.config.Server.ReadLimit,
			"write_timeout":   h.config.Server.WriteTimeout,
			"allowed_origins": h.config.Server.AllowedOrigins,
		},
		"session": map[string]interface{}{
			"aggregation_window_ms": h.config.Session.AggregationWindowMs,
			"max_buffer_bytes":      h.config.Session.MaxBufferBytes,
			"max_pending_bytes":     h.config.Session.MaxPendingBytes,
			"heartbeat_interval":    h.config.Session.HeartbeatInterval,
			"idle_timeout":          h.config.Session.IdleTimeout,
			"frame_queue_size":      h.config.Session.FrameQueueSize,
		},
		"transcription": map[string]interface{}{
			"provider":        h.config.Transcription.Provider,
			"endpoint":        h.config.Transcription.Endpoint,
			"language":        h.config.Transcription.Language,
			"model":           h.config.Transcription.Model,
			"punctuate":       h.config.Transcription.Punctuate,
			"smart_format":    h.config.Transcription.SmartFormat,
			"filler_words":    h.config.Transcription.FillerWords,
			"interim_results": h.config.Transcription.InterimResults,
			"encoding":        h.config.Transcription.Encoding,
			"sample_rate":     h.config.Transcription.SampleRate,
			"channels":        h.config.Transcription.Channels,
		},
		"synthesis": map[string]interface{}{
			"provider":        h.config.Synthesis.Provider,
			"endpoint":        h.config.Synthesis.Endpoint,
			"model":           h.config.Synthesis.Model,
			"voice":           h.config.Synthesis.Voice,
			"response_format": h.config.Synthesis.ResponseFormat,
			"timeout":         h.config.Synthesis.Timeout,
			"max_retries":     h.config.Synthesis.MaxRetries,
			"max_concurrent":  h.config.Synthesis.MaxConcurrent,
		},
		"logging": map[string]interface{}{
			"level":  h.config.Logging.Level,
			"format": h.config.Logging.Format,
			"output": h.config.Logging.Output,
		},
	}

	writeJSON(w, sanitizedConfig)
}

// handleStats implements the /stats endpoint
func (h *HTTPServer) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var totals struct {
		FramesReceived    uint64 `json:"frames_received"`
		BytesReceived     uint64 `json:"bytes_received"`
		BytesForwarded    uint64 `json:"bytes_forwarded"`
		Reconnects        uint64 `json:"reconnects"`
		Transcripts       uint64 `json:"transcripts"`
		ClipsDelivered    uint64 `json:"clips_delivered"`
		SynthesisFailures uint64 `json:"synthesis_failures"`
	}

	sessions := h.sessionMgr.GetAllSessions()
	for _, s := range sessions {
		info := s.GetSessionInfo()
		totals.FramesReceived += info.FramesReceived
		totals.BytesReceived += info.BytesReceived
		totals.BytesForwarded += info.Transcription.BytesSent
		totals.Reconnects += info.Transcription.Reconnects
		totals.Transcripts += info.Transcripts
		totals.ClipsDelivered += info.ClipsDelivered
		totals.SynthesisFailures += info.SynthesisFailures
	}

	stats := map[string]interface{}{
		"uptime":    time.Since(h.startTime).String(),
		"timestamp": time.Now().UTC(),
		"websocket": h.ws.GetStats(),
		"synthesis": h.synth.GetStats(),
		"sessions": map[string]interface{}{
			"active_count": len(sessions),
			"totals":       totals,
		},
	}

	writeJSON(w, stats)
}

// handleRoot implements the / endpoint with API documentation
func (h *HTTPServer) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	endpoints := map[string]interface{}{
		"GET /":              "API documentation",
		"GET /health":        "Service health check",
		"GET /sessions":      "List all active sessions",
		"GET /sessions/{id}": "Get detailed session information",
		"GET /config":        "Get service configuration",
		"GET /stats":         "Get service statistics",
		"GET /metrics":       "Prometheus metrics",
	}
	endpoints["GET "+h.config.Server.WSPath] = "Client session websocket"

	apiDoc := map[string]interface{}{
		"service":   "Voice Relay Service",
		"version":   "1.0.0",
		"endpoints": endpoints,
		"timestamp": time.Now().UTC(),
	}

	writeJSON(w, apiDoc)
}
