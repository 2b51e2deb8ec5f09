package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/diegoasua/dubbing/internal/config"
	"github.com/diegoasua/dubbing/internal/metrics"
	"github.com/diegoasua/dubbing/internal/transcription"
)

// ErrTooManySessions is returned by CreateSession when the limit is reached
var ErrTooManySessions = errors.New("too many active sessions")

const defaultCleanupInterval = 30 * time.Second

// ManagerConfig contains configuration for the session manager
type ManagerConfig struct {
	MaxSessions     int
	IdleTimeout     time.Duration
	CleanupInterval time.Duration
	Session         Config
}

// ManagerConfigFrom maps the service configuration onto manager and
// per-session settings
func ManagerConfigFrom(cfg *config.Config) ManagerConfig {
	t := cfg.Transcription

	return ManagerConfig{
		MaxSessions: cfg.Server.MaxSessions,
		IdleTimeout: cfg.Session.GetIdleTimeout(),
		Session: Config{
			AggregationWindow: cfg.Session.GetAggregationWindow(),
			MaxBufferBytes:    cfg.Session.MaxBufferBytes,
			FrameQueueSize:    cfg.Session.FrameQueueSize,
			Transcription: transcription.ManagerConfig{
				Options: transcription.Options{
					Language:       t.Language,
					Model:          t.Model,
					Punctuate:      t.Punctuate,
					SmartFormat:    t.SmartFormat,
					FillerWords:    t.FillerWords,
					InterimResults: t.InterimResults,
					Encoding:       t.Encoding,
					SampleRate:     t.SampleRate,
					Channels:       t.Channels,
				},
				HeartbeatInterval: cfg.Session.GetHeartbeatInterval(),
				MaxPendingBytes:   cfg.Session.MaxPendingBytes,
			},
		},
	}
}

// Manager manages all active sessions
type Manager struct {
	sessions map[string]*Session
	mu       sync.RWMutex

	dialer  transcription.Dialer
	synth   Synthesizer
	config  ManagerConfig
	logger  *slog.Logger
	metrics *metrics.Metrics

	// Cleanup management
	ctx     context.Context
	cancel  context.CancelFunc
	cleanup chan struct{}
}

// NewManager creates a session manager and starts its cleanup routine
func NewManager(dialer transcription.Dialer, synth Synthesizer, config ManagerConfig, logger *slog.Logger, m *metrics.Metrics) *Manager {
	ctx, cancel := context.WithCancel(context.Background())

	if config.CleanupInterval <= 0 {
		config.CleanupInterval = defaultCleanupInterval
		if config.IdleTimeout > 0 && config.IdleTimeout/2 < config.CleanupInterval {
			config.CleanupInterval = config.IdleTimeout / 2
		}
	}

	mgr := &Manager{
		sessions: make(map[string]*Session),
		dialer:   dialer,
		synth:    synth,
		config:   config,
		logger:   logger,
		metrics:  m,
		ctx:      ctx,
		cancel:   cancel,
		cleanup:  make(chan struct{}),
	}

	go mgr.startCleanupRoutine()

	return mgr
}

// CreateSession registers a new session for a client connection and starts
// it. The transcription stream is dialed immediately.
func (m *Manager) CreateSession(conn ClientConn, remoteAddr string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.ctx.Err() != nil {
		return nil, ErrSessionClosed
	}

	if m.config.MaxSessions > 0 && len(m.sessions) >= m.config.MaxSessions {
		m.metrics.RecordSessionRejected()
		m.logger.Warn("Rejecting session, limit reached",
			slog.String("remote_addr", remoteAddr),
			slog.Int("max_sessions", m.config.MaxSessions),
		)
		return nil, ErrTooManySessions
	}

	id := uuid.NewString()
	session, err := newSession(id, remoteAddr, conn, m.dialer, m.synth, m.config.Session, m.logger, m.metrics)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	m.sessions[id] = session
	session.start()

	m.metrics.RecordSessionCreated()
	m.metrics.SetActiveSessions(len(m.sessions))

	m.logger.Info("Created new session",
		slog.String("session_id", id),
		slog.String("remote_addr", remoteAddr),
		slog.Int("active_sessions", len(m.sessions)),
	)

	return session, nil
}

// GetSession retrieves an existing session
func (m *Manager) GetSession(id string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	session, exists := m.sessions[id]
	return session, exists
}

// GetActiveSessionCount returns the number of currently active sessions
func (m *Manager) GetActiveSessionCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// GetAllSessions returns a snapshot of all active sessions, oldest first
func (m *Manager) GetAllSessions() []*Session {
	m.mu.RLock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, session := range m.sessions {
		sessions = append(sessions, session)
	}
	m.mu.RUnlock()

	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].StartTime.Before(sessions[j].StartTime)
	})

	return sessions
}

// RemoveSession unregisters a session, tears it down and closes its client
// connection. It blocks until teardown has finished.
func (m *Manager) RemoveSession(id string) bool {
	m.mu.Lock()
	session, exists := m.sessions[id]
	if exists {
		delete(m.sessions, id)
		m.metrics.SetActiveSessions(len(m.sessions))
	}
	m.mu.Unlock()

	if !exists {
		return false
	}

	m.finalize(session)
	return true
}

func (m *Manager) finalize(session *Session) {
	session.Close()

	if err := session.conn.Close(); err != nil {
		m.logger.Debug("Client connection already closed",
			slog.String("session_id", session.ID),
			slog.String("error", err.Error()),
		)
	}

	duration := time.Since(session.StartTime)
	m.metrics.RecordSessionDestroyed(duration.Seconds())

	m.logger.Info("Session removed",
		slog.String("session_id", session.ID),
		slog.Duration("total_duration", duration),
	)
}

// Stop tears down every session and stops the cleanup routine
func (m *Manager) Stop() {
	m.logger.Info("Stopping session manager...")

	m.cancel()
	<-m.cleanup

	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for id, session := range m.sessions {
		sessions = append(sessions, session)
		delete(m.sessions, id)
	}
	m.metrics.SetActiveSessions(0)
	m.mu.Unlock()

	var wg sync.WaitGroup
	for _, session := range sessions {
		wg.Add(1)
		go func(s *Session) {
			defer wg.Done()
			m.finalize(s)
		}(session)
	}
	wg.Wait()

	m.logger.Info("Session manager stopped",
		slog.Int("closed_sessions", len(sessions)),
	)
}

// startCleanupRoutine runs in a separate goroutine to remove idle sessions
func (m *Manager) startCleanupRoutine() {
	defer close(m.cleanup)

	if m.config.IdleTimeout <= 0 {
		<-m.ctx.Done()
		return
	}

	ticker := time.NewTicker(m.config.CleanupInterval)
	defer ticker.Stop()

	m.logger.Debug("Session cleanup routine started",
		slog.Duration("idle_timeout", m.config.IdleTimeout),
		slog.Duration("check_interval", m.config.CleanupInterval),
	)

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			m.cleanupIdleSessions()
		}
	}
}

// cleanupIdleSessions removes sessions without client input for too long
func (m *Manager) cleanupIdleSessions() {
	now := time.Now()
	expired := make([]string, 0)

	m.mu.RLock()
	for id, session := range m.sessions {
		if now.Sub(session.LastActivity()) > m.config.IdleTimeout {
			expired = append(expired, id)
		}
	}
	m.mu.RUnlock()

	if len(expired) == 0 {
		return
	}

	m.logger.Info("Cleaning up idle sessions",
		slog.Int("expired_count", len(expired)),
	)

	for _, id := range expired {
		m.RemoveSession(id)
	}
}
