package transcription

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/diegoasua/dubbing/internal/metrics"
)

// ErrManagerClosed is returned by Send after Close
var ErrManagerClosed = errors.New("transcription manager is closed")

// ConnEvent is a stream event tagged with the generation of the stream
// that produced it
type ConnEvent struct {
	Generation uint64
	Event
}

// ManagerConfig contains configuration for a connection manager
type ManagerConfig struct {
	Options           Options
	HeartbeatInterval time.Duration
	MaxPendingBytes   int
}

// ManagerStats represents connection manager statistics for monitoring
type ManagerStats struct {
	State        string `json:"state"`
	Generation   uint64 `json:"generation"`
	Connects     uint64 `json:"connects"`
	Reconnects   uint64 `json:"reconnects"`
	Errors       uint64 `json:"errors"`
	ChunksSent   uint64 `json:"chunks_sent"`
	BytesSent    uint64 `json:"bytes_sent"`
	PendingBytes int    `json:"pending_bytes"`
	DroppedBytes uint64 `json:"dropped_bytes"`
	Listeners    int32  `json:"listeners"`
}

// Manager owns the live transcription stream of one session. It keeps at
// most one stream attached, buffers audio while a stream is connecting,
// sends keep-alives while it is open, and replaces a closed stream on the
// next Send. Events of the attached stream are delivered on Events; the
// owner passes each one back through HandleEvent from the same goroutine
// that calls Send, OnHeartbeat and Close.
type Manager struct {
	ctx     context.Context
	dialer  Dialer
	config  ManagerConfig
	logger  *slog.Logger
	metrics *metrics.Metrics

	out chan ConnEvent

	stream     Stream
	generation uint64
	pumpCancel context.CancelFunc
	pumpDone   chan struct{}
	heartbeat  *time.Ticker
	closed     bool

	pending      [][]byte
	pendingBytes int

	connects     uint64
	reconnects   uint64
	errors       uint64
	chunksSent   uint64
	bytesSent    uint64
	droppedBytes uint64

	listeners atomic.Int32

	mu sync.Mutex
}

// NewManager creates a connection manager. No stream is dialed until Start.
func NewManager(ctx context.Context, dialer Dialer, config ManagerConfig, logger *slog.Logger, m *metrics.Metrics) *Manager {
	return &Manager{
		ctx:     ctx,
		dialer:  dialer,
		config:  config,
		logger:  logger,
		metrics: m,
		out:     make(chan ConnEvent, streamEventBuffer),
	}
}

// Start dials the first stream
func (m *Manager) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stream == nil && !m.closed {
		m.connectLocked()
	}
}

// Events returns the channel carrying events of the attached stream
func (m *Manager) Events() <-chan ConnEvent {
	return m.out
}

// Heartbeat returns the keep-alive tick channel, or nil while no stream is open
func (m *Manager) Heartbeat() <-chan time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.heartbeat == nil {
		return nil
	}
	return m.heartbeat.C
}

// HandleEvent applies a stream event to the connection state. It returns
// the provider payload for message events of the attached stream. Events
// from a replaced stream are dropped.
func (m *Manager) HandleEvent(ev ConnEvent) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stream == nil || ev.Generation != m.generation {
		m.logger.Debug("Dropping event from replaced transcription stream",
			slog.String("event", ev.Type.String()),
			slog.Uint64("event_generation", ev.Generation),
			slog.Uint64("generation", m.generation),
		)
		return nil, false
	}

	switch ev.Type {
	case EventOpen:
		m.logger.Info("Transcription stream opened",
			slog.Uint64("generation", m.generation),
			slog.Int("pending_bytes", m.pendingBytes),
		)
		m.startHeartbeatLocked()
		m.flushPendingLocked()

	case EventMessage:
		return ev.Data, true

	case EventError:
		m.errors++
		m.metrics.RecordTranscriptionError()
		errText := "unknown error"
		if ev.Err != nil {
			errText = ev.Err.Error()
		}
		m.logger.Warn("Transcription stream error",
			slog.Uint64("generation", m.generation),
			slog.String("error", errText),
		)

	case EventClose:
		m.logger.Info("Transcription stream closed",
			slog.Uint64("generation", m.generation),
		)
		m.stopHeartbeatLocked()
		if err := m.stream.Finish(); err != nil {
			m.logger.Debug("Finish after close failed", slog.String("error", err.Error()))
		}
	}

	return nil, false
}

// OnHeartbeat sends a keep-alive on an open stream
func (m *Manager) OnHeartbeat() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stream == nil || m.stream.ReadyState() != StateOpen {
		return
	}

	if err := m.stream.KeepAlive(); err != nil {
		m.logger.Warn("Failed to send keep-alive",
			slog.Uint64("generation", m.generation),
			slog.String("error", err.Error()),
		)
	}
}

// Send forwards an audio chunk. While the stream is connecting the chunk is
// queued; when the stream is closing or closed it is replaced and the chunk
// is queued for the new one.
func (m *Manager) Send(chunk []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrManagerClosed
	}

	if m.stream == nil {
		m.connectLocked()
	}

	switch state := m.stream.ReadyState(); state {
	case StateOpen:
		m.flushPendingLocked()
		if len(m.pending) > 0 {
			m.enqueueLocked(chunk)
			return nil
		}
		if err := m.stream.Send(chunk); err != nil {
			// The stream went away under us; keep the audio for its successor
			m.logger.Warn("Send on open transcription stream failed, queueing chunk",
				slog.Uint64("generation", m.generation),
				slog.String("error", err.Error()),
			)
			m.enqueueLocked(chunk)
			return nil
		}
		m.recordSentLocked(chunk)

	case StateConnecting:
		m.enqueueLocked(chunk)

	default:
		m.logger.Info("Transcription stream not open, reconnecting",
			slog.String("state", state.String()),
			slog.Uint64("generation", m.generation),
		)
		m.reconnectLocked()
		m.enqueueLocked(chunk)
	}

	return nil
}

// Close detaches and finishes the attached stream and stops the heartbeat.
// Queued audio that never reached an open stream is discarded.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}
	m.closed = true

	if m.pendingBytes > 0 {
		m.logger.Warn("Discarding audio queued for an unopened transcription stream",
			slog.Int("pending_bytes", m.pendingBytes),
		)
		m.droppedBytes += uint64(m.pendingBytes)
		m.metrics.RecordPendingDropped(m.pendingBytes)
		m.pending = nil
		m.pendingBytes = 0
	}

	if m.stream == nil {
		return nil
	}

	m.detachLocked()
	if err := m.stream.Finish(); err != nil {
		return fmt.Errorf("failed to finish transcription stream: %w", err)
	}

	return nil
}

// State returns the ready state of the attached stream
func (m *Manager) State() ReadyState {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stream == nil {
		return StateClosed
	}
	return m.stream.ReadyState()
}

// ListenerCount returns the number of streams whose events are being pumped.
// It never exceeds one.
func (m *Manager) ListenerCount() int {
	return int(m.listeners.Load())
}

// GetStats returns current connection statistics
func (m *Manager) GetStats() ManagerStats {
	m.mu.Lock()
	defer m.mu.Unlock()

	state := StateClosed
	if m.stream != nil {
		state = m.stream.ReadyState()
	}

	return ManagerStats{
		State:        state.String(),
		Generation:   m.generation,
		Connects:     m.connects,
		Reconnects:   m.reconnects,
		Errors:       m.errors,
		ChunksSent:   m.chunksSent,
		BytesSent:    m.bytesSent,
		PendingBytes: m.pendingBytes,
		DroppedBytes: m.droppedBytes,
		Listeners:    m.listeners.Load(),
	}
}

func (m *Manager) connectLocked() {
	m.generation++
	m.connects++
	m.metrics.RecordTranscriptionConnect()

	m.stream = m.dialer.Dial(m.ctx, m.config.Options)
	m.attachLocked(m.stream, m.generation)

	m.logger.Debug("Dialing transcription stream",
		slog.Uint64("generation", m.generation),
	)
}

// reconnectLocked replaces the attached stream. The old stream's pump is
// stopped before the new one starts, so only one listener is ever attached.
func (m *Manager) reconnectLocked() {
	old := m.stream

	m.detachLocked()
	if err := old.Finish(); err != nil {
		m.logger.Debug("Finish of replaced stream failed", slog.String("error", err.Error()))
	}

	m.reconnects++
	m.metrics.RecordTranscriptionReconnect()
	m.connectLocked()
}

func (m *Manager) attachLocked(s Stream, generation uint64) {
	ctx, cancel := context.WithCancel(m.ctx)
	done := make(chan struct{})

	m.pumpCancel = cancel
	m.pumpDone = done
	m.listeners.Add(1)

	go func() {
		defer close(done)
		defer m.listeners.Add(-1)

		events := s.Events()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-events:
				if !ok {
					return
				}
				select {
				case m.out <- ConnEvent{Generation: generation, Event: ev}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
}

func (m *Manager) detachLocked() {
	m.stopHeartbeatLocked()

	if m.pumpCancel == nil {
		return
	}

	m.pumpCancel()
	<-m.pumpDone
	m.pumpCancel = nil
	m.pumpDone = nil
}

func (m *Manager) startHeartbeatLocked() {
	m.stopHeartbeatLocked()

	if m.config.HeartbeatInterval > 0 {
		m.heartbeat = time.NewTicker(m.config.HeartbeatInterval)
	}
}

func (m *Manager) stopHeartbeatLocked() {
	if m.heartbeat != nil {
		m.heartbeat.Stop()
		m.heartbeat = nil
	}
}

// enqueueLocked appends to the pending queue, dropping the oldest chunks
// once the byte cap is exceeded
func (m *Manager) enqueueLocked(chunk []byte) {
	m.pending = append(m.pending, chunk)
	m.pendingBytes += len(chunk)

	limit := m.config.MaxPendingBytes
	if limit <= 0 {
		return
	}

	dropped := 0
	for m.pendingBytes > limit && len(m.pending) > 1 {
		dropped += len(m.pending[0])
		m.pendingBytes -= len(m.pending[0])
		m.pending[0] = nil
		m.pending = m.pending[1:]
	}

	if dropped > 0 {
		m.droppedBytes += uint64(dropped)
		m.metrics.RecordPendingDropped(dropped)
		m.logger.Warn("Reconnect buffer full, dropped oldest audio",
			slog.Int("dropped_bytes", dropped),
			slog.Int("pending_bytes", m.pendingBytes),
		)
	}
}

// flushPendingLocked forwards queued chunks in order. It stops at the first
// failure and keeps the rest queued.
func (m *Manager) flushPendingLocked() {
	for len(m.pending) > 0 {
		if m.stream.ReadyState() != StateOpen {
			return
		}

		chunk := m.pending[0]
		if err := m.stream.Send(chunk); err != nil {
			m.logger.Warn("Failed to forward queued audio",
				slog.Uint64("generation", m.generation),
				slog.String("error", err.Error()),
			)
			return
		}

		m.recordSentLocked(chunk)
		m.pendingBytes -= len(chunk)
		m.pending[0] = nil
		m.pending = m.pending[1:]
	}

	m.pending = nil
}

func (m *Manager) recordSentLocked(chunk []byte) {
	m.chunksSent++
	m.bytesSent += uint64(len(chunk))
	m.metrics.RecordChunkForwarded(len(chunk))
}
