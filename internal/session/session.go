package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/diegoasua/dubbing/internal/audio"
	"github.com/diegoasua/dubbing/internal/metrics"
	"github.com/diegoasua/dubbing/internal/protocol"
	"github.com/diegoasua/dubbing/internal/synthesis"
	"github.com/diegoasua/dubbing/internal/transcription"
)

// ErrSessionClosed is returned when input arrives after teardown started
var ErrSessionClosed = errors.New("session is closed")

// ClientConn is the connection back to the client. Implementations must be
// safe for concurrent use.
type ClientConn interface {
	SendTranscript(text string) error
	SendAudio(clip uint32, audio []byte) error
	Close() error
}

// Synthesizer produces clips for final transcripts
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) (*synthesis.Clip, error)
}

// Config contains per-session parameters
type Config struct {
	AggregationWindow time.Duration
	MaxBufferBytes    int
	FrameQueueSize    int
	Transcription     transcription.ManagerConfig
}

// Session relays one client connection. A single worker goroutine owns the
// aggregator, the transcription manager and the router; synthesis runs in
// goroutines of its own and delivers clips directly to the client.
type Session struct {
	ID         string
	RemoteAddr string
	StartTime  time.Time

	conn    ClientConn
	synth   Synthesizer
	mgr     *transcription.Manager
	agg     *audio.Aggregator
	router  *Router
	latency *Latency

	frames   chan audio.Frame
	controls chan protocol.Message

	connCtx     context.Context
	connCancel  context.CancelFunc
	synthCtx    context.Context
	synthCancel context.CancelFunc
	synthWG     sync.WaitGroup

	stop      chan struct{}
	done      chan struct{}
	closed    atomic.Bool
	closeOnce sync.Once

	// worker-owned
	window    time.Duration
	turnStart time.Time

	deliverMu sync.Mutex
	clipSeq   uint32

	lastActivity atomic.Int64

	framesReceived    atomic.Uint64
	bytesReceived     atomic.Uint64
	transcripts       atomic.Uint64
	clipsDelivered    atomic.Uint64
	synthesisFailures atomic.Uint64
	synthesisInFlight atomic.Int32

	logger  *slog.Logger
	metrics *metrics.Metrics
}

// SessionInfo represents session information for monitoring and APIs
type SessionInfo struct {
	ID           string        `json:"id"`
	RemoteAddr   string        `json:"remote_addr"`
	StartTime    time.Time     `json:"start_time"`
	LastActivity time.Time     `json:"last_activity"`
	Duration     time.Duration `json:"duration"`

	FramesReceived uint64 `json:"frames_received"`
	BytesReceived  uint64 `json:"bytes_received"`
	PendingBytes   int    `json:"aggregator_pending_bytes"`

	Transcription transcription.ManagerStats `json:"transcription"`

	Transcripts       uint64 `json:"transcripts"`
	ClipsDelivered    uint64 `json:"clips_delivered"`
	SynthesisInFlight int32  `json:"synthesis_in_flight"`
	SynthesisFailures uint64 `json:"synthesis_failures"`

	Latency LatencySnapshot `json:"latency"`
}

func newSession(id, remoteAddr string, conn ClientConn, dialer transcription.Dialer, synth Synthesizer,
	config Config, logger *slog.Logger, m *metrics.Metrics) (*Session, error) {

	now := time.Now()

	connCtx, connCancel := context.WithCancel(context.Background())
	synthCtx, synthCancel := context.WithCancel(context.Background())

	queueSize := config.FrameQueueSize
	if queueSize <= 0 {
		queueSize = 64
	}

	s := &Session{
		ID:          id,
		RemoteAddr:  remoteAddr,
		StartTime:   now,
		conn:        conn,
		synth:       synth,
		latency:     newLatency(time.Now),
		frames:      make(chan audio.Frame, queueSize),
		controls:    make(chan protocol.Message, queueSize),
		connCtx:     connCtx,
		connCancel:  connCancel,
		synthCtx:    synthCtx,
		synthCancel: synthCancel,
		stop:        make(chan struct{}),
		done:        make(chan struct{}),
		window:      config.AggregationWindow,
		logger:      logger.With(slog.String("session_id", id)),
		metrics:     m,
	}
	s.lastActivity.Store(now.UnixNano())

	s.mgr = transcription.NewManager(connCtx, dialer, config.Transcription, s.logger, m)

	agg, err := audio.NewAggregator(config.AggregationWindow, config.MaxBufferBytes, s.mgr.Send)
	if err != nil {
		connCancel()
		synthCancel()
		return nil, fmt.Errorf("failed to create aggregator: %w", err)
	}
	s.agg = agg
	s.router = NewRouter(s, s.logger, m)

	return s, nil
}

// start dials the transcription stream and launches the worker
func (s *Session) start() {
	s.mgr.Start()
	go s.run()
}

// PushAudio queues a captured audio frame for the worker
func (s *Session) PushAudio(data []byte) error {
	if s.closed.Load() {
		return ErrSessionClosed
	}

	now := time.Now()
	s.lastActivity.Store(now.UnixNano())

	select {
	case s.frames <- audio.Frame{Data: data, ArrivedAt: now}:
		return nil
	case <-s.stop:
		return ErrSessionClosed
	}
}

// HandleControl queues a client control message for the worker
func (s *Session) HandleControl(msg protocol.Message) error {
	if s.closed.Load() {
		return ErrSessionClosed
	}

	s.lastActivity.Store(time.Now().UnixNano())

	select {
	case s.controls <- msg:
		return nil
	case <-s.stop:
		return ErrSessionClosed
	}
}

// Close tears the session down and waits until it is done: buffered audio is
// flushed, the transcription stream is finished and detached, and in-flight
// synthesis is cancelled and awaited. It is safe to call more than once.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		close(s.stop)
	})
	<-s.done
}

// Done is closed once teardown has completed
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// LastActivity returns the time of the last client input
func (s *Session) LastActivity() time.Time {
	return time.Unix(0, s.lastActivity.Load())
}

// Latency returns the session's timings
func (s *Session) Latency() *Latency {
	return s.latency
}

func (s *Session) run() {
	defer close(s.done)

	ticker := time.NewTicker(s.window)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			s.teardown()
			return

		case frame := <-s.frames:
			s.handleFrame(frame)

		case msg := <-s.controls:
			s.handleControl(msg)

		case ev := <-s.mgr.Events():
			if data, ok := s.mgr.HandleEvent(ev); ok {
				s.router.OnEvent(data)
			}

		case <-s.mgr.Heartbeat():
			s.mgr.OnHeartbeat()

		case <-ticker.C:
			if err := s.agg.Tick(); err != nil {
				s.logger.Warn("Failed to forward aggregated audio", slog.String("error", err.Error()))
			}
		}
	}
}

func (s *Session) handleFrame(frame audio.Frame) {
	s.framesReceived.Add(1)
	s.bytesReceived.Add(uint64(len(frame.Data)))
	s.metrics.RecordFrame(len(frame.Data))

	s.latency.MarkPacket(frame.ArrivedAt)

	if err := s.agg.AddFrame(frame); err != nil {
		s.logger.Warn("Failed to forward aggregated audio", slog.String("error", err.Error()))
	}
}

func (s *Session) handleControl(msg protocol.Message) {
	switch msg.Event {
	case protocol.EventPlaybackStarted:
		d, ok := s.latency.PlaybackStarted(msg.Clip)
		if !ok {
			s.logger.Debug("Playback started for untracked clip", slog.Uint64("clip", uint64(msg.Clip)))
			return
		}
		s.metrics.RecordPlaybackLatency(d.Seconds())
		s.logger.Info("Playback started",
			slog.Uint64("clip", uint64(msg.Clip)),
			slog.Duration("capture_to_playback", d),
		)

	case protocol.EventPlaybackFinished:
		s.latency.Forget(msg.Clip)
		s.logger.Debug("Playback finished", slog.Uint64("clip", uint64(msg.Clip)))

	default:
		s.logger.Warn("Ignoring unknown client event", slog.String("event", msg.Event))
	}
}

// Display implements Target. It runs on the worker goroutine.
func (s *Session) Display(event *transcription.TranscriptEvent) {
	s.transcripts.Add(1)

	turnStart, latency, first := s.latency.MarkTranscript(event.IsFinal)
	if first {
		s.metrics.RecordTranscriptLatency(latency.Seconds())
		s.logger.Debug("Transcript latency",
			slog.Duration("first_packet_to_transcript", latency),
			slog.Bool("is_final", event.IsFinal),
		)
	}
	if event.IsFinal {
		s.turnStart = turnStart
	}

	if err := s.conn.SendTranscript(event.Text); err != nil {
		s.logger.Warn("Failed to send transcript to client", slog.String("error", err.Error()))
	}
}

// Synthesize implements Target. The request runs in its own goroutine; the
// worker does not wait for it.
func (s *Session) Synthesize(text string) {
	captureStart := s.turnStart

	s.synthWG.Add(1)
	s.synthesisInFlight.Add(1)

	go func() {
		defer s.synthWG.Done()
		defer s.synthesisInFlight.Add(-1)

		clip, err := s.synth.Synthesize(s.synthCtx, text)
		if err != nil {
			if s.synthCtx.Err() != nil {
				s.logger.Debug("Synthesis abandoned at teardown", slog.String("text", text))
				return
			}
			s.synthesisFailures.Add(1)
			s.logger.Error("Synthesis failed",
				slog.String("text", text),
				slog.String("error", err.Error()),
			)
			return
		}
		if clip == nil {
			return
		}

		s.latency.MarkSynthesis(clip.Latency)
		s.deliver(clip, captureStart)
	}()
}

// deliver numbers a clip and sends it. Numbering and sending happen under
// one lock so clips reach the client in sequence order.
func (s *Session) deliver(clip *synthesis.Clip, captureStart time.Time) {
	s.deliverMu.Lock()
	defer s.deliverMu.Unlock()

	if s.synthCtx.Err() != nil {
		return
	}

	s.clipSeq++
	seq := s.clipSeq
	s.latency.AssignClip(seq, captureStart)

	if err := s.conn.SendAudio(seq, clip.Audio); err != nil {
		s.latency.Forget(seq)
		s.logger.Warn("Failed to send clip to client",
			slog.Uint64("clip", uint64(seq)),
			slog.String("error", err.Error()),
		)
		return
	}

	s.clipsDelivered.Add(1)
	s.logger.Info("Clip delivered",
		slog.Uint64("clip", uint64(seq)),
		slog.String("text", clip.Text),
		slog.Int("bytes", len(clip.Audio)),
		slog.String("format", clip.Format),
		slog.Duration("synthesis_latency", clip.Latency),
		slog.Duration("clip_duration", clip.Duration),
	)
}

// teardown runs on the worker once Close was called
func (s *Session) teardown() {
	// Frames queued before Close still belong to the final flush
	for drained := false; !drained; {
		select {
		case frame := <-s.frames:
			s.handleFrame(frame)
		default:
			drained = true
		}
	}

	if err := s.agg.Flush(); err != nil {
		s.logger.Warn("Failed to flush audio at teardown", slog.String("error", err.Error()))
	}

	if err := s.mgr.Close(); err != nil {
		s.logger.Warn("Failed to close transcription stream", slog.String("error", err.Error()))
	}
	s.connCancel()

	s.synthCancel()
	s.synthWG.Wait()

	stats := s.mgr.GetStats()
	s.logger.Info("Session closed",
		slog.String("remote_addr", s.RemoteAddr),
		slog.Duration("duration", time.Since(s.StartTime)),
		slog.Uint64("frames_received", s.framesReceived.Load()),
		slog.Uint64("bytes_forwarded", stats.BytesSent),
		slog.Uint64("reconnects", stats.Reconnects),
		slog.Uint64("transcripts", s.transcripts.Load()),
		slog.Uint64("clips_delivered", s.clipsDelivered.Load()),
		slog.Uint64("synthesis_failures", s.synthesisFailures.Load()),
	)
}

// GetSessionInfo returns a snapshot of the session for monitoring
func (s *Session) GetSessionInfo() SessionInfo {
	return SessionInfo{
		ID:                s.ID,
		RemoteAddr:        s.RemoteAddr,
		StartTime:         s.StartTime,
		LastActivity:      s.LastActivity(),
		Duration:          time.Since(s.StartTime),
		FramesReceived:    s.framesReceived.Load(),
		BytesReceived:     s.bytesReceived.Load(),
		PendingBytes:      s.agg.Pending(),
		Transcription:     s.mgr.GetStats(),
		Transcripts:       s.transcripts.Load(),
		ClipsDelivered:    s.clipsDelivered.Load(),
		SynthesisInFlight: s.synthesisInFlight.Load(),
		SynthesisFailures: s.synthesisFailures.Load(),
		Latency:           s.latency.Snapshot(),
	}
}

// TranscriptionState returns the ready state of the session's stream
func (s *Session) TranscriptionState() transcription.ReadyState {
	return s.mgr.State()
}
