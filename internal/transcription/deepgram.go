package transcription

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// DefaultDeepgramEndpoint is the hosted live transcription endpoint
	DefaultDeepgramEndpoint = "wss://api.deepgram.com/v1/listen"

	deepgramWriteTimeout = 10 * time.Second
	deepgramCloseGrace   = 3 * time.Second
	streamEventBuffer    = 64
)

var (
	keepAliveMessage   = []byte(`{"type":"KeepAlive"}`)
	closeStreamMessage = []byte(`{"type":"CloseStream"}`)
)

// DeepgramDialer opens live transcription websockets against a
// Deepgram-compatible endpoint
type DeepgramDialer struct {
	endpoint string
	apiKey   string
	dialer   *websocket.Dialer
	logger   *slog.Logger
}

// NewDeepgramDialer creates a dialer for the given endpoint
func NewDeepgramDialer(endpoint, apiKey string, handshakeTimeout time.Duration, logger *slog.Logger) *DeepgramDialer {
	if endpoint == "" {
		endpoint = DefaultDeepgramEndpoint
	}

	return &DeepgramDialer{
		endpoint: endpoint,
		apiKey:   apiKey,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: handshakeTimeout,
		},
		logger: logger,
	}
}

// Dial starts connecting in the background and returns a stream in
// StateConnecting
func (d *DeepgramDialer) Dial(ctx context.Context, opts Options) Stream {
	target := d.endpoint + "?" + opts.Query().Encode()

	header := http.Header{}
	header.Set("Authorization", "Token "+d.apiKey)

	dialCtx, cancel := context.WithCancel(ctx)

	s := &deepgramStream{
		events:     make(chan Event, streamEventBuffer),
		done:       make(chan struct{}),
		dialCancel: cancel,
		logger:     d.logger,
	}
	s.state.Store(int32(StateConnecting))

	go s.run(dialCtx, d.dialer, target, header)

	return s
}

// deepgramStream is a single live websocket. All events are emitted from the
// run goroutine, which also owns closing the events channel.
type deepgramStream struct {
	state atomic.Int32

	conn   *websocket.Conn
	connMu sync.Mutex

	writeMu sync.Mutex

	events     chan Event
	done       chan struct{}
	dialCancel context.CancelFunc
	finishOnce sync.Once

	logger *slog.Logger
}

func (s *deepgramStream) ReadyState() ReadyState {
	return ReadyState(s.state.Load())
}

func (s *deepgramStream) Events() <-chan Event {
	return s.events
}

// run dials, then reads until the connection ends
func (s *deepgramStream) run(ctx context.Context, dialer *websocket.Dialer, target string, header http.Header) {
	defer close(s.events)
	defer s.dialCancel()

	conn, resp, err := dialer.DialContext(ctx, target, header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		finishing := s.ReadyState() == StateClosing
		s.state.Store(int32(StateClosed))
		if !finishing {
			if resp != nil {
				err = fmt.Errorf("handshake failed with status %d: %w", resp.StatusCode, err)
			}
			s.emit(Event{Type: EventError, Err: fmt.Errorf("failed to connect to transcription provider: %w", err)})
		}
		s.emit(Event{Type: EventClose})
		return
	}

	s.connMu.Lock()
	if !s.state.CompareAndSwap(int32(StateConnecting), int32(StateOpen)) {
		// Finish raced the handshake
		s.connMu.Unlock()
		conn.Close()
		s.state.Store(int32(StateClosed))
		s.emit(Event{Type: EventClose})
		return
	}
	s.conn = conn
	s.connMu.Unlock()

	s.emit(Event{Type: EventOpen})
	s.readLoop(conn)
}

func (s *deepgramStream) readLoop(conn *websocket.Conn) {
	defer conn.Close()

	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			finishing := s.ReadyState() == StateClosing
			s.state.Store(int32(StateClosed))

			if !finishing && !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				s.emit(Event{Type: EventError, Err: fmt.Errorf("transcription stream read failed: %w", err)})
			}
			s.emit(Event{Type: EventClose})
			return
		}

		if messageType != websocket.TextMessage {
			continue
		}

		s.emit(Event{Type: EventMessage, Data: data})
	}
}

// emit delivers an event unless the stream has been finished and nobody
// is draining the channel any more
func (s *deepgramStream) emit(ev Event) {
	select {
	case s.events <- ev:
	case <-s.done:
	}
}

// Send writes one binary audio chunk
func (s *deepgramStream) Send(chunk []byte) error {
	if s.ReadyState() != StateOpen {
		return ErrNotOpen
	}
	return s.write(websocket.BinaryMessage, chunk)
}

// KeepAlive tells the provider the stream is idle but alive
func (s *deepgramStream) KeepAlive() error {
	if s.ReadyState() != StateOpen {
		return ErrNotOpen
	}
	return s.write(websocket.TextMessage, keepAliveMessage)
}

// Finish asks the provider to flush and close. The socket is closed by the
// read loop once the provider hangs up or the grace period passes.
func (s *deepgramStream) Finish() error {
	var err error

	s.finishOnce.Do(func() {
		defer close(s.done)

		if s.state.CompareAndSwap(int32(StateConnecting), int32(StateClosing)) {
			s.dialCancel()
			return
		}

		if !s.state.CompareAndSwap(int32(StateOpen), int32(StateClosing)) {
			return
		}

		s.connMu.Lock()
		conn := s.conn
		s.connMu.Unlock()

		if werr := s.writeLocked(conn, websocket.TextMessage, closeStreamMessage); werr != nil {
			err = fmt.Errorf("failed to send close stream: %w", werr)
			conn.Close()
			return
		}

		conn.SetReadDeadline(time.Now().Add(deepgramCloseGrace))
	})

	return err
}

func (s *deepgramStream) write(messageType int, data []byte) error {
	s.connMu.Lock()
	conn := s.conn
	s.connMu.Unlock()

	if conn == nil {
		return ErrNotOpen
	}

	return s.writeLocked(conn, messageType, data)
}

func (s *deepgramStream) writeLocked(conn *websocket.Conn, messageType int, data []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	conn.SetWriteDeadline(time.Now().Add(deepgramWriteTimeout))
	if err := conn.WriteMessage(messageType, data); err != nil {
		return fmt.Errorf("failed to write to transcription stream: %w", err)
	}

	return nil
}
