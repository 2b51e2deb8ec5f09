package server

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/diegoasua/dubbing/internal/config"
	"github.com/diegoasua/dubbing/internal/metrics"
	"github.com/diegoasua/dubbing/internal/protocol"
	"github.com/diegoasua/dubbing/internal/session"
)

// WSHandler accepts client websockets and runs one session per connection
type WSHandler struct {
	sessions     *session.Manager
	upgrader     websocket.Upgrader
	readLimit    int64
	writeTimeout time.Duration
	logger       *slog.Logger
	metrics      *metrics.Metrics

	connectionsAccepted atomic.Uint64
	connectionsRejected atomic.Uint64
	messagesReceived    atomic.Uint64
	parseErrors         atomic.Uint64
}

// WSStats represents websocket ingress statistics
type WSStats struct {
	ConnectionsAccepted uint64 `json:"connections_accepted"`
	ConnectionsRejected uint64 `json:"connections_rejected"`
	MessagesReceived    uint64 `json:"messages_received"`
	ParseErrors         uint64 `json:"parse_errors"`
}

// NewWSHandler creates the session endpoint handler
func NewWSHandler(cfg config.ServerConfig, sessions *session.Manager, logger *slog.Logger, m *metrics.Metrics) *WSHandler {
	h := &WSHandler{
		sessions:     sessions,
		readLimit:    cfg.ReadLimit,
		writeTimeout: cfg.GetWriteTimeoutDuration(),
		logger:       logger,
		metrics:      m,
	}

	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     originChecker(cfg.AllowedOrigins),
	}

	return h
}

// originChecker allows any origin when the list is empty. Requests without
// an Origin header come from non-browser clients and are allowed.
func originChecker(allowed []string) func(r *http.Request) bool {
	if len(allowed) == 0 {
		return func(r *http.Request) bool { return true }
	}

	set := make(map[string]bool, len(allowed))
	for _, origin := range allowed {
		if origin == "*" {
			return func(r *http.Request) bool { return true }
		}
		set[strings.TrimRight(origin, "/")] = true
	}

	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || set[origin]
	}
}

func (h *WSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already replied to the client
		h.logger.Warn("WebSocket upgrade failed",
			slog.String("remote_addr", r.RemoteAddr),
			slog.String("error", err.Error()),
		)
		return
	}

	if h.readLimit > 0 {
		ws.SetReadLimit(h.readLimit)
	}

	conn := newWSConn(ws, h.writeTimeout)

	sess, err := h.sessions.CreateSession(conn, r.RemoteAddr)
	if err != nil {
		h.connectionsRejected.Add(1)

		code := websocket.CloseInternalServerErr
		if errors.Is(err, session.ErrTooManySessions) {
			code = websocket.CloseTryAgainLater
		}
		conn.closeWith(code, err.Error())

		h.logger.Warn("Rejected client connection",
			slog.String("remote_addr", r.RemoteAddr),
			slog.String("error", err.Error()),
		)
		return
	}

	h.connectionsAccepted.Add(1)
	logger := h.logger.With(slog.String("session_id", sess.ID))

	if err := conn.SendSessionReady(sess.ID); err != nil {
		logger.Warn("Failed to greet client", slog.String("error", err.Error()))
	}

	h.readLoop(ws, sess, logger)

	h.sessions.RemoveSession(sess.ID)
}

// readLoop feeds client messages into the session until the connection or
// the session ends
func (h *WSHandler) readLoop(ws *websocket.Conn, sess *session.Session, logger *slog.Logger) {
	for {
		messageType, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Warn("Client connection lost", slog.String("error", err.Error()))
			} else {
				logger.Debug("Client disconnected", slog.String("reason", err.Error()))
			}
			return
		}

		h.messagesReceived.Add(1)

		switch messageType {
		case websocket.BinaryMessage:
			msg, err := protocol.ParseBinary(data)
			if err != nil {
				h.parseErrors.Add(1)
				logger.Warn("Dropping malformed binary frame", slog.String("error", err.Error()))
				continue
			}

			if msg.Event != protocol.EventPacketSent {
				logger.Warn("Ignoring unexpected binary event", slog.String("event", msg.Event))
				continue
			}

			if err := sess.PushAudio(msg.Audio); err != nil {
				logger.Debug("Session stopped accepting audio", slog.String("error", err.Error()))
				return
			}

		case websocket.TextMessage:
			msg, err := protocol.ParseText(data)
			if err != nil {
				h.parseErrors.Add(1)
				logger.Warn("Dropping malformed text frame", slog.String("error", err.Error()))
				continue
			}

			if err := sess.HandleControl(*msg); err != nil {
				logger.Debug("Session stopped accepting control messages", slog.String("error", err.Error()))
				return
			}
		}
	}
}

// GetStats returns current websocket statistics
func (h *WSHandler) GetStats() WSStats {
	return WSStats{
		ConnectionsAccepted: h.connectionsAccepted.Load(),
		ConnectionsRejected: h.connectionsRejected.Load(),
		MessagesReceived:    h.messagesReceived.Load(),
		ParseErrors:         h.parseErrors.Load(),
	}
}

// wsConn is the server side of a client websocket. Writes are serialized
// because gorilla connections allow one concurrent writer.
type wsConn struct {
	ws           *websocket.Conn
	writeTimeout time.Duration

	writeMu   sync.Mutex
	closeOnce sync.Once
}

func newWSConn(ws *websocket.Conn, writeTimeout time.Duration) *wsConn {
	if writeTimeout <= 0 {
		writeTimeout = 10 * time.Second
	}
	return &wsConn{ws: ws, writeTimeout: writeTimeout}
}

func (c *wsConn) write(messageType int, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	if err := c.ws.WriteMessage(messageType, data); err != nil {
		return fmt.Errorf("failed to write to client: %w", err)
	}
	return nil
}

func (c *wsConn) SendTranscript(text string) error {
	frame, err := protocol.EncodeTranscript(text)
	if err != nil {
		return err
	}
	return c.write(websocket.TextMessage, frame)
}

func (c *wsConn) SendAudio(clip uint32, audio []byte) error {
	return c.write(websocket.BinaryMessage, protocol.EncodeAudioChunk(clip, audio))
}

func (c *wsConn) SendSessionReady(id string) error {
	frame, err := protocol.EncodeSessionReady(id)
	if err != nil {
		return err
	}
	return c.write(websocket.TextMessage, frame)
}

// Close sends a normal close frame and closes the socket
func (c *wsConn) Close() error {
	return c.closeWith(websocket.CloseNormalClosure, "session closed")
}

func (c *wsConn) closeWith(code int, reason string) error {
	var err error

	c.closeOnce.Do(func() {
		c.writeMu.Lock()
		c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(code, reason),
			time.Now().Add(time.Second))
		c.writeMu.Unlock()

		err = c.ws.Close()
	})

	return err
}
