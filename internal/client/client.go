package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/diegoasua/dubbing/internal/playback"
	"github.com/diegoasua/dubbing/internal/protocol"
)

const writeTimeout = 10 * time.Second

// Stats represents voice client statistics
type Stats struct {
	SessionID     string `json:"session_id"`
	FramesSent    uint64 `json:"frames_sent"`
	BytesSent     uint64 `json:"bytes_sent"`
	Captions      uint64 `json:"captions"`
	ClipsReceived uint64 `json:"clips_received"`
	ClipsPlayed   uint64 `json:"clips_played"`
}

// Client is one connection to the relay server. It sends captured audio,
// prints captions and plays clips through a playback queue.
type Client struct {
	conn     *websocket.Conn
	queue    *playback.Queue
	captions io.Writer
	logger   *slog.Logger

	writeMu   sync.Mutex
	closeOnce sync.Once
	closeErr  error

	sessionID     atomic.Value // string
	framesSent    atomic.Uint64
	bytesSent     atomic.Uint64
	captionCount  atomic.Uint64
	clipsReceived atomic.Uint64
	clipsPlayed   atomic.Uint64

	readDone chan struct{}
	readErr  error
}

// Dial connects to the relay server. Captions are written to captions one
// per line; clips are played by player.
func Dial(ctx context.Context, serverURL string, player playback.Player, captions io.Writer, logger *slog.Logger) (*Client, error) {
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, serverURL, http.Header{})
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("failed to connect to %s: %w (status %d)", serverURL, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("failed to connect to %s: %w", serverURL, err)
	}

	c := &Client{
		conn:     conn,
		captions: captions,
		logger:   logger,
		readDone: make(chan struct{}),
	}
	c.sessionID.Store("")

	c.queue = playback.NewQueue(player, logger,
		playback.OnStart(func(entry playback.Entry) {
			c.reportPlayback(protocol.EventPlaybackStarted, entry.Clip)
		}),
		playback.OnFinish(func(entry playback.Entry, err error) {
			if err == nil {
				c.clipsPlayed.Add(1)
			}
			c.reportPlayback(protocol.EventPlaybackFinished, entry.Clip)
		}),
	)

	go c.readLoop()

	return c, nil
}

// Run streams source to the server. When the source ends, Run waits up to
// linger for outstanding clips, then closes the connection. It returns
// early if the server goes away.
func (c *Client) Run(ctx context.Context, source Source, linger time.Duration) error {
	defer c.Close()

	sourceErr := make(chan error, 1)
	go func() {
		sourceErr <- source.Stream(ctx, c.SendAudio)
	}()

	select {
	case err := <-sourceErr:
		if err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("audio source failed: %w", err)
		}
	case <-c.readDone:
		return c.readErr
	}

	if ctx.Err() != nil {
		return nil
	}

	c.logger.Info("Input finished, waiting for remaining clips", slog.Duration("linger", linger))

	lingerTimer := time.NewTimer(linger)
	defer lingerTimer.Stop()

	select {
	case <-lingerTimer.C:
	case <-c.readDone:
		return c.readErr
	case <-ctx.Done():
	}

	return nil
}

// SendAudio sends one captured frame
func (c *Client) SendAudio(frame []byte) error {
	if len(frame) == 0 {
		return nil
	}

	if err := c.write(websocket.BinaryMessage, protocol.EncodePacket(frame)); err != nil {
		return err
	}

	c.framesSent.Add(1)
	c.bytesSent.Add(uint64(len(frame)))
	return nil
}

func (c *Client) reportPlayback(event string, clip uint32) {
	msg, err := protocol.EncodePlayback(event, clip)
	if err != nil {
		return
	}

	if err := c.write(websocket.TextMessage, msg); err != nil {
		c.logger.Debug("Failed to report playback",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}

func (c *Client) write(messageType int, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := c.conn.WriteMessage(messageType, data); err != nil {
		return fmt.Errorf("failed to write to server: %w", err)
	}
	return nil
}

// readLoop handles server messages until the connection closes
func (c *Client) readLoop() {
	defer close(c.readDone)

	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.readErr = fmt.Errorf("connection to server lost: %w", err)
			}
			return
		}

		switch messageType {
		case websocket.BinaryMessage:
			msg, err := protocol.ParseBinary(data)
			if err != nil || msg.Event != protocol.EventAudioChunk {
				c.logger.Warn("Ignoring unexpected binary message")
				continue
			}

			c.clipsReceived.Add(1)
			c.logger.Debug("Clip received",
				slog.Uint64("clip", uint64(msg.Clip)),
				slog.Int("bytes", len(msg.Audio)),
			)
			c.queue.Enqueue(playback.Entry{Clip: msg.Clip, Audio: msg.Audio})

		case websocket.TextMessage:
			msg, err := protocol.ParseText(data)
			if err != nil {
				c.logger.Warn("Ignoring malformed text message", slog.String("error", err.Error()))
				continue
			}
			c.handleText(msg)
		}
	}
}

func (c *Client) handleText(msg *protocol.Message) {
	switch msg.Event {
	case protocol.EventSessionReady:
		c.sessionID.Store(msg.SessionID)
		c.logger.Info("Session ready", slog.String("session_id", msg.SessionID))

	case protocol.EventTranscript:
		// Blank transcripts clear the caption
		if msg.Text == "" {
			return
		}
		c.captionCount.Add(1)
		fmt.Fprintln(c.captions, msg.Text)

	default:
		c.logger.Debug("Ignoring server event", slog.String("event", msg.Event))
	}
}

// GetStats returns current client statistics
func (c *Client) GetStats() Stats {
	return Stats{
		SessionID:     c.sessionID.Load().(string),
		FramesSent:    c.framesSent.Load(),
		BytesSent:     c.bytesSent.Load(),
		Captions:      c.captionCount.Load(),
		ClipsReceived: c.clipsReceived.Load(),
		ClipsPlayed:   c.clipsPlayed.Load(),
	}
}

// Close says goodbye to the server, stops playback and waits for the read
// loop to finish
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		c.writeMu.Lock()
		c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "client done"),
			time.Now().Add(time.Second))
		c.writeMu.Unlock()

		select {
		case <-c.readDone:
		case <-time.After(2 * time.Second):
		}

		c.queue.Close()
		c.closeErr = c.conn.Close()
	})

	return c.closeErr
}
