package session

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/diegoasua/dubbing/internal/synthesis"
	"github.com/diegoasua/dubbing/internal/transcription"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

// eventually polls cond until it holds or the deadline passes
func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("Timed out waiting for %s", what)
}

// fakeStream is an in-memory transcription stream
type fakeStream struct {
	mu       sync.Mutex
	state    transcription.ReadyState
	sent     [][]byte
	finished int
	events   chan transcription.Event
}

func (s *fakeStream) ReadyState() transcription.ReadyState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *fakeStream) Send(chunk []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != transcription.StateOpen {
		return transcription.ErrNotOpen
	}
	s.sent = append(s.sent, append([]byte(nil), chunk...))
	return nil
}

func (s *fakeStream) KeepAlive() error { return nil }

func (s *fakeStream) Finish() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.finished++
	if s.state == transcription.StateOpen || s.state == transcription.StateConnecting {
		s.state = transcription.StateClosing
	}
	return nil
}

func (s *fakeStream) Events() <-chan transcription.Event { return s.events }

func (s *fakeStream) open() {
	s.mu.Lock()
	s.state = transcription.StateOpen
	s.mu.Unlock()
	s.events <- transcription.Event{Type: transcription.EventOpen}
}

func (s *fakeStream) say(payload string) {
	s.events <- transcription.Event{Type: transcription.EventMessage, Data: []byte(payload)}
}

func (s *fakeStream) hangUp() {
	s.mu.Lock()
	s.state = transcription.StateClosed
	s.mu.Unlock()
	s.events <- transcription.Event{Type: transcription.EventClose}
}

func (s *fakeStream) received() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []byte
	for _, chunk := range s.sent {
		out = append(out, chunk...)
	}
	return out
}

func (s *fakeStream) chunkCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}

func (s *fakeStream) finishCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.finished
}

type fakeDialer struct {
	mu      sync.Mutex
	streams []*fakeStream
}

func (d *fakeDialer) Dial(ctx context.Context, opts transcription.Options) transcription.Stream {
	d.mu.Lock()
	defer d.mu.Unlock()
	s := &fakeStream{state: transcription.StateConnecting, events: make(chan transcription.Event, 16)}
	d.streams = append(d.streams, s)
	return s
}

func (d *fakeDialer) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.streams)
}

func (d *fakeDialer) stream(t *testing.T, i int) *fakeStream {
	t.Helper()
	eventually(t, "stream dial", func() bool { return d.count() > i })

	d.mu.Lock()
	defer d.mu.Unlock()
	return d.streams[i]
}

type sentClip struct {
	seq   uint32
	audio []byte
}

// fakeConn records what the session sends to the client
type fakeConn struct {
	mu          sync.Mutex
	transcripts []string
	clips       []sentClip
	closed      int
	failAudio   bool
}

func (c *fakeConn) SendTranscript(text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.transcripts = append(c.transcripts, text)
	return nil
}

func (c *fakeConn) SendAudio(clip uint32, audio []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failAudio {
		return errors.New("connection gone")
	}
	c.clips = append(c.clips, sentClip{seq: clip, audio: audio})
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed++
	return nil
}

func (c *fakeConn) getTranscripts() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.transcripts...)
}

func (c *fakeConn) getClips() []sentClip {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]sentClip(nil), c.clips...)
}

func (c *fakeConn) closeCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// fakeSynth returns a clip echoing the text unless fn overrides it
type fakeSynth struct {
	mu    sync.Mutex
	texts []string
	fn    func(ctx context.Context, text string) (*synthesis.Clip, error)
}

func (s *fakeSynth) Synthesize(ctx context.Context, text string) (*synthesis.Clip, error) {
	s.mu.Lock()
	s.texts = append(s.texts, text)
	fn := s.fn
	s.mu.Unlock()

	if fn != nil {
		return fn(ctx, text)
	}
	return &synthesis.Clip{Text: text, Audio: []byte("audio:" + text), Latency: time.Millisecond}, nil
}

func (s *fakeSynth) calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.texts...)
}

func finalResult(text string) string {
	return resultMessage(text, true)
}

func interimResult(text string) string {
	return resultMessage(text, false)
}

func resultMessage(text string, final bool) string {
	type alternative struct {
		Transcript string `json:"transcript"`
	}
	msg := struct {
		Type    string `json:"type"`
		IsFinal bool   `json:"is_final"`
		Channel struct {
			Alternatives []alternative `json:"alternatives"`
		} `json:"channel"`
	}{Type: "Results", IsFinal: final}
	msg.Channel.Alternatives = []alternative{{Transcript: text}}

	data, err := json.Marshal(msg)
	if err != nil {
		panic(err)
	}
	return string(data)
}
