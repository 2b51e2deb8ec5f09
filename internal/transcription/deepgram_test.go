package transcription

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// fakeProvider is a minimal live transcription endpoint
type fakeProvider struct {
	mu         sync.Mutex
	authHeader string
	query      string
	audio      [][]byte
	keepAlives int
	closed     bool
}

func (p *fakeProvider) handler(t *testing.T) http.HandlerFunc {
	upgrader := websocket.Upgrader{}

	return func(w http.ResponseWriter, r *http.Request) {
		p.mu.Lock()
		p.authHeader = r.Header.Get("Authorization")
		p.query = r.URL.RawQuery
		p.mu.Unlock()

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("Upgrade failed: %v", err)
			return
		}
		defer conn.Close()

		for {
			messageType, data, err := conn.ReadMessage()
			if err != nil {
				return
			}

			switch messageType {
			case websocket.BinaryMessage:
				p.mu.Lock()
				p.audio = append(p.audio, data)
				p.mu.Unlock()

				reply := `{"type":"Results","is_final":true,"channel":{"alternatives":[{"transcript":"hello world","confidence":0.9}]}}`
				conn.WriteMessage(websocket.TextMessage, []byte(reply))

			case websocket.TextMessage:
				switch {
				case strings.Contains(string(data), "KeepAlive"):
					p.mu.Lock()
					p.keepAlives++
					p.mu.Unlock()
				case strings.Contains(string(data), "CloseStream"):
					p.mu.Lock()
					p.closed = true
					p.mu.Unlock()
					conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"Metadata","request_id":"r1"}`))
					conn.WriteMessage(websocket.CloseMessage,
						websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
					return
				}
			}
		}
	}
}

func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func nextEvent(t *testing.T, s Stream) Event {
	t.Helper()

	select {
	case ev, ok := <-s.Events():
		if !ok {
			t.Fatal("Events channel closed unexpectedly")
		}
		return ev
	case <-time.After(3 * time.Second):
		t.Fatal("Timed out waiting for stream event")
		return Event{}
	}
}

func waitClosed(t *testing.T, s Stream) {
	t.Helper()

	deadline := time.After(5 * time.Second)
	for {
		select {
		case _, ok := <-s.Events():
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("Stream never closed after finish")
		}
	}
}

func TestDeepgramStreamLifecycle(t *testing.T) {
	provider := &fakeProvider{}
	server := httptest.NewServer(provider.handler(t))
	defer server.Close()

	dialer := NewDeepgramDialer(wsURL(server), "secret", 2*time.Second, testLogger())
	opts := Options{
		Language:   "en",
		Model:      "nova-2",
		Punctuate:  true,
		Encoding:   "linear16",
		SampleRate: 44100,
		Channels:   1,
	}

	stream := dialer.Dial(context.Background(), opts)
	if stream.ReadyState() != StateConnecting {
		t.Fatalf("Expected connecting state right after dial, got %s", stream.ReadyState())
	}

	if ev := nextEvent(t, stream); ev.Type != EventOpen {
		t.Fatalf("Expected open event, got %s", ev.Type)
	}

	if stream.ReadyState() != StateOpen {
		t.Fatalf("Expected open state, got %s", stream.ReadyState())
	}

	if err := stream.Send([]byte{1, 2, 3, 4}); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	ev := nextEvent(t, stream)
	if ev.Type != EventMessage {
		t.Fatalf("Expected message event, got %s", ev.Type)
	}

	parsed, err := ParseEvent(ev.Data)
	if err != nil {
		t.Fatalf("ParseEvent failed: %v", err)
	}
	if parsed.Kind != KindResults || parsed.Text != "hello world" {
		t.Errorf("Unexpected transcript: %+v", parsed)
	}

	if err := stream.KeepAlive(); err != nil {
		t.Fatalf("KeepAlive failed: %v", err)
	}

	if err := stream.Finish(); err != nil {
		t.Fatalf("Finish failed: %v", err)
	}

	// Finish is idempotent
	if err := stream.Finish(); err != nil {
		t.Fatalf("Second finish failed: %v", err)
	}

	// The events channel closes once the provider hangs up
	waitClosed(t, stream)

	if stream.ReadyState() != StateClosed {
		t.Errorf("Expected closed state, got %s", stream.ReadyState())
	}

	if err := stream.Send([]byte{1}); !errors.Is(err, ErrNotOpen) {
		t.Errorf("Expected ErrNotOpen after close, got %v", err)
	}

	provider.mu.Lock()
	defer provider.mu.Unlock()

	if provider.authHeader != "Token secret" {
		t.Errorf("Expected token auth header, got %q", provider.authHeader)
	}

	for _, param := range []string{"language=en", "model=nova-2", "punctuate=true", "encoding=linear16", "sample_rate=44100", "channels=1", "interim_results=false"} {
		if !strings.Contains(provider.query, param) {
			t.Errorf("Expected query to contain %s, got %s", param, provider.query)
		}
	}

	if len(provider.audio) != 1 || provider.keepAlives != 1 || !provider.closed {
		t.Errorf("Unexpected provider state: audio=%d keepAlives=%d closed=%v",
			len(provider.audio), provider.keepAlives, provider.closed)
	}
}

func TestDeepgramStreamDialFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	}))
	defer server.Close()

	dialer := NewDeepgramDialer(wsURL(server), "bad", 2*time.Second, testLogger())
	stream := dialer.Dial(context.Background(), Options{})

	ev := nextEvent(t, stream)
	if ev.Type != EventError || ev.Err == nil {
		t.Fatalf("Expected error event, got %s", ev.Type)
	}
	if !strings.Contains(ev.Err.Error(), "401") {
		t.Errorf("Expected status in error, got %v", ev.Err)
	}

	if ev := nextEvent(t, stream); ev.Type != EventClose {
		t.Fatalf("Expected close event, got %s", ev.Type)
	}

	if stream.ReadyState() != StateClosed {
		t.Errorf("Expected closed state, got %s", stream.ReadyState())
	}
}

func TestDeepgramStreamProviderHangup(t *testing.T) {
	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		// Abrupt close without a close frame
		conn.Close()
	}))
	defer server.Close()

	dialer := NewDeepgramDialer(wsURL(server), "key", 2*time.Second, testLogger())
	stream := dialer.Dial(context.Background(), Options{})

	if ev := nextEvent(t, stream); ev.Type != EventOpen {
		t.Fatalf("Expected open event, got %s", ev.Type)
	}

	if ev := nextEvent(t, stream); ev.Type != EventError {
		t.Fatalf("Expected error event for abnormal close, got %s", ev.Type)
	}

	if ev := nextEvent(t, stream); ev.Type != EventClose {
		t.Fatalf("Expected close event, got %s", ev.Type)
	}
}

func TestOptionsQueryWithoutEncoding(t *testing.T) {
	q := Options{Language: "en", SampleRate: 48000}.Query()

	if q.Has("encoding") || q.Has("sample_rate") {
		t.Errorf("Expected no encoding parameters, got %s", q.Encode())
	}
}

func TestManagerWithDeepgramDialer(t *testing.T) {
	provider := &fakeProvider{}
	server := httptest.NewServer(provider.handler(t))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dialer := NewDeepgramDialer(wsURL(server), "secret", 2*time.Second, testLogger())
	mgr := NewManager(ctx, dialer, ManagerConfig{HeartbeatInterval: time.Hour}, testLogger(), nil)
	mgr.Start()

	// Queued until the handshake completes
	mgr.Send([]byte("early"))

	var transcript string
	deadline := time.After(5 * time.Second)
	for transcript == "" {
		select {
		case ev := <-mgr.Events():
			if data, ok := mgr.HandleEvent(ev); ok {
				parsed, err := ParseEvent(data)
				if err != nil {
					t.Fatalf("ParseEvent failed: %v", err)
				}
				transcript = parsed.Text
			}
		case <-deadline:
			t.Fatal("Timed out waiting for transcript")
		}
	}

	if transcript != "hello world" {
		t.Errorf("Unexpected transcript %q", transcript)
	}

	if err := mgr.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
}
