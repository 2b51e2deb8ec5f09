package synthesis

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/diegoasua/dubbing/internal/config"
)

type speechRequest struct {
	Model          string `json:"model"`
	Input          string `json:"input"`
	Voice          string `json:"voice"`
	ResponseFormat string `json:"response_format"`
}

func TestOpenAIProviderStream(t *testing.T) {
	wav := testWAV(t, 200*time.Millisecond)

	var mu sync.Mutex
	var got speechRequest
	var auth, path string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		path = r.URL.Path
		auth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("Failed to decode request: %v", err)
		}
		w.Header().Set("Content-Type", "audio/wav")
		w.Write(wav)
	}))
	defer server.Close()

	provider := NewOpenAIProvider(config.SynthesisConfig{
		Endpoint:       server.URL + "/v1",
		APIKey:         "sk-test",
		Model:          "tts-1",
		Voice:          "onyx",
		ResponseFormat: "wav",
	})

	client := newTestClient(t, provider, ClientConfig{Timeout: 5 * time.Second})
	clip, err := client.Synthesize(context.Background(), "Good morning")
	if err != nil {
		t.Fatalf("Synthesize failed: %v", err)
	}

	if !bytes.Equal(clip.Audio, wav) {
		t.Errorf("Clip audio differs from response body")
	}

	mu.Lock()
	defer mu.Unlock()

	if path != "/v1/audio/speech" {
		t.Errorf("Unexpected request path %s", path)
	}
	if auth != "Bearer sk-test" {
		t.Errorf("Unexpected authorization header %q", auth)
	}

	want := speechRequest{Model: "tts-1", Input: "Good morning", Voice: "onyx", ResponseFormat: "wav"}
	if got != want {
		t.Errorf("Expected request %+v, got %+v", want, got)
	}
}

func TestOpenAIProviderServerErrorIsRetried(t *testing.T) {
	var requests atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error":{"message":"overloaded","type":"server_error"}}`))
	}))
	defer server.Close()

	provider := NewOpenAIProvider(config.SynthesisConfig{
		Endpoint: server.URL + "/v1",
		APIKey:   "sk-test",
		Voice:    "onyx",
	})

	client := newTestClient(t, provider, ClientConfig{Timeout: 5 * time.Second, MaxRetries: 1})
	clip, err := client.Synthesize(context.Background(), "hello")
	if err == nil || clip != nil {
		t.Fatalf("Expected failure, got clip=%v err=%v", clip, err)
	}

	if requests.Load() != 2 {
		t.Errorf("Expected 2 requests, got %d", requests.Load())
	}
}
