package synthesis

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/diegoasua/dubbing/internal/config"
)

func TestElevenLabsProviderStream(t *testing.T) {
	mp3Frame := []byte{0xFF, 0xFB, 0x90, 0x64, 0x00, 0x00}

	var mu sync.Mutex
	var req elevenLabsRequest
	var path, key, format string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		path = r.URL.Path
		key = r.Header.Get("xi-api-key")
		format = r.URL.Query().Get("output_format")
		json.NewDecoder(r.Body).Decode(&req)
		w.Header().Set("Content-Type", "audio/mpeg")
		w.Write(mp3Frame)
	}))
	defer server.Close()

	provider := NewElevenLabsProvider(config.SynthesisConfig{
		Endpoint: server.URL,
		APIKey:   "xi-test",
		Voice:    "rachel",
		Model:    "tts-1",
	}, server.Client())

	body, err := provider.Stream(context.Background(), "hi")
	if err != nil {
		t.Fatalf("Stream failed: %v", err)
	}
	defer body.Close()

	data, err := io.ReadAll(body)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()

	if string(data) != string(mp3Frame) {
		t.Errorf("Unexpected body %v", data)
	}
	if path != "/v1/text-to-speech/rachel/stream" {
		t.Errorf("Unexpected path %s", path)
	}
	if key != "xi-test" {
		t.Errorf("Unexpected api key header %q", key)
	}
	if format != "mp3_44100_128" {
		t.Errorf("Unexpected output format %q", format)
	}
	if req.Text != "hi" || req.ModelID != defaultElevenLabsModel {
		t.Errorf("Unexpected request body %+v", req)
	}
}

func TestElevenLabsProviderStatusError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota exceeded", http.StatusTooManyRequests)
	}))
	defer server.Close()

	provider := NewElevenLabsProvider(config.SynthesisConfig{
		Endpoint: server.URL,
		APIKey:   "xi-test",
		Voice:    "rachel",
	}, server.Client())

	_, err := provider.Stream(context.Background(), "hi")

	var statusErr *StatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("Expected StatusError, got %v", err)
	}
	if statusErr.StatusCode != http.StatusTooManyRequests || !IsRetryable(err) {
		t.Errorf("Expected retryable 429, got %+v", statusErr)
	}
}

func TestLanguageFromVoice(t *testing.T) {
	if got := languageFromVoice("en-GB-Chirp3-HD-Charon"); got != "en-GB" {
		t.Errorf("Expected en-GB, got %s", got)
	}
	if got := languageFromVoice("alloy"); got != "alloy" {
		t.Errorf("Expected passthrough, got %s", got)
	}
}

func TestNewProviderUnknown(t *testing.T) {
	if _, err := NewProvider(context.Background(), config.SynthesisConfig{Provider: "festival"}); err == nil {
		t.Error("Expected error for unknown provider")
	}
}
