package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/diegoasua/dubbing/internal/audio"
)

// stub fakes a live transcription websocket and a speech endpoint
type stub struct {
	phrases    []string
	sampleRate int
	msPerChar  int
	logger     *slog.Logger

	upgrader websocket.Upgrader
	results  atomic.Uint64
	speeches atomic.Uint64
}

func newStub(phrases []string, sampleRate, msPerChar int, logger *slog.Logger) *stub {
	return &stub{
		phrases:    phrases,
		sampleRate: sampleRate,
		msPerChar:  msPerChar,
		logger:     logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

func (s *stub) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/listen", s.handleListen)
	mux.HandleFunc("/v1/audio/speech", s.handleSpeech)
	return mux
}

type alternative struct {
	Transcript string  `json:"transcript"`
	Confidence float64 `json:"confidence"`
}

type resultsMessage struct {
	Type        string  `json:"type"`
	IsFinal     bool    `json:"is_final"`
	SpeechFinal bool    `json:"speech_final"`
	Start       float64 `json:"start"`
	Duration    float64 `json:"duration"`
	Channel     struct {
		Alternatives []alternative `json:"alternatives"`
	} `json:"channel"`
}

type metadataMessage struct {
	Type      string  `json:"type"`
	RequestID string  `json:"request_id"`
	Duration  float64 `json:"duration"`
}

// handleListen answers every binary chunk with one final Results message,
// cycling through the configured phrases
func (s *stub) handleListen(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	requestID := uuid.NewString()
	logger := s.logger.With(slog.String("request_id", requestID))
	logger.Info("Transcription stream opened", slog.String("query", r.URL.RawQuery))

	bytesPerSecond := 2 * s.sampleRate
	var chunks int
	var offset float64

	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			logger.Info("Transcription stream closed", slog.Int("chunks", chunks))
			return
		}

		if messageType == websocket.TextMessage {
			var control struct {
				Type string `json:"type"`
			}
			json.Unmarshal(data, &control)

			switch control.Type {
			case "KeepAlive":
				logger.Debug("Keep-alive")
			case "CloseStream":
				conn.WriteJSON(metadataMessage{Type: "Metadata", RequestID: requestID, Duration: offset})
				conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			continue
		}

		duration := float64(len(data)) / float64(bytesPerSecond)

		msg := resultsMessage{
			Type:        "Results",
			IsFinal:     true,
			SpeechFinal: true,
			Start:       offset,
			Duration:    duration,
		}
		msg.Channel.Alternatives = []alternative{{
			Transcript: s.phrases[chunks%len(s.phrases)],
			Confidence: 0.99,
		}}

		offset += duration
		chunks++

		if err := conn.WriteJSON(msg); err != nil {
			return
		}
		s.results.Add(1)

		logger.Debug("Sent transcript",
			slog.Int("chunk", chunks),
			slog.Int("bytes", len(data)),
		)
	}
}

type speechRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
	Voice string `json:"voice"`
}

// handleSpeech returns a WAV tone whose length follows the input text
func (s *stub) handleSpeech(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req speechRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":{"message":"invalid request body"}}`, http.StatusBadRequest)
		return
	}

	text := strings.TrimSpace(req.Input)
	if text == "" {
		http.Error(w, `{"error":{"message":"input is required"}}`, http.StatusBadRequest)
		return
	}

	duration := time.Duration(len(text)*s.msPerChar) * time.Millisecond
	if duration < 200*time.Millisecond {
		duration = 200 * time.Millisecond
	}

	wav, err := audio.EncodeWAV(audio.GenerateTone(440, duration, s.sampleRate), s.sampleRate)
	if err != nil {
		http.Error(w, fmt.Sprintf(`{"error":{"message":%q}}`, err.Error()), http.StatusInternalServerError)
		return
	}

	s.speeches.Add(1)
	s.logger.Info("Synthesized speech",
		slog.String("text", text),
		slog.String("voice", req.Voice),
		slog.Duration("duration", duration),
	)

	w.Header().Set("Content-Type", "audio/wav")
	w.Write(wav)
}
