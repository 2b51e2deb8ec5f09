package synthesis

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/diegoasua/dubbing/internal/config"
)

const (
	defaultElevenLabsEndpoint = "https://api.elevenlabs.io"
	defaultElevenLabsModel    = "eleven_turbo_v2_5"
)

// ElevenLabsProvider synthesizes speech through the ElevenLabs streaming endpoint
type ElevenLabsProvider struct {
	endpoint   string
	apiKey     string
	voice      string
	model      string
	format     string
	httpClient *http.Client
}

type elevenLabsRequest struct {
	Text          string                  `json:"text"`
	ModelID       string                  `json:"model_id"`
	VoiceSettings elevenLabsVoiceSettings `json:"voice_settings"`
}

type elevenLabsVoiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
}

// NewElevenLabsProvider creates an ElevenLabs provider. A nil httpClient
// uses http.DefaultClient.
func NewElevenLabsProvider(cfg config.SynthesisConfig, httpClient *http.Client) *ElevenLabsProvider {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = defaultElevenLabsEndpoint
	}

	model := cfg.Model
	if model == "" || strings.HasPrefix(model, "tts-") {
		model = defaultElevenLabsModel
	}

	return &ElevenLabsProvider{
		endpoint:   strings.TrimRight(endpoint, "/"),
		apiKey:     cfg.APIKey,
		voice:      cfg.Voice,
		model:      model,
		format:     elevenLabsOutputFormat(cfg),
		httpClient: httpClient,
	}
}

func (p *ElevenLabsProvider) Name() string {
	return "elevenlabs"
}

func (p *ElevenLabsProvider) Stream(ctx context.Context, text string) (io.ReadCloser, error) {
	body, err := json.Marshal(elevenLabsRequest{
		Text:    text,
		ModelID: p.model,
		VoiceSettings: elevenLabsVoiceSettings{
			Stability:       0.5,
			SimilarityBoost: 0.75,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal elevenlabs request: %w", err)
	}

	target := fmt.Sprintf("%s/v1/text-to-speech/%s/stream", p.endpoint, url.PathEscape(p.voice))
	if p.format != "" {
		target += "?output_format=" + url.QueryEscape(p.format)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create elevenlabs request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("xi-api-key", p.apiKey)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs request failed: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, &StatusError{Provider: p.Name(), StatusCode: resp.StatusCode, Body: string(msg)}
	}

	return resp.Body, nil
}

// elevenLabsOutputFormat maps the configured response format onto the
// provider's output_format parameter. Raw PCM is not requested since clips
// must carry a container the client can decode.
func elevenLabsOutputFormat(cfg config.SynthesisConfig) string {
	switch cfg.ResponseFormat {
	case "mp3", "wav", "":
		return "mp3_44100_128"
	default:
		return cfg.ResponseFormat
	}
}
