package synthesis

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	texttospeech "cloud.google.com/go/texttospeech/apiv1"
	"cloud.google.com/go/texttospeech/apiv1/texttospeechpb"

	"github.com/diegoasua/dubbing/internal/config"
)

// GoogleProvider synthesizes LINEAR16 WAV clips with Cloud Text-to-Speech.
// Credentials come from the application default credentials.
type GoogleProvider struct {
	client       *texttospeech.Client
	voice        string
	languageCode string
	sampleRate   int32
}

// NewGoogleProvider creates a Cloud Text-to-Speech client
func NewGoogleProvider(ctx context.Context, cfg config.SynthesisConfig) (*GoogleProvider, error) {
	client, err := texttospeech.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create text-to-speech client: %w", err)
	}

	languageCode := cfg.LanguageCode
	if languageCode == "" {
		languageCode = languageFromVoice(cfg.Voice)
	}

	return &GoogleProvider{
		client:       client,
		voice:        cfg.Voice,
		languageCode: languageCode,
		sampleRate:   int32(cfg.SampleRate),
	}, nil
}

func (p *GoogleProvider) Name() string {
	return "google"
}

// Stream performs a unary request; the whole clip is returned as one reader
func (p *GoogleProvider) Stream(ctx context.Context, text string) (io.ReadCloser, error) {
	req := &texttospeechpb.SynthesizeSpeechRequest{
		Input: &texttospeechpb.SynthesisInput{
			InputSource: &texttospeechpb.SynthesisInput_Text{Text: text},
		},
		Voice: &texttospeechpb.VoiceSelectionParams{
			LanguageCode: p.languageCode,
			Name:         p.voice,
		},
		AudioConfig: &texttospeechpb.AudioConfig{
			AudioEncoding:   texttospeechpb.AudioEncoding_LINEAR16,
			SampleRateHertz: p.sampleRate,
		},
	}

	resp, err := p.client.SynthesizeSpeech(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("google speech request failed: %w", err)
	}

	return io.NopCloser(bytes.NewReader(resp.AudioContent)), nil
}

// Close releases the underlying gRPC connection
func (p *GoogleProvider) Close() error {
	return p.client.Close()
}

// languageFromVoice derives "en-GB" from a voice name like "en-GB-Chirp3-HD-Charon"
func languageFromVoice(voice string) string {
	parts := strings.Split(voice, "-")
	if len(parts) < 3 {
		return voice
	}
	return parts[0] + "-" + parts[1]
}
