package synthesis

import (
	"context"
	"fmt"
	"io"

	"github.com/sashabaranov/go-openai"

	"github.com/diegoasua/dubbing/internal/config"
)

// OpenAIProvider synthesizes speech through the OpenAI audio API
type OpenAIProvider struct {
	client *openai.Client
	model  openai.SpeechModel
	voice  openai.SpeechVoice
	format openai.SpeechResponseFormat
}

// NewOpenAIProvider creates an OpenAI provider. A non-empty endpoint replaces
// the API base URL, e.g. "http://127.0.0.1:9000/v1".
func NewOpenAIProvider(cfg config.SynthesisConfig) *OpenAIProvider {
	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.Endpoint != "" {
		clientConfig.BaseURL = cfg.Endpoint
	}

	model := cfg.Model
	if model == "" {
		model = string(openai.TTSModel1)
	}

	format := cfg.ResponseFormat
	if format == "" {
		format = string(openai.SpeechResponseFormatWav)
	}

	return &OpenAIProvider{
		client: openai.NewClientWithConfig(clientConfig),
		model:  openai.SpeechModel(model),
		voice:  openai.SpeechVoice(cfg.Voice),
		format: openai.SpeechResponseFormat(format),
	}
}

func (p *OpenAIProvider) Name() string {
	return "openai"
}

func (p *OpenAIProvider) Stream(ctx context.Context, text string) (io.ReadCloser, error) {
	resp, err := p.client.CreateSpeech(ctx, openai.CreateSpeechRequest{
		Model:          p.model,
		Input:          text,
		Voice:          p.voice,
		ResponseFormat: p.format,
	})
	if err != nil {
		return nil, fmt.Errorf("openai speech request failed: %w", err)
	}

	return resp, nil
}
