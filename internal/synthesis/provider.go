package synthesis

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"

	"github.com/sashabaranov/go-openai"

	"github.com/diegoasua/dubbing/internal/config"
)

// Provider turns text into a stream of encoded audio
type Provider interface {
	Name() string
	// Stream starts a synthesis request. The caller must close the returned
	// reader.
	Stream(ctx context.Context, text string) (io.ReadCloser, error)
}

// StatusError reports a non-success HTTP status returned by a provider
type StatusError struct {
	Provider   string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s returned HTTP %d: %s", e.Provider, e.StatusCode, e.Body)
}

// NewProvider builds the provider selected by cfg.Provider
func NewProvider(ctx context.Context, cfg config.SynthesisConfig) (Provider, error) {
	switch cfg.Provider {
	case "openai":
		return NewOpenAIProvider(cfg), nil
	case "elevenlabs":
		return NewElevenLabsProvider(cfg, nil), nil
	case "google":
		return NewGoogleProvider(ctx, cfg)
	default:
		return nil, fmt.Errorf("unknown synthesis provider: %s", cfg.Provider)
	}
}

// IsRetryable reports whether a failed request may succeed when repeated:
// rate limiting, server errors and network timeouts
func IsRetryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}

	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return retryableStatus(statusErr.StatusCode)
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return retryableStatus(apiErr.HTTPStatusCode)
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return retryableStatus(reqErr.HTTPStatusCode)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}

	return false
}

func retryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= http.StatusInternalServerError
}
