package synthesis

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/diegoasua/dubbing/internal/audio"
	"github.com/diegoasua/dubbing/internal/metrics"
)

const (
	readBufferSize      = 4096
	defaultRetryBackoff = time.Second
	maxRetryBackoff     = 30 * time.Second
)

// ErrEmptyClip is returned when a provider stream ends without any audio
var ErrEmptyClip = errors.New("provider returned no audio")

// Clip is one synthesized utterance, complete and ready for delivery
type Clip struct {
	Text        string        `json:"text"`
	Audio       []byte        `json:"-"`
	Format      string        `json:"format"`
	Chunks      int           `json:"chunks"`
	RequestedAt time.Time     `json:"requested_at"`
	Latency     time.Duration `json:"latency"`
	Duration    time.Duration `json:"duration"` // zero unless the clip is WAV
}

// ClientConfig contains synthesis client configuration
type ClientConfig struct {
	Timeout       time.Duration
	MaxRetries    int
	MaxConcurrent int
	RetryBackoff  time.Duration
}

// ClientStats represents client statistics
type ClientStats struct {
	Provider        string        `json:"provider"`
	TotalRequests   uint64        `json:"total_requests"`
	SuccessRequests uint64        `json:"success_requests"`
	FailedRequests  uint64        `json:"failed_requests"`
	SkippedEmpty    uint64        `json:"skipped_empty"`
	SuccessRate     float64       `json:"success_rate"`
	TotalRetries    uint64        `json:"total_retries"`
	AvgResponseTime time.Duration `json:"avg_response_time"`
	ActiveRequests  int           `json:"active_requests"`
	BytesReceived   uint64        `json:"bytes_received"`
}

// Client turns transcripts into clips. It is shared by all sessions.
type Client struct {
	provider  Provider
	config    ClientConfig
	logger    *slog.Logger
	metrics   *metrics.Metrics
	semaphore chan struct{}

	totalRequests   uint64
	successRequests uint64
	failedRequests  uint64
	skippedEmpty    uint64
	totalRetries    uint64
	bytesReceived   uint64
	avgResponseTime time.Duration

	mu sync.RWMutex
}

// NewClient creates a synthesis client around a provider
func NewClient(provider Provider, config ClientConfig, logger *slog.Logger, m *metrics.Metrics) (*Client, error) {
	if provider == nil {
		return nil, fmt.Errorf("provider cannot be nil")
	}

	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}

	if config.MaxRetries < 0 {
		config.MaxRetries = 0
	}

	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = 8
	}

	if config.RetryBackoff <= 0 {
		config.RetryBackoff = defaultRetryBackoff
	}

	return &Client{
		provider:  provider,
		config:    config,
		logger:    logger,
		metrics:   m,
		semaphore: make(chan struct{}, config.MaxConcurrent),
	}, nil
}

// Synthesize requests speech for text and reads the provider stream into a
// single buffer. Text that is empty after trimming is a no-op and yields a
// nil clip and nil error. A failed request or a stream that breaks midway
// yields no clip.
func (c *Client) Synthesize(ctx context.Context, text string) (*Clip, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		c.mu.Lock()
		c.skippedEmpty++
		c.mu.Unlock()
		return nil, nil
	}

	select {
	case c.semaphore <- struct{}{}:
		defer func() { <-c.semaphore }()
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	requestedAt := time.Now()
	c.incrementTotalRequests()
	c.metrics.RecordSynthesisRequest()

	var lastErr error

	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if attempt > 0 {
			c.incrementTotalRetries()

			backoff := c.config.RetryBackoff << (attempt - 1)
			if backoff > maxRetryBackoff {
				backoff = maxRetryBackoff
			}

			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				c.recordFailure()
				return nil, ctx.Err()
			}
		}

		clip, retryable, err := c.attempt(ctx, text, requestedAt)
		if err == nil {
			c.recordSuccess(clip)
			return clip, nil
		}

		lastErr = err
		if !retryable {
			break
		}

		c.logger.Debug("Retrying synthesis request",
			slog.String("provider", c.provider.Name()),
			slog.Int("attempt", attempt+1),
			slog.String("error", err.Error()),
		)
	}

	c.recordFailure()
	return nil, fmt.Errorf("synthesis via %s failed: %w", c.provider.Name(), lastErr)
}

// attempt performs one request. Only failures before any audio arrived are
// reported as retryable.
func (c *Client) attempt(ctx context.Context, text string, requestedAt time.Time) (*Clip, bool, error) {
	reqCtx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	body, err := c.provider.Stream(reqCtx, text)
	if err != nil {
		return nil, ctx.Err() == nil && IsRetryable(err), err
	}
	defer body.Close()

	var buf bytes.Buffer
	chunk := make([]byte, readBufferSize)
	chunks := 0

	for {
		n, err := body.Read(chunk)
		if n > 0 {
			buf.Write(chunk[:n])
			chunks++
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, false, fmt.Errorf("failed to read synthesized audio after %d bytes: %w", buf.Len(), err)
		}
	}

	if buf.Len() == 0 {
		return nil, true, ErrEmptyClip
	}

	clip := &Clip{
		Text:        text,
		Audio:       buf.Bytes(),
		Format:      audio.SniffFormat(buf.Bytes()),
		Chunks:      chunks,
		RequestedAt: requestedAt,
		Latency:     time.Since(requestedAt),
	}

	if clip.Format == audio.FormatWAV {
		if duration, err := audio.ClipDuration(clip.Audio); err == nil {
			clip.Duration = duration
		}
	}

	return clip, false, nil
}

// Name returns the provider name
func (c *Client) Name() string {
	return c.provider.Name()
}

func (c *Client) incrementTotalRequests() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.totalRequests++
}

func (c *Client) incrementTotalRetries() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.totalRetries++
}

func (c *Client) recordFailure() {
	c.mu.Lock()
	c.failedRequests++
	c.mu.Unlock()

	c.metrics.RecordSynthesisFailure()
}

func (c *Client) recordSuccess(clip *Clip) {
	c.mu.Lock()
	c.successRequests++
	c.bytesReceived += uint64(len(clip.Audio))
	if c.avgResponseTime == 0 {
		c.avgResponseTime = clip.Latency
	} else {
		c.avgResponseTime = (c.avgResponseTime + clip.Latency) / 2
	}
	c.mu.Unlock()

	c.metrics.RecordSynthesisSuccess(clip.Latency.Seconds(), len(clip.Audio))
}

// GetStats returns current client statistics
func (c *Client) GetStats() ClientStats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	successRate := float64(0)
	if c.totalRequests > 0 {
		successRate = float64(c.successRequests) / float64(c.totalRequests) * 100
	}

	return ClientStats{
		Provider:        c.provider.Name(),
		TotalRequests:   c.totalRequests,
		SuccessRequests: c.successRequests,
		FailedRequests:  c.failedRequests,
		SkippedEmpty:    c.skippedEmpty,
		SuccessRate:     successRate,
		TotalRetries:    c.totalRetries,
		AvgResponseTime: c.avgResponseTime,
		ActiveRequests:  len(c.semaphore),
		BytesReceived:   c.bytesReceived,
	}
}

// Close waits for in-flight requests and releases provider resources
func (c *Client) Close() error {
	for i := 0; i < cap(c.semaphore); i++ {
		c.semaphore <- struct{}{}
	}

	if closer, ok := c.provider.(io.Closer); ok {
		if err := closer.Close(); err != nil {
			return fmt.Errorf("failed to close %s provider: %w", c.provider.Name(), err)
		}
	}

	return nil
}
