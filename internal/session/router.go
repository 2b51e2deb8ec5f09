package session

import (
	"log/slog"
	"strings"

	"github.com/diegoasua/dubbing/internal/metrics"
	"github.com/diegoasua/dubbing/internal/transcription"
)

// Target receives routed transcripts
type Target interface {
	// Display shows a transcript to the user. Empty text clears the caption.
	Display(event *transcription.TranscriptEvent)
	// Synthesize turns non-empty final text into speech
	Synthesize(text string)
}

// Router decides what happens to each provider message
type Router struct {
	target  Target
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewRouter creates a router delivering to target
func NewRouter(target Target, logger *slog.Logger, m *metrics.Metrics) *Router {
	return &Router{
		target:  target,
		logger:  logger,
		metrics: m,
	}
}

// OnEvent routes one provider message. Results are always displayed and
// synthesized when final with non-blank text; everything else is logged.
// Malformed messages are logged and dropped.
func (r *Router) OnEvent(data []byte) {
	event, err := transcription.ParseEvent(data)
	if err != nil {
		r.logger.Warn("Ignoring unparseable provider message",
			slog.String("error", err.Error()),
			slog.Int("size", len(data)),
		)
		return
	}

	r.metrics.RecordTranscript(string(event.Kind))

	switch event.Kind {
	case transcription.KindResults:
		r.target.Display(event)

		if !event.IsFinal {
			return
		}

		text := strings.TrimSpace(event.Text)
		if text == "" {
			return
		}

		r.logger.Info("Final transcript",
			slog.String("text", text),
			slog.Float64("confidence", event.Confidence),
		)
		r.target.Synthesize(text)

	case transcription.KindMetadata:
		r.logger.Debug("Provider metadata",
			slog.String("request_id", event.RequestID),
		)

	default:
		r.logger.Debug("Unhandled provider message",
			slog.String("type", event.Type),
		)
	}
}
