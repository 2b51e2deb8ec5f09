package playback

import (
	"log/slog"
	"time"

	"github.com/diegoasua/dubbing/internal/audio"
)

// SilentPlayer stands in for a sound card: it holds each WAV clip for its
// duration and reports completion. Clips of other formats finish at once.
type SilentPlayer struct {
	logger *slog.Logger
}

// NewSilentPlayer creates a player that produces no sound
func NewSilentPlayer(logger *slog.Logger) *SilentPlayer {
	return &SilentPlayer{logger: logger}
}

func (p *SilentPlayer) Play(entry Entry, done func(err error)) {
	duration, err := audio.ClipDuration(entry.Audio)
	if err != nil {
		duration = 0
	}

	p.logger.Debug("Holding clip without output",
		slog.Uint64("clip", uint64(entry.Clip)),
		slog.Duration("duration", duration),
	)

	time.AfterFunc(duration, func() { done(nil) })
}
