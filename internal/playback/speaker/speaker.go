// Package speaker plays clips on the sound card through beep. Building it
// needs cgo and the platform audio headers.
package speaker

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/faiface/beep"
	"github.com/faiface/beep/mp3"
	beepspeaker "github.com/faiface/beep/speaker"
	"github.com/faiface/beep/wav"

	"github.com/diegoasua/dubbing/internal/audio"
	"github.com/diegoasua/dubbing/internal/playback"
)

// resampleQuality is the beep resampler quality used for clips whose rate
// differs from the device rate
const resampleQuality = 4

// Decode opens a WAV or MP3 clip as a beep stream
func Decode(data []byte) (beep.StreamSeekCloser, beep.Format, error) {
	switch format := audio.SniffFormat(data); format {
	case audio.FormatWAV:
		streamer, f, err := wav.Decode(bytes.NewReader(data))
		if err != nil {
			return nil, beep.Format{}, fmt.Errorf("failed to decode wav clip: %w", err)
		}
		return streamer, f, nil

	case audio.FormatMP3:
		streamer, f, err := mp3.Decode(io.NopCloser(bytes.NewReader(data)))
		if err != nil {
			return nil, beep.Format{}, fmt.Errorf("failed to decode mp3 clip: %w", err)
		}
		return streamer, f, nil

	default:
		return nil, beep.Format{}, fmt.Errorf("unsupported clip format (%d bytes)", len(data))
	}
}

// Player plays clips on the default output device
type Player struct {
	sampleRate beep.SampleRate
	logger     *slog.Logger

	initOnce sync.Once
	initErr  error
}

// NewPlayer creates a player. The device is opened on the first clip
// at the given rate; clips at other rates are resampled.
func NewPlayer(sampleRate int, logger *slog.Logger) *Player {
	return &Player{
		sampleRate: beep.SampleRate(sampleRate),
		logger:     logger,
	}
}

func (p *Player) init() error {
	p.initOnce.Do(func() {
		if err := beepspeaker.Init(p.sampleRate, p.sampleRate.N(time.Second/10)); err != nil {
			p.initErr = fmt.Errorf("failed to open audio device: %w", err)
		}
	})
	return p.initErr
}

// Play decodes a clip and starts it. done is called from a separate
// goroutine once the stream drained, never under the speaker lock.
func (p *Player) Play(entry playback.Entry, done func(err error)) {
	streamer, format, err := Decode(entry.Audio)
	if err != nil {
		done(err)
		return
	}

	if err := p.init(); err != nil {
		streamer.Close()
		done(err)
		return
	}

	var source beep.Streamer = streamer
	if format.SampleRate != p.sampleRate {
		source = beep.Resample(resampleQuality, format.SampleRate, p.sampleRate, streamer)
	}

	p.logger.Debug("Playing clip",
		slog.Uint64("clip", uint64(entry.Clip)),
		slog.Int("sample_rate", int(format.SampleRate)),
		slog.Duration("duration", format.SampleRate.D(streamer.Len())),
	)

	beepspeaker.Play(beep.Seq(source, beep.Callback(func() {
		go func() {
			streamer.Close()
			done(nil)
		}()
	})))
}

// Stop silences whatever is playing
func (p *Player) Stop() {
	beepspeaker.Clear()
}

var _ playback.Player = (*Player)(nil)
