package client

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/gen2brain/malgo"

	"github.com/diegoasua/dubbing/internal/audio"
)

// Source produces captured audio frames. Stream calls emit for each frame
// until the input ends, emit fails or ctx is cancelled.
type Source interface {
	Stream(ctx context.Context, emit func(frame []byte) error) error
}

// FileSource replays a mono PCM-16 WAV file as capture frames
type FileSource struct {
	pcm        []byte
	sampleRate int
	frameBytes int
	frameDur   time.Duration
	realtime   bool
}

// NewFileSource loads a WAV file and splits it into frames of frameDur
func NewFileSource(path string, frameDur time.Duration, realtime bool) (*FileSource, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read input file: %w", err)
	}

	return newFileSource(data, frameDur, realtime)
}

func newFileSource(data []byte, frameDur time.Duration, realtime bool) (*FileSource, error) {
	samples, sampleRate, err := audio.DecodeWAV(data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode input file: %w", err)
	}

	frameSamples := int(int64(sampleRate) * int64(frameDur) / int64(time.Second))
	if frameSamples < 1 {
		frameSamples = 1
	}

	return &FileSource{
		pcm:        audio.PCM16ToBytes(samples),
		sampleRate: sampleRate,
		frameBytes: frameSamples * 2,
		frameDur:   frameDur,
		realtime:   realtime,
	}, nil
}

// SampleRate returns the file's sample rate
func (s *FileSource) SampleRate() int {
	return s.sampleRate
}

func (s *FileSource) Stream(ctx context.Context, emit func(frame []byte) error) error {
	var ticker *time.Ticker
	if s.realtime {
		ticker = time.NewTicker(s.frameDur)
		defer ticker.Stop()
	}

	for off := 0; off < len(s.pcm); off += s.frameBytes {
		end := off + s.frameBytes
		if end > len(s.pcm) {
			end = len(s.pcm)
		}

		if err := emit(s.pcm[off:end]); err != nil {
			return err
		}

		if ticker != nil && end < len(s.pcm) {
			select {
			case <-ticker.C:
			case <-ctx.Done():
				return ctx.Err()
			}
		} else if ctx.Err() != nil {
			return ctx.Err()
		}
	}

	return nil
}

// MicSource captures mono PCM-16 from the default input device
type MicSource struct {
	sampleRate int
	frameDur   time.Duration
	logger     *slog.Logger
}

// NewMicSource creates a microphone source. The device is opened by Stream.
func NewMicSource(sampleRate int, frameDur time.Duration, logger *slog.Logger) *MicSource {
	return &MicSource{sampleRate: sampleRate, frameDur: frameDur, logger: logger}
}

func (s *MicSource) Stream(ctx context.Context, emit func(frame []byte) error) error {
	malgoCtx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return fmt.Errorf("failed to initialize audio context: %w", err)
	}
	defer func() {
		malgoCtx.Uninit()
		malgoCtx.Free()
	}()

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatS16
	deviceConfig.Capture.Channels = 1
	deviceConfig.SampleRate = uint32(s.sampleRate)
	deviceConfig.PeriodSizeInMilliseconds = 20

	// The callback runs on the audio thread; frames are handed off so emit
	// never blocks it
	frames := make(chan []byte, 64)
	callbacks := malgo.DeviceCallbacks{
		Data: func(_, input []byte, _ uint32) {
			frame := make([]byte, len(input))
			copy(frame, input)

			select {
			case frames <- frame:
			default:
				s.logger.Warn("Dropping captured audio, sender is behind")
			}
		},
	}

	device, err := malgo.InitDevice(malgoCtx.Context, deviceConfig, callbacks)
	if err != nil {
		return fmt.Errorf("failed to initialize capture device: %w", err)
	}
	defer device.Uninit()

	if err := device.Start(); err != nil {
		return fmt.Errorf("failed to start capture device: %w", err)
	}
	defer device.Stop()

	s.logger.Info("Microphone open",
		slog.Int("sample_rate", s.sampleRate),
		slog.Duration("frame", s.frameDur),
	)

	// Device periods are batched into frames of frameDur
	frameBytes := int(int64(s.sampleRate)*int64(s.frameDur)/int64(time.Second)) * 2
	pending := make([]byte, 0, frameBytes)

	for {
		select {
		case <-ctx.Done():
			if len(pending) > 0 {
				emit(pending)
			}
			return nil

		case frame := <-frames:
			pending = append(pending, frame...)
			if len(pending) < frameBytes {
				continue
			}

			if err := emit(pending); err != nil {
				return err
			}
			pending = make([]byte, 0, frameBytes)
		}
	}
}
