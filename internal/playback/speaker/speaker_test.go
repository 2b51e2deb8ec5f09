package speaker

import (
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/diegoasua/dubbing/internal/audio"
	"github.com/diegoasua/dubbing/internal/playback"
)

func TestDecode(t *testing.T) {
	clip, err := audio.EncodeWAV(audio.GenerateTone(440, 100*time.Millisecond, 16000), 16000)
	if err != nil {
		t.Fatalf("EncodeWAV failed: %v", err)
	}

	streamer, format, err := Decode(clip)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	defer streamer.Close()

	if format.SampleRate != 16000 || format.NumChannels != 1 {
		t.Errorf("Unexpected format %+v", format)
	}
	if streamer.Len() != 1600 {
		t.Errorf("Expected 1600 samples, got %d", streamer.Len())
	}

	if _, _, err := Decode([]byte("not audio")); err == nil {
		t.Error("Expected error for unknown format")
	}
}

func TestPlayRejectsUndecodableClip(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	player := NewPlayer(16000, logger)

	var got error
	player.Play(playback.Entry{Clip: 1, Audio: []byte("not audio")}, func(err error) { got = err })

	// decoding fails before the device is opened, so done runs synchronously
	if got == nil {
		t.Errorf("Expected a decode error, got %v", got)
	}
}
