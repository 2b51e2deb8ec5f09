package protocol

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

func TestParseBinary(t *testing.T) {
	tests := []struct {
		name        string
		data        []byte
		expectError bool
		event       string
		clip        uint32
		audio       []byte
	}{
		{
			name:  "packet sent",
			data:  []byte{FrameTypePacketSent, 0xAA, 0xBB},
			event: EventPacketSent,
			audio: []byte{0xAA, 0xBB},
		},
		{
			name:  "packet sent without audio",
			data:  []byte{FrameTypePacketSent},
			event: EventPacketSent,
			audio: []byte{},
		},
		{
			name:  "audio chunk",
			data:  []byte{FrameTypeAudioChunk, 0x00, 0x00, 0x01, 0x02, 'R', 'I'},
			event: EventAudioChunk,
			clip:  258,
			audio: []byte("RI"),
		},
		{
			name:        "audio chunk truncated header",
			data:        []byte{FrameTypeAudioChunk, 0x00, 0x01},
			expectError: true,
		},
		{
			name:        "empty",
			data:        nil,
			expectError: true,
		},
		{
			name:        "unknown type",
			data:        []byte{0x7F, 0x00},
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := ParseBinary(tt.data)
			if tt.expectError {
				if err == nil {
					t.Errorf("Expected error but got none")
				}
				return
			}
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}

			if msg.Event != tt.event {
				t.Errorf("Expected event %s, got %s", tt.event, msg.Event)
			}
			if msg.Clip != tt.clip {
				t.Errorf("Expected clip %d, got %d", tt.clip, msg.Clip)
			}
			if !bytes.Equal(msg.Audio, tt.audio) {
				t.Errorf("Expected audio %v, got %v", tt.audio, msg.Audio)
			}
		})
	}
}

func TestParseBinarySentinelErrors(t *testing.T) {
	if _, err := ParseBinary(nil); !errors.Is(err, ErrEmptyFrame) {
		t.Errorf("Expected ErrEmptyFrame, got %v", err)
	}

	if _, err := ParseBinary([]byte{0x09}); !errors.Is(err, ErrUnknownFrame) {
		t.Errorf("Expected ErrUnknownFrame, got %v", err)
	}
}

func TestEncodeBinaryFrames(t *testing.T) {
	audio := []byte{1, 2, 3, 4}

	packet, err := ParseBinary(EncodePacket(audio))
	if err != nil {
		t.Fatalf("Failed to parse encoded packet: %v", err)
	}
	if packet.Event != EventPacketSent || !bytes.Equal(packet.Audio, audio) {
		t.Errorf("Packet mismatch: %+v", packet)
	}

	chunk, err := ParseBinary(EncodeAudioChunk(42, audio))
	if err != nil {
		t.Fatalf("Failed to parse encoded chunk: %v", err)
	}
	if chunk.Event != EventAudioChunk || chunk.Clip != 42 || !bytes.Equal(chunk.Audio, audio) {
		t.Errorf("Chunk mismatch: %+v", chunk)
	}
}

func TestEncodeTranscriptKeepsEmptyText(t *testing.T) {
	data, err := EncodeTranscript("")
	if err != nil {
		t.Fatalf("EncodeTranscript failed: %v", err)
	}

	if string(data) != `{"event":"transcript","text":""}` {
		t.Errorf("Unexpected encoding: %s", data)
	}

	msg, err := ParseText(data)
	if err != nil {
		t.Fatalf("ParseText failed: %v", err)
	}
	if msg.Event != EventTranscript || msg.Text != "" {
		t.Errorf("Unexpected message: %+v", msg)
	}
}

func TestParseText(t *testing.T) {
	tests := []struct {
		name        string
		data        string
		expectError bool
		event       string
		clip        uint32
	}{
		{"playback started", `{"event":"playback-started","clip":3}`, false, EventPlaybackStarted, 3},
		{"session ready", `{"event":"session-ready","session_id":"abc"}`, false, EventSessionReady, 0},
		{"unknown event is returned", `{"event":"mute"}`, false, "mute", 0},
		{"no event", `{"clip":1}`, true, "", 0},
		{"not json", `hello`, true, "", 0},
		{"empty", ``, true, "", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := ParseText([]byte(tt.data))
			if tt.expectError {
				if err == nil {
					t.Errorf("Expected error but got none")
				}
				return
			}
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if msg.Event != tt.event || msg.Clip != tt.clip {
				t.Errorf("Unexpected message: %+v", msg)
			}
		})
	}
}

func TestEncodePlayback(t *testing.T) {
	data, err := EncodePlayback(EventPlaybackFinished, 7)
	if err != nil {
		t.Fatalf("EncodePlayback failed: %v", err)
	}
	if !strings.Contains(string(data), `"clip":7`) {
		t.Errorf("Expected clip in payload, got %s", data)
	}

	if _, err := EncodePlayback(EventTranscript, 1); err == nil {
		t.Error("Expected error for non-playback event")
	}
}

func TestEncodeSessionReady(t *testing.T) {
	data, err := EncodeSessionReady("s-1")
	if err != nil {
		t.Fatalf("EncodeSessionReady failed: %v", err)
	}

	msg, _ := ParseText(data)
	if msg.SessionID != "s-1" {
		t.Errorf("Expected session id s-1, got %s", msg.SessionID)
	}
}
