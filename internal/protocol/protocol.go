package protocol

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
)

// Event names exchanged between the browser or voice client and the server
const (
	EventPacketSent       = "packet-sent"       // client → server, captured audio
	EventAudioChunk       = "audio-chunk"       // server → client, one synthesized clip
	EventTranscript       = "transcript"        // server → client, caption text
	EventSessionReady     = "session-ready"     // server → client, after the session is created
	EventPlaybackStarted  = "playback-started"  // client → server, clip began playing
	EventPlaybackFinished = "playback-finished" // client → server, clip completed
)

// Binary frame type bytes
const (
	FrameTypePacketSent = 0x01
	FrameTypeAudioChunk = 0x02

	// Frame structure sizes
	FrameTypeSize       = 1
	ClipSeqSize         = 4
	AudioChunkHeaderLen = FrameTypeSize + ClipSeqSize
)

var (
	// ErrEmptyFrame is returned for a zero-length websocket message
	ErrEmptyFrame = errors.New("empty frame")

	// ErrUnknownFrame is returned for a binary frame with an unrecognized type byte
	ErrUnknownFrame = errors.New("unknown frame type")
)

// Message is one decoded websocket message.
// Binary layouts:
//
//	packet-sent: [0x01][audio:N]
//	audio-chunk: [0x02][clip seq:4 BE][audio:N]
//
// Text messages are JSON objects keyed by "event".
type Message struct {
	Event     string `json:"event"`
	Audio     []byte `json:"-"`
	Clip      uint32 `json:"clip,omitempty"`
	Text      string `json:"text,omitempty"`
	SessionID string `json:"session_id,omitempty"`
}

// ParseBinary decodes a binary websocket message
func ParseBinary(data []byte) (*Message, error) {
	if len(data) == 0 {
		return nil, ErrEmptyFrame
	}

	switch data[0] {
	case FrameTypePacketSent:
		return &Message{
			Event: EventPacketSent,
			Audio: data[FrameTypeSize:],
		}, nil

	case FrameTypeAudioChunk:
		if len(data) < AudioChunkHeaderLen {
			return nil, fmt.Errorf("audio chunk too short: expected at least %d bytes, got %d",
				AudioChunkHeaderLen, len(data))
		}
		return &Message{
			Event: EventAudioChunk,
			Clip:  binary.BigEndian.Uint32(data[FrameTypeSize:AudioChunkHeaderLen]),
			Audio: data[AudioChunkHeaderLen:],
		}, nil

	default:
		return nil, fmt.Errorf("%w: 0x%02x", ErrUnknownFrame, data[0])
	}
}

// ParseText decodes a JSON text websocket message. Unknown event names are
// returned as-is so the caller can log and ignore them.
func ParseText(data []byte) (*Message, error) {
	if len(data) == 0 {
		return nil, ErrEmptyFrame
	}

	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("failed to decode text frame: %w", err)
	}

	if msg.Event == "" {
		return nil, fmt.Errorf("text frame has no event name")
	}

	return &msg, nil
}

// EncodePacket builds a packet-sent frame carrying captured audio
func EncodePacket(audio []byte) []byte {
	frame := make([]byte, FrameTypeSize+len(audio))
	frame[0] = FrameTypePacketSent
	copy(frame[FrameTypeSize:], audio)
	return frame
}

// EncodeAudioChunk builds an audio-chunk frame carrying one whole clip
func EncodeAudioChunk(clip uint32, audio []byte) []byte {
	frame := make([]byte, AudioChunkHeaderLen+len(audio))
	frame[0] = FrameTypeAudioChunk
	binary.BigEndian.PutUint32(frame[FrameTypeSize:AudioChunkHeaderLen], clip)
	copy(frame[AudioChunkHeaderLen:], audio)
	return frame
}

// EncodeTranscript builds a transcript text frame. Empty text is valid and
// clears the caption.
func EncodeTranscript(text string) ([]byte, error) {
	return encodeText(Message{Event: EventTranscript, Text: text})
}

// EncodeSessionReady builds the greeting sent after a session is created
func EncodeSessionReady(sessionID string) ([]byte, error) {
	return encodeText(Message{Event: EventSessionReady, SessionID: sessionID})
}

// EncodePlayback builds a playback-started or playback-finished report
func EncodePlayback(event string, clip uint32) ([]byte, error) {
	if event != EventPlaybackStarted && event != EventPlaybackFinished {
		return nil, fmt.Errorf("not a playback event: %s", event)
	}
	return encodeText(Message{Event: event, Clip: clip})
}

// encodeText marshals a text message. Transcript events always carry the
// text field, even when empty.
func encodeText(msg Message) ([]byte, error) {
	if msg.Event == EventTranscript {
		data, err := json.Marshal(struct {
			Event string `json:"event"`
			Text  string `json:"text"`
		}{msg.Event, msg.Text})
		if err != nil {
			return nil, fmt.Errorf("failed to encode %s frame: %w", msg.Event, err)
		}
		return data, nil
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s frame: %w", msg.Event, err)
	}
	return data, nil
}
