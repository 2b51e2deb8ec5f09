package transcription

import (
	"encoding/json"
	"fmt"
)

// Kind classifies a provider message
type Kind string

// Provider message kinds
const (
	KindResults  Kind = "Results"
	KindMetadata Kind = "Metadata"
	KindOther    Kind = "Other"
)

// TranscriptEvent is a decoded provider message
type TranscriptEvent struct {
	Kind        Kind    `json:"kind"`
	Type        string  `json:"type"` // raw provider type, e.g. "UtteranceEnd"
	Text        string  `json:"text"`
	IsFinal     bool    `json:"is_final"`
	SpeechFinal bool    `json:"speech_final"`
	Confidence  float64 `json:"confidence"`
	Start       float64 `json:"start"`
	Duration    float64 `json:"duration"`
	RequestID   string  `json:"request_id,omitempty"`
}

// providerMessage covers the fields of Results and Metadata messages
type providerMessage struct {
	Type        string  `json:"type"`
	Kind        string  `json:"kind"`
	IsFinal     *bool   `json:"is_final"`
	SpeechFinal bool    `json:"speech_final"`
	Start       float64 `json:"start"`
	Duration    float64 `json:"duration"`
	RequestID   string  `json:"request_id"`
	Channel     struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
		} `json:"alternatives"`
	} `json:"channel"`
}

// ParseEvent decodes a provider message. A Results message without
// alternatives yields empty text; a missing is_final counts as final.
// The message type is read from "type", or from "kind" when "type" is absent.
func ParseEvent(data []byte) (*TranscriptEvent, error) {
	var msg providerMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("failed to decode provider message: %w", err)
	}

	msgType := msg.Type
	if msgType == "" {
		msgType = msg.Kind
	}

	event := &TranscriptEvent{
		Type:      msgType,
		RequestID: msg.RequestID,
	}

	switch msgType {
	case string(KindResults):
		event.Kind = KindResults
		event.IsFinal = msg.IsFinal == nil || *msg.IsFinal
		event.SpeechFinal = msg.SpeechFinal
		event.Start = msg.Start
		event.Duration = msg.Duration
		if len(msg.Channel.Alternatives) > 0 {
			event.Text = msg.Channel.Alternatives[0].Transcript
			event.Confidence = msg.Channel.Alternatives[0].Confidence
		}

	case string(KindMetadata):
		event.Kind = KindMetadata

	default:
		event.Kind = KindOther
	}

	return event, nil
}
