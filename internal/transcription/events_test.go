package transcription

import "testing"

func TestParseEvent(t *testing.T) {
	tests := []struct {
		name        string
		payload     string
		expectError bool
		kind        Kind
		text        string
		isFinal     bool
	}{
		{
			name:    "final result",
			payload: `{"type":"Results","is_final":true,"channel":{"alternatives":[{"transcript":"hello","confidence":0.98}]}}`,
			kind:    KindResults,
			text:    "hello",
			isFinal: true,
		},
		{
			name:    "missing is_final counts as final",
			payload: `{"type":"Results","channel":{"alternatives":[{"transcript":"hello"}]}}`,
			kind:    KindResults,
			text:    "hello",
			isFinal: true,
		},
		{
			name:    "kind key instead of type",
			payload: `{"kind":"Results","channel":{"alternatives":[{"transcript":"hello"}]}}`,
			kind:    KindResults,
			text:    "hello",
			isFinal: true,
		},
		{
			name:    "type wins over kind",
			payload: `{"type":"Metadata","kind":"Results","channel":{"alternatives":[{"transcript":"hello"}]}}`,
			kind:    KindMetadata,
		},
		{
			name:    "interim result",
			payload: `{"type":"Results","is_final":false,"channel":{"alternatives":[{"transcript":"hel"}]}}`,
			kind:    KindResults,
			text:    "hel",
			isFinal: false,
		},
		{
			name:    "no alternatives",
			payload: `{"type":"Results","channel":{"alternatives":[]}}`,
			kind:    KindResults,
			text:    "",
			isFinal: true,
		},
		{
			name:    "metadata",
			payload: `{"type":"Metadata","request_id":"abc","duration":1.5}`,
			kind:    KindMetadata,
		},
		{
			name:    "utterance end",
			payload: `{"type":"UtteranceEnd","last_word_end":2.1}`,
			kind:    KindOther,
		},
		{
			name:    "untyped object",
			payload: `{}`,
			kind:    KindOther,
		},
		{
			name:        "not json",
			payload:     `Results`,
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			event, err := ParseEvent([]byte(tt.payload))
			if tt.expectError {
				if err == nil {
					t.Errorf("Expected error but got none")
				}
				return
			}
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}

			if event.Kind != tt.kind {
				t.Errorf("Expected kind %s, got %s", tt.kind, event.Kind)
			}
			if event.Text != tt.text {
				t.Errorf("Expected text %q, got %q", tt.text, event.Text)
			}
			if event.Kind == KindResults && event.IsFinal != tt.isFinal {
				t.Errorf("Expected is_final %v, got %v", tt.isFinal, event.IsFinal)
			}
		})
	}
}

func TestParseEventMetadataRequestID(t *testing.T) {
	event, err := ParseEvent([]byte(`{"type":"Metadata","request_id":"req-1"}`))
	if err != nil {
		t.Fatalf("ParseEvent failed: %v", err)
	}

	if event.RequestID != "req-1" {
		t.Errorf("Expected request id req-1, got %s", event.RequestID)
	}
}
