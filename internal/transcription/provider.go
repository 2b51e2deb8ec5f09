package transcription

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
)

// ReadyState is the lifecycle state of a live transcription stream
type ReadyState int32

// Ready states, in lifecycle order
const (
	StateConnecting ReadyState = iota
	StateOpen
	StateClosing
	StateClosed
)

// String returns a human-readable ready state
func (s ReadyState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("unknown(%d)", int32(s))
	}
}

// EventType identifies a stream lifecycle or data event
type EventType int

// Stream event types
const (
	EventOpen EventType = iota + 1
	EventMessage
	EventError
	EventClose
)

// String returns a human-readable event type
func (t EventType) String() string {
	switch t {
	case EventOpen:
		return "open"
	case EventMessage:
		return "message"
	case EventError:
		return "error"
	case EventClose:
		return "close"
	default:
		return fmt.Sprintf("unknown(%d)", int(t))
	}
}

// Event is emitted by a Stream. Data is set for EventMessage, Err for EventError.
type Event struct {
	Type EventType
	Data []byte
	Err  error
}

// ErrNotOpen is returned when writing to a stream that is not open
var ErrNotOpen = errors.New("transcription stream is not open")

// Stream is one live connection to a speech-to-text provider. A stream
// starts in StateConnecting and reports progress on Events, which is closed
// after EventClose. Errors never change the ready state by themselves.
type Stream interface {
	ReadyState() ReadyState
	Send(chunk []byte) error
	KeepAlive() error
	Finish() error
	Events() <-chan Event
}

// Dialer opens live streams. Dial must not block on the network.
type Dialer interface {
	Dial(ctx context.Context, opts Options) Stream
}

// Options are the live transcription parameters sent to the provider
type Options struct {
	Language       string
	Model          string
	Punctuate      bool
	SmartFormat    bool
	FillerWords    bool
	InterimResults bool
	Encoding       string // empty lets the provider detect the container
	SampleRate     int
	Channels       int
}

// Query encodes the options as provider query parameters
func (o Options) Query() url.Values {
	q := url.Values{}

	if o.Language != "" {
		q.Set("language", o.Language)
	}
	if o.Model != "" {
		q.Set("model", o.Model)
	}

	q.Set("punctuate", strconv.FormatBool(o.Punctuate))
	q.Set("smart_format", strconv.FormatBool(o.SmartFormat))
	q.Set("filler_words", strconv.FormatBool(o.FillerWords))
	q.Set("interim_results", strconv.FormatBool(o.InterimResults))

	if o.Encoding != "" {
		q.Set("encoding", o.Encoding)
		if o.SampleRate > 0 {
			q.Set("sample_rate", strconv.Itoa(o.SampleRate))
		}
	}
	if o.Channels > 0 {
		q.Set("channels", strconv.Itoa(o.Channels))
	}

	return q
}
