package audio

import (
	"fmt"
	"sync"
	"time"
)

// Frame is one piece of client audio as it arrived on the connection
type Frame struct {
	Data      []byte
	ArrivedAt time.Time
}

// Sink receives aggregated chunks. The slice is owned by the sink.
type Sink func(chunk []byte) error

// AggregatorStats represents aggregator statistics for monitoring
type AggregatorStats struct {
	FramesAdded  uint64 `json:"frames_added"`
	BytesAdded   uint64 `json:"bytes_added"`
	Flushes      uint64 `json:"flushes"`
	BytesFlushed uint64 `json:"bytes_flushed"`
	SinkErrors   uint64 `json:"sink_errors"`
	Pending      int    `json:"pending_bytes"`
}

// Aggregator concatenates small client frames into larger chunks so the
// transcription stream sees fewer, bigger writes. A chunk is released once
// the window has elapsed since the previous release, when the byte cap is
// reached, or on an explicit Flush. Frames are never forwarded one by one.
type Aggregator struct {
	window   time.Duration
	maxBytes int
	sink     Sink
	now      func() time.Time

	buf       []byte
	lastFlush time.Time

	framesAdded  uint64
	bytesAdded   uint64
	flushes      uint64
	bytesFlushed uint64
	sinkErrors   uint64

	mu sync.Mutex
}

// AggregatorOption customizes an Aggregator
type AggregatorOption func(*Aggregator)

// WithClock replaces the wall clock, for tests
func WithClock(now func() time.Time) AggregatorOption {
	return func(a *Aggregator) {
		a.now = now
	}
}

// NewAggregator creates an aggregator releasing chunks to sink
func NewAggregator(window time.Duration, maxBytes int, sink Sink, opts ...AggregatorOption) (*Aggregator, error) {
	if window <= 0 {
		return nil, fmt.Errorf("aggregation window must be positive, got %v", window)
	}

	if maxBytes <= 0 {
		return nil, fmt.Errorf("max bytes must be positive, got %d", maxBytes)
	}

	if sink == nil {
		return nil, fmt.Errorf("sink cannot be nil")
	}

	a := &Aggregator{
		window:   window,
		maxBytes: maxBytes,
		sink:     sink,
		now:      time.Now,
	}

	for _, opt := range opts {
		opt(a)
	}

	a.lastFlush = a.now()

	return a, nil
}

// AddFrame appends a frame and releases the buffer when the window has
// elapsed or the byte cap is reached. The released chunk includes the frame.
func (a *Aggregator) AddFrame(frame Frame) error {
	if len(frame.Data) == 0 {
		return nil
	}

	a.mu.Lock()
	a.buf = append(a.buf, frame.Data...)
	a.framesAdded++
	a.bytesAdded += uint64(len(frame.Data))

	due := a.now().Sub(a.lastFlush) >= a.window || len(a.buf) >= a.maxBytes
	if !due {
		a.mu.Unlock()
		return nil
	}

	chunk := a.takeLocked()
	a.mu.Unlock()

	return a.release(chunk)
}

// Tick releases a non-empty buffer whose window has elapsed. The session
// calls it on a timer so a trailing frame is not held until the next one.
func (a *Aggregator) Tick() error {
	a.mu.Lock()
	if len(a.buf) == 0 || a.now().Sub(a.lastFlush) < a.window {
		a.mu.Unlock()
		return nil
	}

	chunk := a.takeLocked()
	a.mu.Unlock()

	return a.release(chunk)
}

// Flush releases whatever is buffered regardless of the window
func (a *Aggregator) Flush() error {
	a.mu.Lock()
	chunk := a.takeLocked()
	a.mu.Unlock()

	return a.release(chunk)
}

// Pending returns the number of buffered bytes not yet released
func (a *Aggregator) Pending() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.buf)
}

// Window returns the aggregation window
func (a *Aggregator) Window() time.Duration {
	return a.window
}

// GetStats returns current aggregator statistics
func (a *Aggregator) GetStats() AggregatorStats {
	a.mu.Lock()
	defer a.mu.Unlock()

	return AggregatorStats{
		FramesAdded:  a.framesAdded,
		BytesAdded:   a.bytesAdded,
		Flushes:      a.flushes,
		BytesFlushed: a.bytesFlushed,
		SinkErrors:   a.sinkErrors,
		Pending:      len(a.buf),
	}
}

// takeLocked detaches the buffer and restarts the window. An empty buffer
// still restarts the window.
func (a *Aggregator) takeLocked() []byte {
	a.lastFlush = a.now()

	if len(a.buf) == 0 {
		return nil
	}

	chunk := a.buf
	a.buf = nil
	a.flushes++
	a.bytesFlushed += uint64(len(chunk))

	return chunk
}

func (a *Aggregator) release(chunk []byte) error {
	if len(chunk) == 0 {
		return nil
	}

	if err := a.sink(chunk); err != nil {
		a.mu.Lock()
		a.sinkErrors++
		a.mu.Unlock()
		return fmt.Errorf("failed to release %d byte chunk: %w", len(chunk), err)
	}

	return nil
}
