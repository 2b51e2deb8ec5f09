package session

import (
	"testing"
	"time"
)

type stepClock struct {
	t time.Time
}

func (c *stepClock) now() time.Time { return c.t }

func (c *stepClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func TestLatencyTurn(t *testing.T) {
	clock := &stepClock{t: time.Unix(1000, 0)}
	l := newLatency(clock.now)

	// No packet yet, nothing to measure
	if _, _, first := l.MarkTranscript(true); first {
		t.Fatal("Measured a transcript without a turn")
	}

	start := clock.t
	l.MarkPacket(start)
	clock.advance(100 * time.Millisecond)
	l.MarkPacket(clock.t) // later packets do not move the turn start

	clock.advance(200 * time.Millisecond)
	turnStart, d, first := l.MarkTranscript(false)
	if !first || d != 300*time.Millisecond || !turnStart.Equal(start) {
		t.Fatalf("Unexpected interim measurement: start=%v d=%v first=%v", turnStart, d, first)
	}

	clock.advance(100 * time.Millisecond)
	turnStart, _, first = l.MarkTranscript(true)
	if first {
		t.Error("Transcript latency measured twice in one turn")
	}
	if !turnStart.Equal(start) {
		t.Errorf("Final transcript lost the turn start")
	}

	// The final transcript closed the turn; the next packet opens a new one
	next := clock.t.Add(time.Second)
	clock.t = next
	l.MarkPacket(next)
	clock.advance(50 * time.Millisecond)

	turnStart, d, first = l.MarkTranscript(true)
	if !first || d != 50*time.Millisecond || !turnStart.Equal(next) {
		t.Errorf("Unexpected second turn: start=%v d=%v first=%v", turnStart, d, first)
	}

	if got := l.Snapshot().Transcript; got != 50*time.Millisecond {
		t.Errorf("Snapshot holds %v, want 50ms", got)
	}
}

func TestLatencyPlayback(t *testing.T) {
	clock := &stepClock{t: time.Unix(1000, 0)}
	l := newLatency(clock.now)

	capture := clock.t
	l.AssignClip(1, capture)
	l.AssignClip(2, time.Time{}) // untracked without a capture start

	clock.advance(2 * time.Second)

	d, ok := l.PlaybackStarted(1)
	if !ok || d != 2*time.Second {
		t.Fatalf("Expected 2s playback latency, got %v %v", d, ok)
	}

	if _, ok := l.PlaybackStarted(1); ok {
		t.Error("Clip measured twice")
	}
	if _, ok := l.PlaybackStarted(2); ok {
		t.Error("Clip without capture start was tracked")
	}

	l.AssignClip(3, capture)
	l.Forget(3)
	if l.Tracked() != 0 {
		t.Errorf("Expected no tracked clips, got %d", l.Tracked())
	}
}

func TestLatencyTrackedClipsBounded(t *testing.T) {
	l := newLatency(nil)
	start := time.Now()

	for seq := uint32(1); seq <= maxTrackedClips+10; seq++ {
		l.AssignClip(seq, start)
	}

	if l.Tracked() != maxTrackedClips {
		t.Fatalf("Expected %d tracked clips, got %d", maxTrackedClips, l.Tracked())
	}

	if _, ok := l.PlaybackStarted(1); ok {
		t.Error("Oldest clip should have been evicted")
	}
	if _, ok := l.PlaybackStarted(maxTrackedClips + 10); !ok {
		t.Error("Newest clip should be tracked")
	}
}
