package session

import (
	"sync"
	"time"
)

// maxTrackedClips bounds the clip → capture start map when a client never
// reports playback
const maxTrackedClips = 256

// LatencySnapshot is the most recent measurement of each timing
type LatencySnapshot struct {
	Transcript time.Duration `json:"transcript"`
	Synthesis  time.Duration `json:"synthesis"`
	Playback   time.Duration `json:"playback"`
}

// Latency holds the timings of one session. A turn starts with the first
// audio packet after the previous final transcript.
type Latency struct {
	now func() time.Time

	turnStart          time.Time
	transcriptObserved bool
	captureStart       map[uint32]time.Time
	last               LatencySnapshot

	mu sync.Mutex
}

func newLatency(now func() time.Time) *Latency {
	if now == nil {
		now = time.Now
	}
	return &Latency{
		now:          now,
		captureStart: make(map[uint32]time.Time),
	}
}

// MarkPacket records the arrival of an audio packet and opens a turn if
// none is open
func (l *Latency) MarkPacket(at time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.turnStart.IsZero() {
		l.turnStart = at
		l.transcriptObserved = false
	}
}

// MarkTranscript records a transcript. It returns the first-packet to
// transcript latency the first time it is called in a turn. A final
// transcript closes the turn and returns its start.
func (l *Latency) MarkTranscript(final bool) (turnStart time.Time, latency time.Duration, first bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	turnStart = l.turnStart
	if turnStart.IsZero() {
		return time.Time{}, 0, false
	}

	if !l.transcriptObserved {
		latency = l.now().Sub(turnStart)
		l.last.Transcript = latency
		l.transcriptObserved = true
		first = true
	}

	if final {
		l.turnStart = time.Time{}
	}

	return turnStart, latency, first
}

// MarkSynthesis stores the request to response time of a clip
func (l *Latency) MarkSynthesis(d time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.last.Synthesis = d
}

// AssignClip binds a delivered clip to the capture start of its turn
func (l *Latency) AssignClip(clip uint32, captureStart time.Time) {
	if captureStart.IsZero() {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.captureStart) >= maxTrackedClips {
		oldest := clip
		for seq := range l.captureStart {
			if seq < oldest {
				oldest = seq
			}
		}
		delete(l.captureStart, oldest)
	}

	l.captureStart[clip] = captureStart
}

// PlaybackStarted returns the capture start to playback start latency of a
// clip. Each clip is measured once.
func (l *Latency) PlaybackStarted(clip uint32) (time.Duration, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	start, ok := l.captureStart[clip]
	if !ok {
		return 0, false
	}
	delete(l.captureStart, clip)

	d := l.now().Sub(start)
	l.last.Playback = d
	return d, true
}

// Forget drops the capture start of a clip
func (l *Latency) Forget(clip uint32) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.captureStart, clip)
}

// Tracked returns the number of clips awaiting a playback report
func (l *Latency) Tracked() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.captureStart)
}

// Snapshot returns the latest measurements
func (l *Latency) Snapshot() LatencySnapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.last
}
