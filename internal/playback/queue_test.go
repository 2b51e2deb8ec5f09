package playback

import (
	"errors"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/diegoasua/dubbing/internal/audio"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

// manualPlayer holds each clip until the test completes it
type manualPlayer struct {
	mu      sync.Mutex
	started []uint32
	dones   map[uint32]func(error)
	active  int
	overlap bool
}

func newManualPlayer() *manualPlayer {
	return &manualPlayer{dones: make(map[uint32]func(error))}
}

func (p *manualPlayer) Play(entry Entry, done func(error)) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.active++
	if p.active > 1 {
		p.overlap = true
	}
	p.started = append(p.started, entry.Clip)
	p.dones[entry.Clip] = done
}

func (p *manualPlayer) finish(t *testing.T, clip uint32, err error) {
	t.Helper()

	p.mu.Lock()
	done, ok := p.dones[clip]
	delete(p.dones, clip)
	if ok {
		p.active--
	}
	p.mu.Unlock()

	if !ok {
		t.Fatalf("Clip %d is not playing", clip)
	}
	done(err)
}

func (p *manualPlayer) startedClips() []uint32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]uint32(nil), p.started...)
}

func TestQueuePlaysOneClipAtATime(t *testing.T) {
	player := newManualPlayer()
	q := NewQueue(player, testLogger())

	q.Enqueue(Entry{Clip: 1})
	q.Enqueue(Entry{Clip: 2})
	q.Enqueue(Entry{Clip: 3})

	if got := player.startedClips(); len(got) != 1 || got[0] != 1 {
		t.Fatalf("Expected only clip 1 to start, got %v", got)
	}
	if !q.Playing() || q.Len() != 2 {
		t.Fatalf("Expected clip playing with 2 queued, got playing=%v len=%d", q.Playing(), q.Len())
	}

	player.finish(t, 1, nil)
	if got := player.startedClips(); len(got) != 2 || got[1] != 2 {
		t.Fatalf("Expected clip 2 after clip 1 finished, got %v", got)
	}

	player.finish(t, 2, nil)
	player.finish(t, 3, nil)

	if q.Playing() || q.Len() != 0 {
		t.Errorf("Expected idle queue, got playing=%v len=%d", q.Playing(), q.Len())
	}

	if player.overlap {
		t.Error("Two clips were playing at the same time")
	}

	if stats := q.GetStats(); stats.Played != 3 || stats.Failed != 0 {
		t.Errorf("Unexpected stats: %+v", stats)
	}

	// Idle queue starts the next clip immediately
	q.Enqueue(Entry{Clip: 4})
	if got := player.startedClips(); len(got) != 4 || got[3] != 4 {
		t.Errorf("Expected clip 4 to start on an idle queue, got %v", got)
	}
}

func TestQueueErrorCountsAsCompletion(t *testing.T) {
	player := newManualPlayer()
	var finished []uint32
	q := NewQueue(player, testLogger(), OnFinish(func(e Entry, err error) {
		finished = append(finished, e.Clip)
	}))

	q.Enqueue(Entry{Clip: 1})
	q.Enqueue(Entry{Clip: 2})

	player.finish(t, 1, errors.New("device unplugged"))

	if got := player.startedClips(); len(got) != 2 {
		t.Fatalf("Expected the queue to move on after an error, got %v", got)
	}

	if stats := q.GetStats(); stats.Failed != 1 {
		t.Errorf("Expected one failed clip, got %+v", stats)
	}

	if len(finished) != 1 || finished[0] != 1 {
		t.Errorf("Unexpected finish hook calls %v", finished)
	}
}

func TestQueueIgnoresDuplicateCompletion(t *testing.T) {
	var dones []func(error)
	player := playerFunc(func(e Entry, done func(error)) { dones = append(dones, done) })
	q := NewQueue(player, testLogger())

	q.Enqueue(Entry{Clip: 1})
	q.Enqueue(Entry{Clip: 2})
	q.Enqueue(Entry{Clip: 3})

	dones[0](nil)
	dones[0](nil) // must not start clip 3 while clip 2 plays

	if len(dones) != 2 {
		t.Fatalf("Expected 2 clips started, got %d", len(dones))
	}
}

func TestQueueSynchronousCompletion(t *testing.T) {
	var order []uint32
	player := playerFunc(func(e Entry, done func(error)) {
		order = append(order, e.Clip)
		done(nil)
	})
	q := NewQueue(player, testLogger())

	for clip := uint32(1); clip <= 3; clip++ {
		q.Enqueue(Entry{Clip: clip})
	}

	if len(order) != 3 || order[0] != 1 || order[2] != 3 {
		t.Errorf("Unexpected play order %v", order)
	}
	if q.Playing() {
		t.Error("Queue still playing after synchronous completions")
	}
}

func TestQueueOnStartHook(t *testing.T) {
	player := newManualPlayer()
	var started []uint32
	q := NewQueue(player, testLogger(), OnStart(func(e Entry) {
		started = append(started, e.Clip)
	}))

	q.Enqueue(Entry{Clip: 7})
	q.Enqueue(Entry{Clip: 8})

	if len(started) != 1 || started[0] != 7 {
		t.Fatalf("Expected start hook for clip 7 only, got %v", started)
	}

	player.finish(t, 7, nil)
	if len(started) != 2 || started[1] != 8 {
		t.Errorf("Expected start hook for clip 8, got %v", started)
	}
}

func TestQueueConcurrentEnqueueNeverOverlaps(t *testing.T) {
	player := &timedPlayer{hold: time.Millisecond}
	q := NewQueue(player, testLogger())

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(clip uint32) {
			defer wg.Done()
			q.Enqueue(Entry{Clip: clip})
		}(uint32(i + 1))
	}
	wg.Wait()

	deadline := time.Now().Add(3 * time.Second)
	for q.GetStats().Played < 20 {
		if time.Now().After(deadline) {
			t.Fatalf("Only %d clips played", q.GetStats().Played)
		}
		time.Sleep(5 * time.Millisecond)
	}

	if player.overlapped() {
		t.Error("Two clips played at the same time")
	}
}

func TestQueueClose(t *testing.T) {
	player := newManualPlayer()
	q := NewQueue(player, testLogger())

	q.Enqueue(Entry{Clip: 1})
	q.Enqueue(Entry{Clip: 2})

	q.Close()
	q.Enqueue(Entry{Clip: 3})

	player.finish(t, 1, nil)

	if got := player.startedClips(); len(got) != 1 {
		t.Errorf("Expected no clip to start after Close, got %v", got)
	}

	if stats := q.GetStats(); stats.Dropped != 2 || stats.Queued != 0 {
		t.Errorf("Unexpected stats after close: %+v", stats)
	}
}

func TestSilentPlayerHoldsClipDuration(t *testing.T) {
	clip, err := audio.EncodeWAV(audio.GenerateTone(440, 50*time.Millisecond, 8000), 8000)
	if err != nil {
		t.Fatalf("EncodeWAV failed: %v", err)
	}

	player := NewSilentPlayer(testLogger())
	done := make(chan error, 1)
	start := time.Now()

	player.Play(Entry{Clip: 1, Audio: clip}, func(err error) { done <- err })

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Unexpected error: %v", err)
		}
		if elapsed := time.Since(start); elapsed < 50*time.Millisecond {
			t.Errorf("Clip finished after %v, before its duration", elapsed)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Silent player never completed")
	}
}

type playerFunc func(Entry, func(error))

func (f playerFunc) Play(e Entry, done func(error)) { f(e, done) }

// timedPlayer completes each clip after a fixed hold and detects overlap
type timedPlayer struct {
	mu      sync.Mutex
	hold    time.Duration
	active  int
	overlap bool
}

func (p *timedPlayer) Play(e Entry, done func(error)) {
	p.mu.Lock()
	p.active++
	if p.active > 1 {
		p.overlap = true
	}
	p.mu.Unlock()

	time.AfterFunc(p.hold, func() {
		p.mu.Lock()
		p.active--
		p.mu.Unlock()
		done(nil)
	})
}

func (p *timedPlayer) overlapped() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.overlap
}
