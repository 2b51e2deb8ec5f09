package playback

import (
	"log/slog"
	"sync"
)

// Entry is one clip waiting to be played
type Entry struct {
	Clip  uint32
	Audio []byte
}

// Player plays a single clip. It must call done exactly once, when the clip
// has finished or failed; done may be called from any goroutine, including
// synchronously from Play.
type Player interface {
	Play(entry Entry, done func(err error))
}

// Queue plays clips one at a time in arrival order. The next clip starts
// only after the player reported completion of the previous one; a player
// error counts as completion and the clip is skipped.
type Queue struct {
	player Player
	logger *slog.Logger

	onStart  func(Entry)
	onFinish func(Entry, error)

	pending fifo[Entry]
	playing bool
	current uint32
	closed  bool

	played  uint64
	failed  uint64
	dropped uint64

	mu sync.Mutex
}

// QueueStats represents playback statistics
type QueueStats struct {
	Queued  int    `json:"queued"`
	Playing bool   `json:"playing"`
	Current uint32 `json:"current"`
	Played  uint64 `json:"played"`
	Failed  uint64 `json:"failed"`
	Dropped uint64 `json:"dropped"`
}

// QueueOption customizes a Queue
type QueueOption func(*Queue)

// OnStart registers a hook called right before a clip is handed to the player
func OnStart(fn func(Entry)) QueueOption {
	return func(q *Queue) {
		q.onStart = fn
	}
}

// OnFinish registers a hook called after a clip completed or failed
func OnFinish(fn func(Entry, error)) QueueOption {
	return func(q *Queue) {
		q.onFinish = fn
	}
}

// NewQueue creates a playback queue around a player
func NewQueue(player Player, logger *slog.Logger, opts ...QueueOption) *Queue {
	q := &Queue{
		player: player,
		logger: logger,
	}

	for _, opt := range opts {
		opt(q)
	}

	return q
}

// Enqueue appends a clip and starts it if nothing is playing
func (q *Queue) Enqueue(entry Entry) {
	q.mu.Lock()
	if q.closed {
		q.dropped++
		q.mu.Unlock()
		return
	}
	q.pending.push(entry)
	q.mu.Unlock()

	q.tryPlayNext()
}

// tryPlayNext starts the head of the queue unless a clip is playing
func (q *Queue) tryPlayNext() {
	q.mu.Lock()
	if q.closed || q.playing {
		q.mu.Unlock()
		return
	}

	entry, ok := q.pending.pop()
	if !ok {
		q.mu.Unlock()
		return
	}

	q.playing = true
	q.current = entry.Clip
	q.mu.Unlock()

	if q.onStart != nil {
		q.onStart(entry)
	}

	q.player.Play(entry, q.completion(entry))
}

// completion builds the done callback for one clip. Extra calls and calls
// after Close are ignored.
func (q *Queue) completion(entry Entry) func(error) {
	var once sync.Once

	return func(err error) {
		once.Do(func() {
			q.mu.Lock()
			if q.closed {
				q.mu.Unlock()
				return
			}
			q.playing = false
			if err != nil {
				q.failed++
			} else {
				q.played++
			}
			q.mu.Unlock()

			if err != nil {
				q.logger.Warn("Clip playback failed, skipping",
					slog.Uint64("clip", uint64(entry.Clip)),
					slog.String("error", err.Error()),
				)
			}

			if q.onFinish != nil {
				q.onFinish(entry, err)
			}

			q.tryPlayNext()
		})
	}
}

// Len returns the number of clips waiting behind the current one
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pending.len()
}

// Playing reports whether a clip is currently playing
func (q *Queue) Playing() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.playing
}

// GetStats returns current playback statistics
func (q *Queue) GetStats() QueueStats {
	q.mu.Lock()
	defer q.mu.Unlock()

	return QueueStats{
		Queued:  q.pending.len(),
		Playing: q.playing,
		Current: q.current,
		Played:  q.played,
		Failed:  q.failed,
		Dropped: q.dropped,
	}
}

// Close drops queued clips. The clip already handed to the player is left
// to the player; its completion is ignored.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	q.dropped += uint64(q.pending.len())
	q.pending.clear()
}
