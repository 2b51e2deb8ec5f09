package playback

// fifo is a first-in first-out list. It is not safe for concurrent use.
type fifo[T any] struct {
	items []T
}

func (q *fifo[T]) push(item T) {
	q.items = append(q.items, item)
}

// pop removes the front element. ok is false when the list is empty.
func (q *fifo[T]) pop() (item T, ok bool) {
	if len(q.items) == 0 {
		return item, false
	}
	item = q.items[0]
	var zero T
	q.items[0] = zero
	q.items = q.items[1:]
	return item, true
}

func (q *fifo[T]) len() int {
	return len(q.items)
}

func (q *fifo[T]) clear() {
	q.items = nil
}
