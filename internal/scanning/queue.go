package scanning

import (
	"errors"
	"sync"
)

// ErrQueueClosed is returned by Enqueue after Close.
var ErrQueueClosed = errors.New("work queue is closed")

// Queue is an unbounded FIFO of targets shared by one producer and many
// workers. Dequeue blocks until an item arrives or the queue is closed and
// drained.
type Queue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	items  []Target
	head   int
	closed bool
}

// NewQueue creates an empty open queue.
func NewQueue() *Queue {
	q := &Queue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Enqueue appends t. It never blocks.
func (q *Queue) Enqueue(t Target) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrQueueClosed
	}
	q.items = append(q.items, t)
	q.cond.Signal()
	return nil
}

// Dequeue removes the oldest target. ok is false once the queue is closed
// and empty.
func (q *Queue) Dequeue() (t Target, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for q.head == len(q.items) && !q.closed {
		q.cond.Wait()
	}
	if q.head == len(q.items) {
		return Target{}, false
	}

	t = q.items[q.head]
	q.items[q.head] = Target{}
	q.head++

	// Reclaim the consumed prefix once it dominates the backing array.
	if q.head > 1024 && q.head*2 >= len(q.items) {
		n := copy(q.items, q.items[q.head:])
		q.items = q.items[:n]
		q.head = 0
	}
	return t, true
}

// Close marks the queue as complete and wakes all blocked consumers.
// Calling Close more than once is a no-op.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	q.cond.Broadcast()
}

// Len returns the number of targets waiting.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items) - q.head
}

// Closed reports whether Close has been called.
func (q *Queue) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}
