package queue

import (
	"sync"

	"github.com/ghalamif/AxisFlow/internal/ports"
)

// MemQueue is a bounded in-memory queue that preserves FIFO ordering.
// Ready delivers a wakeup after every successful Enqueue; wakeups coalesce.
type MemQueue[T any] struct {
	mu    sync.Mutex
	data  []T
	cap   int
	ready chan struct{}
}

func NewMemQueue[T any](capacity int) *MemQueue[T] {
	if capacity <= 0 {
		capacity = 1
	}
	return &MemQueue[T]{
		data:  make([]T, 0, capacity),
		cap:   capacity,
		ready: make(chan struct{}, 1),
	}
}

func (q *MemQueue[T]) Enqueue(item T) bool {
	q.mu.Lock()
	if len(q.data) >= q.cap {
		q.mu.Unlock()
		return false
	}
	q.data = append(q.data, item)
	q.mu.Unlock()

	select {
	case q.ready <- struct{}{}:
	default:
	}
	return true
}

func (q *MemQueue[T]) DequeueBatch(max int) []T {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.data) == 0 {
		return nil
	}
	if max <= 0 || max > len(q.data) {
		max = len(q.data)
	}
	out := make([]T, max)
	copy(out, q.data[:max])
	n := copy(q.data, q.data[max:])
	clear(q.data[n:])
	q.data = q.data[:n]
	return out
}

func (q *MemQueue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.data)
}

func (q *MemQueue[T]) Ready() <-chan struct{} { return q.ready }

var _ ports.Queue[int] = (*MemQueue[int])(nil)
