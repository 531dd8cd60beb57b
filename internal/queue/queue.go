// Package queue provides the mutex-guarded batch buffer that sits
// between the live position path and the background history writer.
package queue

import "sync"

// Queue accumulates rows until a flusher drains them in one batch.
// Safe for concurrent producers.
type Queue[T any] struct {
	mu   sync.Mutex
	rows []T
}

// New returns an empty queue.
func New[T any]() *Queue[T] {
	return &Queue[T]{}
}

// Push appends rows to the queue.
func (q *Queue[T]) Push(rows ...T) {
	q.mu.Lock()
	q.rows = append(q.rows, rows...)
	q.mu.Unlock()
}

// Pop removes and returns the oldest row, or the zero value when empty.
func (q *Queue[T]) Pop() T {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.rows) == 0 {
		var zero T
		return zero
	}
	row := q.rows[0]
	q.rows = q.rows[1:]
	return row
}

// Empty reports whether the queue holds no rows.
func (q *Queue[T]) Empty() bool {
	return q.Len() == 0
}

// Len returns the number of buffered rows.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.rows)
}

// Clear discards all buffered rows.
func (q *Queue[T]) Clear() {
	q.mu.Lock()
	q.rows = q.rows[:0]
	q.mu.Unlock()
}

// GetAndEmpty hands the whole batch to the caller and resets the
// buffer, reusing its capacity for the next accumulation window.
func (q *Queue[T]) GetAndEmpty() []T {
	q.mu.Lock()
	defer q.mu.Unlock()
	batch := q.rows
	q.rows = make([]T, 0, cap(q.rows))
	return batch
}
