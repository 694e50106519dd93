package util

import (
	"context"
	"errors"
	"sync"
	"time"
)

var (
	ErrQueueClosed = errors.New("queue closed")
	ErrQueueEmpty  = errors.New("queue empty")
	ErrQueueFull   = errors.New("queue full")
)

// Queue is a bounded FIFO queue safe for concurrent use. Pop supports
// non-blocking (timeout < 0), bounded (timeout > 0) and context-bound
// (timeout == 0) waits.
type Queue[T any] struct {
	mu       sync.Mutex
	items    []T
	capacity int
	notify   chan struct{}
	closed   bool
}

func NewQueue[T any](capacity int) *Queue[T] {
	if capacity <= 0 {
		capacity = 1
	}
	return &Queue[T]{
		capacity: capacity,
		notify:   make(chan struct{}, 1),
	}
}

// Push appends an item, failing when the queue is closed or full.
func (q *Queue[T]) Push(item T) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrQueueClosed
	}
	if len(q.items) >= q.capacity {
		q.mu.Unlock()
		return ErrQueueFull
	}
	q.items = append(q.items, item)
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
	return nil
}

// Pop removes the oldest item. With timeout < 0 it returns ErrQueueEmpty
// immediately when nothing is queued.
func (q *Queue[T]) Pop(ctx context.Context, timeout time.Duration) (T, error) {
	var zero T

	var timer *time.Timer
	var deadline <-chan time.Time
	if timeout > 0 {
		timer = time.NewTimer(timeout)
		deadline = timer.C
		defer timer.Stop()
	}

	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			item := q.items[0]
			q.items = q.items[1:]
			q.mu.Unlock()
			return item, nil
		}
		closed := q.closed
		q.mu.Unlock()

		if closed {
			return zero, ErrQueueClosed
		}
		if timeout < 0 {
			return zero, ErrQueueEmpty
		}

		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-deadline:
			return zero, ErrQueueEmpty
		case <-q.notify:
		}
	}
}

func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Clear drops all pending items.
func (q *Queue[T]) Clear() {
	q.mu.Lock()
	q.items = nil
	q.mu.Unlock()
}

// Close marks the queue closed; pending Pop calls wake up with ErrQueueClosed.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
}
