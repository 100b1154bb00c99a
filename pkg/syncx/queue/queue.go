package queue

import (
	"context"
	"sync"
)

// Queue is an unbounded thread-safe FIFO queue.
type Queue[T any] struct {
	mu       sync.Mutex
	notEmpty *sync.Cond
	elems    []T
}

// New creates a new queue.
func New[T any]() *Queue[T] {
	q := &Queue[T]{elems: make([]T, 0)}
	q.notEmpty = sync.NewCond(&q.mu)
	return q
}

// Put adds an element to the queue.
func (q *Queue[T]) Put(t T) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.elems = append(q.elems, t)
	q.notEmpty.Signal()
}

// Get removes and returns an element from the queue. If the queue is empty, then Get will block
// until an element is available.
func (q *Queue[T]) Get() T {
	q.mu.Lock()
	defer q.mu.Unlock()

	for q.empty() {
		q.notEmpty.Wait()
	}
	return q.pop()
}

// TryGet removes and returns an element if one is available without blocking.
func (q *Queue[T]) TryGet() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.empty() {
		var t T
		return t, false
	}
	return q.pop(), true
}

// GetWithContext removes and returns an element from the queue. If the queue is empty, it blocks
// until an element is available or the context is canceled.
func (q *Queue[T]) GetWithContext(ctx context.Context) (T, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			q.mu.Lock()
			q.notEmpty.Broadcast()
			q.mu.Unlock()
		case <-done:
		}
	}()

	for q.empty() && ctx.Err() == nil {
		q.notEmpty.Wait()
	}
	if ctx.Err() != nil {
		if !q.empty() {
			// Pass on a wakeup that may have been meant for another reader.
			q.notEmpty.Signal()
		}
		var t T
		return t, ctx.Err()
	}
	return q.pop(), nil
}

// Len returns the number of elements in the queue.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	return len(q.elems)
}

func (q *Queue[T]) pop() T {
	res := q.elems[0]
	var zero T
	q.elems[0] = zero
	q.elems = q.elems[1:]
	return res
}

func (q *Queue[T]) empty() bool {
	return len(q.elems) == 0
}
