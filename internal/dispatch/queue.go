// Package dispatch provides the bounded submission queue and the worker pool
// fan-out that drives accepted batches through the generation pipeline.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/drmweyers/mealbatch/internal/batch"
)

// MemoryQueue is a bounded in-memory batch.Queue with context-aware
// operations.
type MemoryQueue struct {
	ch      chan batch.Submission
	closeMu sync.Mutex
	closed  bool
}

// NewMemoryQueue constructs a queue with the provided capacity.
func NewMemoryQueue(capacity int) *MemoryQueue {
	return &MemoryQueue{
		ch: make(chan batch.Submission, capacity),
	}
}

// Enqueue pushes a submission or returns when the context ends.
func (q *MemoryQueue) Enqueue(ctx context.Context, sub batch.Submission) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("enqueue canceled: %w", ctx.Err())
	case q.ch <- sub:
		return nil
	}
}

// Dequeue pops the next submission, respecting context cancellation.
func (q *MemoryQueue) Dequeue(ctx context.Context) (batch.Submission, error) {
	select {
	case <-ctx.Done():
		return batch.Submission{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
	case sub, ok := <-q.ch:
		if !ok {
			return batch.Submission{}, errors.New("queue closed")
		}
		return sub, nil
	}
}

// Close closes the underlying channel for shutdown.
func (q *MemoryQueue) Close() {
	q.closeMu.Lock()
	defer q.closeMu.Unlock()
	if q.closed {
		return
	}
	close(q.ch)
	q.closed = true
}
