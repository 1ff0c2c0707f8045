package dispatch

import (
	"context"
	"fmt"
	"sync"

	"github.com/drmweyers/mealbatch/internal/batch"
	"github.com/drmweyers/mealbatch/internal/worker"
)

// Dispatcher fans queued submissions out to a pool of pipeline runners.
type Dispatcher struct {
	queue   batch.Queue
	runners []*worker.Runner
}

// New creates a Dispatcher.
func New(queue batch.Queue, runners []*worker.Runner) *Dispatcher {
	return &Dispatcher{
		queue:   queue,
		runners: runners,
	}
}

// Run starts all runners and blocks until the context finishes.
func (d *Dispatcher) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, r := range d.runners {
		wg.Add(1)
		go func(runner *worker.Runner) {
			defer wg.Done()
			runner.Run(ctx)
		}(r)
	}
	<-ctx.Done()
	wg.Wait()
}

// Enqueue proxies to the underlying queue.
func (d *Dispatcher) Enqueue(ctx context.Context, sub batch.Submission) error {
	if err := d.queue.Enqueue(ctx, sub); err != nil {
		return fmt.Errorf("queue enqueue: %w", err)
	}
	return nil
}
