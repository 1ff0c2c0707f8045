package client

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/drmweyers/mealbatch/internal/batch"
	"github.com/drmweyers/mealbatch/internal/reconcile"
)

// pollState makes the scheduling decision explicit instead of a boolean
// scattered across callbacks.
type pollState int

const (
	pollIdle pollState = iota
	pollActive
	pollStopped
)

// pollObserver fetches snapshots on a fixed interval. It checks the terminal
// guard before scheduling each tick, never after a response arrives, so a
// terminal fired elsewhere cannot race a stale reschedule.
type pollObserver struct {
	c            *Client
	batchID      uuid.UUID
	guard        *sessionGuard
	cb           Callbacks
	state        pollState
	consecErrors int
	lastWarning  string
	done         chan struct{}
}

func (c *Client) startPoll(ctx context.Context, batchID uuid.UUID, guard *sessionGuard, cb Callbacks) *Handle {
	pollCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	obs := &pollObserver{
		c:       c,
		batchID: batchID,
		guard:   guard,
		cb:      cb,
		state:   pollIdle,
		done:    make(chan struct{}),
	}
	go obs.run(pollCtx)
	return &Handle{stop: func() {
		cancel()
		<-obs.done
	}}
}

// run drives the fetch loop. The interval is fixed; there is no backoff.
func (o *pollObserver) run(ctx context.Context) {
	defer close(o.done)
	o.state = pollActive

	ticker := time.NewTicker(o.c.pollInterval)
	defer ticker.Stop()

	// First fetch happens immediately so an already-terminal batch resolves
	// without waiting out an interval.
	for {
		if o.state != pollActive || o.guard.terminalFired() {
			o.state = pollStopped
			return
		}
		o.tick(ctx)
		if o.state != pollActive {
			return
		}
		select {
		case <-ctx.Done():
			o.state = pollStopped
			return
		case <-ticker.C:
		}
	}
}

func (o *pollObserver) tick(ctx context.Context) {
	view, err := o.c.fetchSnapshot(ctx, o.batchID)
	if err != nil {
		if ctx.Err() != nil {
			o.state = pollStopped
			return
		}
		o.consecErrors++
		o.c.logger.Debug("snapshot fetch failed",
			zap.String("batch_id", o.batchID.String()),
			zap.Int("consecutive", o.consecErrors),
			zap.Error(err))
		if o.consecErrors >= o.c.failureThreshold {
			o.state = pollStopped
			o.c.clearResume(ctx)
			if o.cb.OnError != nil {
				o.cb.OnError(&TransportError{BatchID: o.batchID, Cause: err})
			}
		}
		return
	}
	o.consecErrors = 0

	if !o.guard.observePhase(view.Phase) {
		return
	}
	if view.Phase.Terminal() {
		o.state = pollStopped
		o.finish(ctx, view)
		return
	}
	if o.cb.OnUpdate != nil {
		o.cb.OnUpdate(view)
	}
	if view.Warning != "" && view.Warning != o.lastWarning {
		o.lastWarning = view.Warning
		if o.cb.OnError != nil {
			o.cb.OnError(&PartialFailureWarning{
				BatchID: o.batchID,
				Message: view.Warning,
				Failed:  view.Failed,
			})
		}
	}
}

// finish handles the first terminal snapshot with the same exactly-once
// discipline the push observer uses.
func (o *pollObserver) finish(ctx context.Context, view View) {
	if !o.guard.fireTerminal() {
		return
	}
	if view.Phase == batch.PhaseFailed {
		o.c.reconcile(ctx, o.batchID, reconcile.Failure{Errors: view.Errors})
		if o.cb.OnError != nil {
			o.cb.OnError(&BusinessError{BatchID: o.batchID, Errors: view.Errors})
		}
		return
	}
	o.c.reconcile(ctx, o.batchID, reconcile.Success{
		Completed: view.Completed,
		Failed:    view.Failed,
		Errors:    view.Errors,
	})
	if o.cb.OnComplete != nil {
		o.cb.OnComplete(Summary{
			BatchID:   o.batchID,
			Completed: view.Completed,
			Failed:    view.Failed,
			Errors:    view.Errors,
		})
	}
}
