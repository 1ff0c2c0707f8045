package client

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/drmweyers/mealbatch/internal/reconcile"
)

// pushObserver consumes the SSE stream for one batch. One observer instance
// owns one stream; a replacement attach for the same batch closes the old
// stream through the shared session guard.
type pushObserver struct {
	c           *Client
	batchID     uuid.UUID
	guard       *sessionGuard
	cb          Callbacks
	lastWarning string
	done        chan struct{}
}

// attachPush opens the event stream and starts the consuming goroutine. The
// returned handle detaches the stream without touching the server-side job.
func (c *Client) attachPush(ctx context.Context, batchID uuid.UUID, guard *sessionGuard, cb Callbacks) (*Handle, error) {
	// One live connection per session: drop any previous stream before
	// opening the replacement.
	guard.closeTransport()

	streamCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	stream, err := openStream(streamCtx, c.httpClient, c.baseURL, batchID)
	if err != nil {
		cancel()
		return nil, err
	}
	guard.swapTransport(stream)

	obs := &pushObserver{
		c:       c,
		batchID: batchID,
		guard:   guard,
		cb:      cb,
		done:    make(chan struct{}),
	}
	go obs.run(streamCtx, stream)

	return &Handle{stop: func() {
		cancel()
		guard.closeTransport()
		<-obs.done
	}}, nil
}

// run drains the stream until the server ends it after a terminal event or
// the connection drops. Dropped connections are not retried in-session; the
// resume path covers recovery on the next start.
func (o *pushObserver) run(ctx context.Context, stream *sseStream) {
	defer close(o.done)

	sawTerminal := false
	for evt := range stream.events {
		switch evt.Name {
		case "connected", "progress":
			o.handleProgress(evt.Data)
		case "complete":
			o.handleComplete(ctx, evt.Data)
			sawTerminal = true
		case "error":
			o.handleBusinessError(ctx, evt.Data)
			sawTerminal = true
		default:
			o.c.logger.Debug("unknown stream event",
				zap.String("batch_id", o.batchID.String()), zap.String("event", evt.Name))
		}
	}

	if sawTerminal || o.guard.terminalFired() {
		return
	}
	if ctx.Err() != nil || !o.guard.ownsTransport(stream) {
		// Stopped locally or replaced by a newer attach; the batch keeps
		// running server-side.
		return
	}

	var cause error
	select {
	case cause = <-stream.errs:
	default:
	}
	o.guard.closeTransport()
	o.c.clearResume(ctx)
	if o.cb.OnError != nil {
		o.cb.OnError(&TransportError{BatchID: o.batchID, Cause: cause})
	}
}

// handleProgress replaces the view wholesale. Events whose phase ranks below
// an already-seen phase are stale replays and get dropped.
func (o *pushObserver) handleProgress(data []byte) {
	var wire progressWire
	if err := json.Unmarshal(data, &wire); err != nil {
		o.c.logger.Debug("malformed progress event", zap.Error(err))
		return
	}
	view, err := wire.toView()
	if err != nil {
		o.c.logger.Debug("malformed progress event", zap.Error(err))
		return
	}
	if !o.guard.observePhase(view.Phase) {
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

func (o *pushObserver) handleComplete(ctx context.Context, data []byte) {
	var wire completeWire
	if err := json.Unmarshal(data, &wire); err != nil {
		o.c.logger.Debug("malformed complete event", zap.Error(err))
		return
	}
	if !o.guard.fireTerminal() {
		return
	}
	o.guard.closeTransport()
	o.c.reconcile(ctx, o.batchID, reconcile.Success{
		Completed: wire.Completed,
		Failed:    wire.Failed,
		Errors:    wire.Errors,
	})
	if o.cb.OnComplete != nil {
		o.cb.OnComplete(Summary{
			BatchID:   o.batchID,
			Completed: wire.Completed,
			Failed:    wire.Failed,
			Errors:    wire.Errors,
		})
	}
}

// handleBusinessError routes a structured failure payload through the same
// terminal guard as completion.
func (o *pushObserver) handleBusinessError(ctx context.Context, data []byte) {
	var wire errorWire
	if err := json.Unmarshal(data, &wire); err != nil {
		o.c.logger.Debug("malformed error event", zap.Error(err))
		return
	}
	if !o.guard.fireTerminal() {
		return
	}
	o.guard.closeTransport()
	var errs []string
	if wire.Error != "" {
		errs = []string{wire.Error}
	}
	o.c.reconcile(ctx, o.batchID, reconcile.Failure{Errors: errs})
	if o.cb.OnError != nil {
		o.cb.OnError(&BusinessError{BatchID: o.batchID, Errors: errs})
	}
}
