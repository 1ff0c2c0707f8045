package broadcast

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/drmweyers/mealbatch/internal/batch"
)

const (
	defaultSubscriberBuffer = 16
	defaultSinkTimeout      = 10 * time.Second
)

// SnapshotSource provides the current job snapshot replayed to a subscriber
// on attach. The live registry satisfies it.
type SnapshotSource interface {
	Get(id uuid.UUID) (batch.Job, error)
}

// Config controls hub buffering and sink behavior.
type Config struct {
	// SubscriberBuffer sizes each subscriber channel (default 16). When a
	// subscriber lags, intermediate progress events are coalesced
	// latest-wins rather than blocking the pipeline.
	SubscriberBuffer int
	// SinkTimeout bounds each sink call (default 10s).
	SinkTimeout time.Duration
	// Logger is optional; nil means no logging.
	Logger *zap.Logger
}

// Hub fans batch events out to per-batch subscriber sets and to sinks. Safe
// for concurrent use; Publish never blocks on a slow subscriber.
type Hub struct {
	cfg       Config
	snapshots SnapshotSource
	sinks     []Sink
	clock     batch.Clock
	logger    *zap.Logger

	mu     sync.Mutex
	subs   map[uuid.UUID]map[*Subscription]struct{}
	closed bool
}

// Subscription is one attached subscriber. Events arrive on C, which is
// closed after the terminal event for the batch (or on Close). Every send on
// C and the close itself go through the subscription lock, so a subscriber
// detaching concurrently with a publish can never race the channel.
type Subscription struct {
	C chan Event

	hub     *Hub
	batchID uuid.UUID

	mu     sync.Mutex
	closed bool
}

// NewHub constructs a Hub over the given snapshot source and sinks.
func NewHub(cfg Config, snapshots SnapshotSource, clock batch.Clock, sinks ...Sink) *Hub {
	// Attach replays up to two events (connected plus a possible terminal),
	// so the buffer floor is 2.
	if cfg.SubscriberBuffer < 2 {
		cfg.SubscriberBuffer = defaultSubscriberBuffer
	}
	if cfg.SinkTimeout <= 0 {
		cfg.SinkTimeout = defaultSinkTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		cfg:       cfg,
		snapshots: snapshots,
		sinks:     append([]Sink(nil), sinks...),
		clock:     clock,
		logger:    logger,
		subs:      make(map[uuid.UUID]map[*Subscription]struct{}),
	}
}

// Subscribe attaches to a batch. The current snapshot is replayed immediately
// as a connected event, so a late subscriber (or a reloaded client) sees the
// present state before any deltas. Multiple subscribers per batch id are
// supported; each receives its own copy of the stream.
func (h *Hub) Subscribe(batchID uuid.UUID) (*Subscription, error) {
	snap, err := h.snapshots.Get(batchID)
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", batchID, err)
	}

	sub := &Subscription{
		C:       make(chan Event, h.cfg.SubscriberBuffer),
		hub:     h,
		batchID: batchID,
	}
	sub.C <- Event{
		Type:    TypeConnected,
		BatchID: batchID,
		TS:      h.clock.Now(),
		Job:     snap,
	}

	// A batch that was already terminal when the subscriber attached gets
	// its final event replayed too; the stream then ends.
	if snap.Terminal() {
		sub.finishWith(terminalEvent(snap, h.clock.Now()))
		return sub, nil
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		sub.finish()
		return sub, nil
	}
	set, ok := h.subs[batchID]
	if !ok {
		set = make(map[*Subscription]struct{})
		h.subs[batchID] = set
	}
	set[sub] = struct{}{}
	h.mu.Unlock()

	// The batch may have gone terminal between the snapshot read and the
	// registration above; that publish addressed a subscriber set this one
	// was not in yet. Re-read and replay the final event so the stream
	// still ends with exactly one terminal.
	if snap, err := h.snapshots.Get(batchID); err == nil && snap.Terminal() {
		h.detach(sub)
		sub.finishWith(terminalEvent(snap, h.clock.Now()))
	}
	return sub, nil
}

// Close detaches the subscriber. Safe to call multiple times and after the
// terminal event already closed the channel.
func (s *Subscription) Close() {
	s.hub.detach(s)
	s.finish()
}

// send delivers one non-terminal event, dropping it if the stream already
// ended.
func (s *Subscription) send(evt Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	deliver(s.C, evt)
}

// finishWith delivers the final event and closes the channel in one step, so
// two racing terminal paths cannot both get a send in.
func (s *Subscription) finishWith(evt Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	deliver(s.C, evt)
	s.closed = true
	close(s.C)
}

// finish closes the channel without a final event.
func (s *Subscription) finish() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.C)
}

// detach removes the subscription from the fan-out set. Detaching one that
// was already removed (or never registered) is a no-op.
func (h *Hub) detach(s *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.subs[s.batchID]
	if !ok {
		return
	}
	delete(set, s)
	if len(set) == 0 {
		delete(h.subs, s.batchID)
	}
}

// Publish delivers evt to every subscriber of its batch and to all sinks.
// Invalid events are discarded. A terminal event closes and removes every
// subscription for the batch after delivery.
func (h *Hub) Publish(evt Event) {
	if err := evt.Validate(); err != nil {
		h.logger.Debug("discarding invalid broadcast event", zap.Error(err))
		return
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	set := h.subs[evt.BatchID]
	targets := make([]*Subscription, 0, len(set))
	for sub := range set {
		targets = append(targets, sub)
	}
	if evt.Terminal() {
		delete(h.subs, evt.BatchID)
	}
	h.mu.Unlock()

	for _, sub := range targets {
		if evt.Terminal() {
			sub.finishWith(evt)
		} else {
			sub.send(evt)
		}
	}
	h.consumeSinks(evt)
}

// Close tears down every subscription and closes the sinks.
func (h *Hub) Close(ctx context.Context) error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	var all []*Subscription
	for _, set := range h.subs {
		for sub := range set {
			all = append(all, sub)
		}
	}
	h.subs = make(map[uuid.UUID]map[*Subscription]struct{})
	h.mu.Unlock()

	for _, sub := range all {
		sub.finish()
	}
	for _, sink := range h.sinks {
		if err := sink.Close(ctx); err != nil {
			h.logger.Warn("broadcast sink close failed", zap.Error(err))
		}
	}
	return nil
}

// deliver sends without blocking. When the subscriber buffer is full the
// oldest pending event is dropped so the newest state wins; observers replace
// their view wholesale, so skipped intermediates are harmless. Callers hold
// the subscription lock.
func deliver(ch chan Event, evt Event) {
	select {
	case ch <- evt:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- evt:
	default:
	}
}

func (h *Hub) consumeSinks(evt Event) {
	for _, sink := range h.sinks {
		ctx, cancel := context.WithTimeout(context.Background(), h.cfg.SinkTimeout)
		if err := sink.Consume(ctx, evt); err != nil {
			h.logger.Warn("broadcast sink consume failed", zap.Error(err))
		}
		cancel()
	}
}

func terminalEvent(job batch.Job, ts time.Time) Event {
	if job.Phase == batch.PhaseFailed {
		msg := "batch failed"
		if len(job.Errors) > 0 {
			msg = job.Errors[len(job.Errors)-1]
		}
		return Event{Type: TypeError, BatchID: job.ID, TS: ts, Job: job, Message: msg}
	}
	return Event{Type: TypeComplete, BatchID: job.ID, TS: ts, Job: job}
}
