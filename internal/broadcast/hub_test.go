package broadcast

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/drmweyers/mealbatch/internal/batch"
)

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

type stubSnapshots struct {
	mu   sync.Mutex
	jobs map[uuid.UUID]batch.Job
}

func (s *stubSnapshots) Get(id uuid.UUID) (batch.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return batch.Job{}, errors.New("batch not found")
	}
	return job, nil
}

func (s *stubSnapshots) put(job batch.Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = job
}

func newTestHub(t *testing.T, sinks ...Sink) (*Hub, *stubSnapshots) {
	t.Helper()
	snaps := &stubSnapshots{jobs: make(map[uuid.UUID]batch.Job)}
	hub := NewHub(Config{}, snaps, fixedClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}, sinks...)
	t.Cleanup(func() {
		require.NoError(t, hub.Close(context.Background()))
	})
	return hub, snaps
}

func liveJob(id uuid.UUID) batch.Job {
	return batch.Job{ID: id, TotalUnits: 10, Phase: batch.PhaseGenerating, StartedAt: time.Now().UTC()}
}

// TestSubscribeReplaysSnapshot asserts attach delivers the current state as a
// connected event before any deltas.
func TestSubscribeReplaysSnapshot(t *testing.T) {
	t.Parallel()

	hub, snaps := newTestHub(t)
	id := uuid.New()
	snaps.put(liveJob(id))

	sub, err := hub.Subscribe(id)
	require.NoError(t, err)
	defer sub.Close()

	evt := <-sub.C
	require.Equal(t, TypeConnected, evt.Type)
	require.Equal(t, id, evt.Job.ID)
	require.Equal(t, batch.PhaseGenerating, evt.Job.Phase)
}

func TestSubscribeUnknownBatch(t *testing.T) {
	t.Parallel()

	hub, _ := newTestHub(t)
	_, err := hub.Subscribe(uuid.New())
	require.Error(t, err)
}

// TestSubscribeToTerminalBatch verifies an attach after the fact still sees
// the final event and then the closed stream.
func TestSubscribeToTerminalBatch(t *testing.T) {
	t.Parallel()

	hub, snaps := newTestHub(t)
	id := uuid.New()
	job := liveJob(id)
	job.Phase = batch.PhaseComplete
	job.CompletedUnits = 10
	snaps.put(job)

	sub, err := hub.Subscribe(id)
	require.NoError(t, err)

	evt := <-sub.C
	require.Equal(t, TypeConnected, evt.Type)
	evt = <-sub.C
	require.Equal(t, TypeComplete, evt.Type)
	_, open := <-sub.C
	require.False(t, open, "stream must end after the terminal event")
}

// TestFanOutToMultipleSubscribers covers the two-tabs case: every subscriber
// of a batch id receives each delta.
func TestFanOutToMultipleSubscribers(t *testing.T) {
	t.Parallel()

	hub, snaps := newTestHub(t)
	id := uuid.New()
	job := liveJob(id)
	snaps.put(job)

	first, err := hub.Subscribe(id)
	require.NoError(t, err)
	second, err := hub.Subscribe(id)
	require.NoError(t, err)
	<-first.C
	<-second.C

	job.CompletedUnits = 4
	hub.Publish(Event{Type: TypeProgress, BatchID: id, TS: time.Now(), Job: job})

	for _, sub := range []*Subscription{first, second} {
		evt := <-sub.C
		require.Equal(t, TypeProgress, evt.Type)
		require.Equal(t, 4, evt.Job.CompletedUnits)
	}
}

func TestTerminalEventClosesSubscribers(t *testing.T) {
	t.Parallel()

	hub, snaps := newTestHub(t)
	id := uuid.New()
	job := liveJob(id)
	snaps.put(job)

	sub, err := hub.Subscribe(id)
	require.NoError(t, err)
	<-sub.C

	job.Phase = batch.PhaseComplete
	job.CompletedUnits = 10
	hub.Publish(Event{Type: TypeComplete, BatchID: id, TS: time.Now(), Job: job})

	evt := <-sub.C
	require.Equal(t, TypeComplete, evt.Type)
	_, open := <-sub.C
	require.False(t, open)

	// Closing after the terminal close must be a no-op.
	sub.Close()
}

// TestSlowSubscriberCoalesces fills a subscriber buffer and checks the
// newest event survives; the pipeline is never blocked by a lagging client.
func TestSlowSubscriberCoalesces(t *testing.T) {
	t.Parallel()

	snaps := &stubSnapshots{jobs: make(map[uuid.UUID]batch.Job)}
	hub := NewHub(Config{SubscriberBuffer: 2}, snaps, fixedClock{now: time.Now()})
	defer hub.Close(context.Background()) //nolint:errcheck // test teardown

	id := uuid.New()
	job := liveJob(id)
	snaps.put(job)

	sub, err := hub.Subscribe(id)
	require.NoError(t, err)

	for i := 1; i <= 5; i++ {
		job.CompletedUnits = i
		hub.Publish(Event{Type: TypeProgress, BatchID: id, TS: time.Now(), Job: job})
	}

	var last Event
	for {
		var ok bool
		select {
		case last, ok = <-sub.C:
			require.True(t, ok)
			if last.Type == TypeProgress && last.Job.CompletedUnits == 5 {
				return
			}
		default:
			t.Fatalf("latest progress event was dropped; last seen %+v", last)
		}
	}
}

func TestPublishInvalidEventIsDiscarded(t *testing.T) {
	t.Parallel()

	sink := &recordingSink{}
	hub, snaps := newTestHub(t, sink)
	id := uuid.New()
	snaps.put(liveJob(id))

	hub.Publish(Event{Type: TypeProgress}) // missing id and timestamp
	hub.Publish(Event{Type: "bogus", BatchID: id, TS: time.Now()})
	require.Empty(t, sink.Events())
}

func TestSinksSeeEveryEvent(t *testing.T) {
	t.Parallel()

	sink := &recordingSink{}
	hub, snaps := newTestHub(t, sink)
	id := uuid.New()
	job := liveJob(id)
	snaps.put(job)

	hub.Publish(Event{Type: TypeProgress, BatchID: id, TS: time.Now(), Job: job})
	job.Phase = batch.PhaseFailed
	hub.Publish(Event{Type: TypeError, BatchID: id, TS: time.Now(), Job: job, Message: "generator crashed"})

	events := sink.Events()
	require.Len(t, events, 2)
	require.Equal(t, TypeProgress, events[0].Type)
	require.Equal(t, TypeError, events[1].Type)
}

// TestCloseRacingPublish detaches subscribers while publishers are mid
// fan-out. A send must never land on a channel the subscriber side closed.
func TestCloseRacingPublish(t *testing.T) {
	t.Parallel()

	hub, snaps := newTestHub(t)
	for i := 0; i < 50; i++ {
		id := uuid.New()
		job := liveJob(id)
		snaps.put(job)

		sub, err := hub.Subscribe(id)
		require.NoError(t, err)

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			for n := 1; n <= 20; n++ {
				job.CompletedUnits = n
				hub.Publish(Event{Type: TypeProgress, BatchID: id, TS: time.Now(), Job: job})
			}
		}()
		go func() {
			defer wg.Done()
			<-sub.C // connected
			sub.Close()
		}()
		wg.Wait()
	}
}

// flippingSnapshots returns a running job from the first Get and a terminal
// one afterwards, with a hook fired inside the first call.
type flippingSnapshots struct {
	mu      sync.Mutex
	calls   int
	running batch.Job
	final   batch.Job
	onFirst func()
}

func (s *flippingSnapshots) Get(uuid.UUID) (batch.Job, error) {
	s.mu.Lock()
	s.calls++
	first := s.calls == 1
	s.mu.Unlock()
	if first {
		if s.onFirst != nil {
			s.onFirst()
		}
		return s.running, nil
	}
	return s.final, nil
}

// TestTerminalDuringAttachIsReplayed covers a batch finishing between the
// snapshot read and the subscriber registration. The terminal publish
// addressed a set this subscriber was not in yet, so attach must replay the
// final event rather than leave the stream hanging.
func TestTerminalDuringAttachIsReplayed(t *testing.T) {
	t.Parallel()

	id := uuid.New()
	running := liveJob(id)
	final := running
	final.Phase = batch.PhaseComplete
	final.CompletedUnits = 10

	snaps := &flippingSnapshots{running: running, final: final}
	hub := NewHub(Config{}, snaps, fixedClock{now: time.Now()})
	defer hub.Close(context.Background()) //nolint:errcheck // test teardown
	snaps.onFirst = func() {
		hub.Publish(Event{Type: TypeComplete, BatchID: id, TS: time.Now(), Job: final})
	}

	sub, err := hub.Subscribe(id)
	require.NoError(t, err)

	evt := <-sub.C
	require.Equal(t, TypeConnected, evt.Type)

	terminals := 0
	for evt := range sub.C {
		require.Equal(t, TypeComplete, evt.Type)
		terminals++
	}
	require.Equal(t, 1, terminals, "late registrant must see the final event exactly once")
}

type recordingSink struct {
	mu     sync.Mutex
	events []Event
}

func (s *recordingSink) Consume(_ context.Context, evt Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, evt)
	return nil
}

func (s *recordingSink) Close(context.Context) error { return nil }

func (s *recordingSink) Events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Event(nil), s.events...)
}
