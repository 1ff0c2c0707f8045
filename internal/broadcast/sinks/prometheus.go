package sinks

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/drmweyers/mealbatch/internal/broadcast"
	"github.com/drmweyers/mealbatch/internal/store"
)

// PrometheusSink exports batch progress metrics. It owns the collectors for
// batches started/completed/running, unit outcomes, and batch runtime.
type PrometheusSink struct {
	batchesStarted   prometheus.Counter
	batchesCompleted *prometheus.CounterVec
	batchesRunning   prometheus.Gauge
	batchRuntime     *prometheus.HistogramVec
	unitsTotal       *prometheus.CounterVec

	tracker *batchTracker
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		batchesStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mealbatch_batches_started_total",
			Help: "Total batches that have reported progress.",
		}),
		batchesCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mealbatch_batches_completed_total",
			Help: "Total terminal batches partitioned by outcome.",
		}, []string{"outcome"}),
		batchesRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mealbatch_batches_running",
			Help: "Current number of live batches.",
		}),
		batchRuntime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "mealbatch_batch_runtime_seconds",
			Help:    "Wall time per terminal batch.",
			Buckets: []float64{5, 15, 30, 60, 120, 300, 600, 1200, 3600},
		}, []string{"outcome"}),
		unitsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mealbatch_units_total",
			Help: "Generation units processed partitioned by result.",
		}, []string{"result"}),
		tracker: newBatchTracker(),
	}
	for _, collector := range []prometheus.Collector{
		s.batchesStarted,
		s.batchesCompleted,
		s.batchesRunning,
		s.batchRuntime,
		s.unitsTotal,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register broadcast collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the collectors from one event. Unit counters are computed
// as deltas against the last snapshot seen per batch, so coalesced events
// still account for every unit.
func (s *PrometheusSink) Consume(_ context.Context, evt broadcast.Event) error {
	if evt.Type == broadcast.TypeConnected {
		return nil
	}
	if s.tracker.start(evt.BatchID) {
		s.batchesStarted.Inc()
		s.batchesRunning.Inc()
	}
	dCompleted, dFailed := s.tracker.unitDeltas(evt.BatchID, evt.Job.CompletedUnits, evt.Job.FailedUnits)
	if dCompleted > 0 {
		s.unitsTotal.WithLabelValues("completed").Add(float64(dCompleted))
	}
	if dFailed > 0 {
		s.unitsTotal.WithLabelValues("failed").Add(float64(dFailed))
	}
	if evt.Terminal() && s.tracker.complete(evt.BatchID) {
		outcome := string(store.OutcomeOf(evt.Job))
		s.batchesCompleted.WithLabelValues(outcome).Inc()
		s.batchesRunning.Dec()
		if runtime := evt.TS.Sub(evt.Job.StartedAt); runtime > 0 {
			s.batchRuntime.WithLabelValues(outcome).Observe(runtime.Seconds())
		}
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

type counts struct {
	completed int
	failed    int
	done      bool
}

type batchTracker struct {
	mu   sync.Mutex
	seen map[uuid.UUID]*counts
}

func newBatchTracker() *batchTracker {
	return &batchTracker{seen: make(map[uuid.UUID]*counts)}
}

func (t *batchTracker) start(id uuid.UUID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.seen[id]; ok {
		return false
	}
	t.seen[id] = &counts{}
	return true
}

func (t *batchTracker) unitDeltas(id uuid.UUID, completed, failed int) (int, int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	c, ok := t.seen[id]
	if !ok {
		return 0, 0
	}
	dCompleted := completed - c.completed
	dFailed := failed - c.failed
	if dCompleted < 0 {
		dCompleted = 0
	}
	if dFailed < 0 {
		dFailed = 0
	}
	c.completed, c.failed = completed, failed
	return dCompleted, dFailed
}

func (t *batchTracker) complete(id uuid.UUID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	c, ok := t.seen[id]
	if !ok || c.done {
		return false
	}
	// The entry stays behind with done set so a replayed terminal event
	// cannot re-register the batch as started.
	c.done = true
	return true
}
