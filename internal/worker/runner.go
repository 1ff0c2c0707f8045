// Package worker runs accepted batches through the generation phases,
// updating the registry and publishing broadcast events as it goes. The
// actual content generation is behind the UnitGenerator interface; the server
// pipeline is otherwise transport- and storage-agnostic.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/drmweyers/mealbatch/internal/batch"
	"github.com/drmweyers/mealbatch/internal/broadcast"
	"github.com/drmweyers/mealbatch/internal/registry"
)

// Named sub-agents whose status lines are surfaced to clients.
const (
	AgentConcept   = "concept"
	AgentValidator = "validator"
	AgentArtist    = "artist"
	AgentStorage   = "storage"
)

// UnitGenerator produces one recipe unit. The production implementation is
// the external AI pipeline; dev and tests plug in stubs. A returned error
// marks the unit failed without stopping the batch.
type UnitGenerator interface {
	Generate(ctx context.Context, batchID uuid.UUID, label string) error
}

// Config controls Runner pacing.
type Config struct {
	// PhasePause inserts a delay after each post-generation phase, useful
	// for watching dev runs; zero in production.
	PhasePause time.Duration
}

// Runner consumes queued submissions and executes the batch pipeline.
type Runner struct {
	queue     batch.Queue
	reg       *registry.Registry
	publisher broadcast.Publisher
	generator UnitGenerator
	clock     batch.Clock
	cfg       Config
	logger    *zap.Logger
}

// New constructs a Runner.
func New(
	queue batch.Queue,
	reg *registry.Registry,
	publisher broadcast.Publisher,
	generator UnitGenerator,
	clock batch.Clock,
	cfg Config,
	logger *zap.Logger,
) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		queue:     queue,
		reg:       reg,
		publisher: publisher,
		generator: generator,
		clock:     clock,
		cfg:       cfg,
		logger:    logger,
	}
}

// Run blocks, consuming submissions until the context finishes. A batch that
// is already running is never abandoned mid-flight because of a client
// disconnect; only process shutdown stops the pipeline.
func (r *Runner) Run(ctx context.Context) {
	for {
		sub, err := r.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			r.logger.Error("queue dequeue failed", zap.Error(err))
			return
		}
		r.processBatch(ctx, sub)
	}
}

func (r *Runner) processBatch(ctx context.Context, sub batch.Submission) {
	logger := r.logger.With(zap.String("batch_id", sub.BatchID.String()))
	logger.Info("batch started", zap.Int("units", len(sub.Units)))

	if err := r.generate(ctx, sub); err != nil {
		r.failBatch(sub.BatchID, err.Error())
		return
	}

	job, err := r.reg.Get(sub.BatchID)
	if err != nil {
		logger.Error("batch vanished mid-pipeline", zap.Error(err))
		return
	}
	if job.CompletedUnits == 0 && job.TotalUnits > 0 {
		r.failBatch(sub.BatchID, "all units failed")
		return
	}

	for _, step := range []struct {
		phase  batch.Phase
		agent  string
		status string
	}{
		{batch.PhaseValidating, AgentValidator, "validating nutrition data"},
		{batch.PhaseImaging, AgentArtist, "rendering recipe images"},
		{batch.PhaseStoring, AgentStorage, "persisting recipes"},
	} {
		if err := r.advance(sub.BatchID, step.phase, step.agent, step.status); err != nil {
			r.failBatch(sub.BatchID, err.Error())
			return
		}
		if r.cfg.PhasePause > 0 {
			select {
			case <-ctx.Done():
			case <-time.After(r.cfg.PhasePause):
			}
		}
	}

	job, err = r.reg.Complete(sub.BatchID)
	if err != nil {
		if !errors.Is(err, registry.ErrTerminal) {
			logger.Error("complete batch failed", zap.Error(err))
		}
		return
	}
	r.publisher.Publish(broadcast.Event{
		Type:    broadcast.TypeComplete,
		BatchID: sub.BatchID,
		TS:      r.clock.Now(),
		Job:     job,
	})
	logger.Info("batch complete",
		zap.Int("completed", job.CompletedUnits),
		zap.Int("failed", job.FailedUnits),
	)
}

// generate walks every unit through the generator, recording counters and a
// pace-based completion estimate after each one.
func (r *Runner) generate(ctx context.Context, sub batch.Submission) error {
	if _, err := r.reg.Advance(sub.BatchID, batch.PhaseGenerating); err != nil {
		return fmt.Errorf("enter generating phase: %w", err)
	}
	if _, err := r.reg.SetAgentStatus(sub.BatchID, AgentConcept, "drafting recipes"); err != nil {
		return fmt.Errorf("set agent status: %w", err)
	}
	started := r.clock.Now()

	for i, label := range sub.Units {
		if ctx.Err() != nil {
			return fmt.Errorf("pipeline shutdown: %w", ctx.Err())
		}
		genErr := r.generator.Generate(ctx, sub.BatchID, label)
		unitErr := ""
		if genErr != nil {
			unitErr = fmt.Sprintf("unit %d invalid: %v", i+1, genErr)
		}
		job, err := r.reg.RecordUnit(sub.BatchID, genErr == nil, label, unitErr)
		if err != nil {
			return fmt.Errorf("record unit: %w", err)
		}

		processed := job.CompletedUnits + job.FailedUnits
		if remaining := job.TotalUnits - processed; remaining > 0 && processed > 0 {
			pace := r.clock.Now().Sub(started) / time.Duration(processed)
			eta := r.clock.Now().Add(pace * time.Duration(remaining))
			if job, err = r.reg.SetEstimate(sub.BatchID, eta); err != nil {
				return fmt.Errorf("set estimate: %w", err)
			}
		}

		r.publisher.Publish(broadcast.Event{
			Type:    broadcast.TypeProgress,
			BatchID: sub.BatchID,
			TS:      r.clock.Now(),
			Job:     job,
		})
	}
	return nil
}

func (r *Runner) advance(id uuid.UUID, phase batch.Phase, agent, status string) error {
	if _, err := r.reg.Advance(id, phase); err != nil {
		return fmt.Errorf("enter %s phase: %w", phase, err)
	}
	job, err := r.reg.SetAgentStatus(id, agent, status)
	if err != nil {
		return fmt.Errorf("set agent status: %w", err)
	}
	r.publisher.Publish(broadcast.Event{
		Type:    broadcast.TypeProgress,
		BatchID: id,
		TS:      r.clock.Now(),
		Job:     job,
	})
	return nil
}

func (r *Runner) failBatch(id uuid.UUID, reason string) {
	job, err := r.reg.Fail(id, reason)
	if err != nil {
		if !errors.Is(err, registry.ErrTerminal) {
			r.logger.Error("fail batch status update", zap.String("batch_id", id.String()), zap.Error(err))
		}
		return
	}
	r.publisher.Publish(broadcast.Event{
		Type:    broadcast.TypeError,
		BatchID: id,
		TS:      r.clock.Now(),
		Job:     job,
		Message: reason,
	})
	r.logger.Warn("batch failed", zap.String("batch_id", id.String()), zap.String("reason", reason))
}
