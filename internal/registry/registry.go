// Package registry holds the authoritative in-memory state of every live
// batch, keyed by batch id. Only the server pipeline mutates it; every read
// returns a detached snapshot.
package registry

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/drmweyers/mealbatch/internal/batch"
)

// Mutation errors surfaced to the pipeline and the API layer.
var (
	ErrNotFound        = errors.New("batch not found")
	ErrAlreadyExists   = errors.New("batch already exists")
	ErrPhaseRegression = errors.New("phase transition would regress")
	ErrTerminal        = errors.New("batch already terminal")
)

// Registry is the live batch store. Terminal batches stay readable until the
// retention sweeper evicts them; durable history lives in the archive store.
type Registry struct {
	mu    sync.RWMutex
	jobs  map[uuid.UUID]*batch.Job
	clock batch.Clock
}

// New constructs an empty Registry.
func New(clock batch.Clock) *Registry {
	return &Registry{
		jobs:  make(map[uuid.UUID]*batch.Job),
		clock: clock,
	}
}

// Create registers a new batch in the starting phase.
func (r *Registry) Create(id uuid.UUID, totalUnits int) (batch.Job, error) {
	if totalUnits < 0 {
		return batch.Job{}, fmt.Errorf("total units must be >= 0, got %d", totalUnits)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.jobs[id]; exists {
		return batch.Job{}, ErrAlreadyExists
	}
	job := &batch.Job{
		ID:         id,
		TotalUnits: totalUnits,
		Phase:      batch.PhaseStarting,
		StartedAt:  r.clock.Now(),
	}
	r.jobs[id] = job
	return job.Clone(), nil
}

// Get returns a snapshot of the batch or ErrNotFound.
func (r *Registry) Get(id uuid.UUID) (batch.Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	job, ok := r.jobs[id]
	if !ok {
		return batch.Job{}, ErrNotFound
	}
	return job.Clone(), nil
}

// Advance moves the batch to phase. Backward transitions return
// ErrPhaseRegression; transitions out of a terminal phase return ErrTerminal.
// Re-asserting the current phase is a no-op.
func (r *Registry) Advance(id uuid.UUID, phase batch.Phase) (batch.Job, error) {
	return r.mutate(id, func(job *batch.Job) error {
		if job.Phase == phase {
			return nil
		}
		if job.Phase.Terminal() {
			return ErrTerminal
		}
		if !job.Phase.CanAdvance(phase) {
			return fmt.Errorf("%w: %s -> %s", ErrPhaseRegression, job.Phase, phase)
		}
		job.Phase = phase
		return nil
	})
}

// RecordUnit applies one finished generation unit. Failed units carry the
// error text that the pipeline surfaces to clients.
func (r *Registry) RecordUnit(id uuid.UUID, succeeded bool, label, unitErr string) (batch.Job, error) {
	return r.mutate(id, func(job *batch.Job) error {
		if job.Phase.Terminal() {
			return ErrTerminal
		}
		if succeeded {
			job.CompletedUnits++
		} else {
			job.FailedUnits++
			if unitErr != "" {
				job.Errors = append(job.Errors, unitErr)
			}
		}
		job.CurrentUnitLabel = label
		return nil
	})
}

// SetAgentStatus records the status line of a named sub-agent.
func (r *Registry) SetAgentStatus(id uuid.UUID, agent, status string) (batch.Job, error) {
	return r.mutate(id, func(job *batch.Job) error {
		if job.PerAgentStatus == nil {
			job.PerAgentStatus = make(map[string]string)
		}
		job.PerAgentStatus[agent] = status
		return nil
	})
}

// SetEstimate updates the estimated completion time.
func (r *Registry) SetEstimate(id uuid.UUID, eta time.Time) (batch.Job, error) {
	return r.mutate(id, func(job *batch.Job) error {
		t := eta
		job.EstimatedCompletionAt = &t
		return nil
	})
}

// AppendWarning attaches a non-fatal warning to the batch.
func (r *Registry) AppendWarning(id uuid.UUID, warning string) (batch.Job, error) {
	return r.mutate(id, func(job *batch.Job) error {
		job.Warnings = append(job.Warnings, warning)
		return nil
	})
}

// Complete marks the batch terminal-successful. Exactly one terminal write
// wins; later attempts return ErrTerminal.
func (r *Registry) Complete(id uuid.UUID) (batch.Job, error) {
	return r.mutate(id, func(job *batch.Job) error {
		if job.Phase.Terminal() {
			return ErrTerminal
		}
		job.Phase = batch.PhaseComplete
		job.CurrentUnitLabel = ""
		now := r.clock.Now()
		job.FinishedAt = &now
		return nil
	})
}

// Fail marks the batch terminal-failed with a reason.
func (r *Registry) Fail(id uuid.UUID, reason string) (batch.Job, error) {
	return r.mutate(id, func(job *batch.Job) error {
		if job.Phase.Terminal() {
			return ErrTerminal
		}
		job.Phase = batch.PhaseFailed
		job.CurrentUnitLabel = ""
		now := r.clock.Now()
		job.FinishedAt = &now
		if reason != "" {
			job.Errors = append(job.Errors, reason)
		}
		return nil
	})
}

// Delete evicts a batch from the live store. Used by the retention sweeper
// once the terminal outcome is archived.
func (r *Registry) Delete(id uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.jobs, id)
}

// List returns snapshots of every live batch.
func (r *Registry) List() []batch.Job {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]batch.Job, 0, len(r.jobs))
	for _, job := range r.jobs {
		out = append(out, job.Clone())
	}
	return out
}

func (r *Registry) mutate(id uuid.UUID, fn func(*batch.Job) error) (batch.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return batch.Job{}, ErrNotFound
	}
	if err := fn(job); err != nil {
		return job.Clone(), err
	}
	return job.Clone(), nil
}
