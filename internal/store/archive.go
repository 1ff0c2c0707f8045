// Package store declares the durable archive of terminal batch outcomes.
// Live batches belong to the registry; once a batch reaches a terminal phase
// its outcome is archived here and the live entry becomes eligible for
// eviction.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/drmweyers/mealbatch/internal/batch"
)

// ErrNotFound signals that the requested archive row does not exist.
var ErrNotFound = errors.New("archived batch not found")

// Outcome classifies a terminal batch.
type Outcome string

// Archived outcomes.
const (
	OutcomeSuccess Outcome = "success"
	OutcomePartial Outcome = "partial"
	OutcomeFailed  Outcome = "failed"
)

// OutcomeOf derives the archive outcome from a terminal job snapshot: partial
// means some units landed and some failed but the batch itself completed.
func OutcomeOf(job batch.Job) Outcome {
	if job.Phase == batch.PhaseFailed {
		return OutcomeFailed
	}
	if job.CompletedUnits > 0 && job.FailedUnits > 0 {
		return OutcomePartial
	}
	return OutcomeSuccess
}

// ArchivedBatch is one closed batch as persisted.
type ArchivedBatch struct {
	BatchID        uuid.UUID
	StartedAt      time.Time
	FinishedAt     time.Time
	Outcome        Outcome
	TotalUnits     int
	CompletedUnits int
	FailedUnits    int
	Errors         []string
	Warnings       []string
}

// Archive persists terminal batch outcomes. Save must be idempotent per batch
// id; duplicate terminal broadcasts may reach the archive sink.
type Archive interface {
	Save(ctx context.Context, rec ArchivedBatch) error
	Get(ctx context.Context, batchID uuid.UUID) (ArchivedBatch, error)
	List(ctx context.Context, outcome *Outcome, limit, offset int) ([]ArchivedBatch, error)
}
