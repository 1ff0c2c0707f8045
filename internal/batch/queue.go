package batch

import (
	"context"

	"github.com/google/uuid"
)

// Submission is one accepted batch waiting for the pipeline. Units carries
// the per-recipe labels the generator will work through; its length matches
// the batch's TotalUnits.
type Submission struct {
	BatchID uuid.UUID
	Units   []string
}

// Queue hands accepted submissions to the worker pool.
type Queue interface {
	Enqueue(ctx context.Context, sub Submission) error
	Dequeue(ctx context.Context) (Submission, error)
	Close()
}
