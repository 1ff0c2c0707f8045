package sinks

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/drmweyers/mealbatch/internal/broadcast"
	"github.com/drmweyers/mealbatch/internal/store"
)

// ArchiveSink persists terminal batch outcomes through a store.Archive.
// Non-terminal events pass through untouched; the live registry owns those.
type ArchiveSink struct {
	archive store.Archive
	logger  *zap.Logger
}

// NewArchiveSink constructs an ArchiveSink for the provided archive.
func NewArchiveSink(archive store.Archive, logger *zap.Logger) *ArchiveSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ArchiveSink{archive: archive, logger: logger}
}

// Consume archives terminal events. The archive's Save is idempotent per
// batch id, so duplicate terminal broadcasts do not double-write.
func (s *ArchiveSink) Consume(ctx context.Context, evt broadcast.Event) error {
	if s == nil || s.archive == nil || !evt.Terminal() {
		return nil
	}
	finished := evt.TS
	if evt.Job.FinishedAt != nil {
		finished = *evt.Job.FinishedAt
	}
	rec := store.ArchivedBatch{
		BatchID:        evt.BatchID,
		StartedAt:      evt.Job.StartedAt,
		FinishedAt:     finished,
		Outcome:        store.OutcomeOf(evt.Job),
		TotalUnits:     evt.Job.TotalUnits,
		CompletedUnits: evt.Job.CompletedUnits,
		FailedUnits:    evt.Job.FailedUnits,
		Errors:         evt.Job.Errors,
		Warnings:       evt.Job.Warnings,
	}
	if err := s.archive.Save(ctx, rec); err != nil {
		return fmt.Errorf("archive terminal batch: %w", err)
	}
	s.logger.Debug("batch archived",
		zap.String("batch_id", evt.BatchID.String()),
		zap.String("outcome", string(rec.Outcome)),
	)
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *ArchiveSink) Close(context.Context) error {
	return nil
}
