// Package reconcile performs the side effects owed when a watched batch
// reaches a terminal phase: cache invalidation, one user-facing notification,
// and resume-slot cleanup.
package reconcile

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Outcome is the terminal result handed to the reconciler.
type Outcome interface {
	isOutcome()
}

// Success reports a batch that reached the complete phase. Failed counts
// individual units that were dropped along the way.
type Success struct {
	Completed int
	Failed    int
	Errors    []string
}

// Failure reports a batch that reached the failed phase.
type Failure struct {
	Errors []string
}

func (Success) isOutcome() {}
func (Failure) isOutcome() {}

// Level classifies a notification.
type Level string

const (
	LevelSuccess Level = "success"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// Notification is the single user-facing message produced per terminal batch.
type Notification struct {
	BatchID uuid.UUID
	Level   Level
	Title   string
	Body    string
}

// Notifier delivers a notification to one surface (log line, desktop popup,
// webhook). Delivery failures are logged, never propagated.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// CacheInvalidator drops any cached collections the batch mutated. The
// watcher wires the recipe list cache here.
type CacheInvalidator interface {
	Invalidate(ctx context.Context, batchID uuid.UUID) error
}

// ResumeClearer removes the persisted resume slot.
type ResumeClearer interface {
	Clear(ctx context.Context) error
}

// Reconciler fans a terminal outcome out to its side effects. Callers own
// the exactly-once discipline; Reconcile assumes it is invoked a single time
// per batch and keeps no state of its own.
type Reconciler struct {
	invalidator CacheInvalidator
	notifiers   []Notifier
	resume      ResumeClearer
	logger      *zap.Logger
}

// New builds a Reconciler. Any dependency may be nil; the corresponding side
// effect is skipped.
func New(invalidator CacheInvalidator, resume ResumeClearer, logger *zap.Logger, notifiers ...Notifier) *Reconciler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciler{
		invalidator: invalidator,
		notifiers:   notifiers,
		resume:      resume,
		logger:      logger,
	}
}

// Reconcile runs cache invalidation, emits exactly one notification, and
// clears the resume slot. Individual side-effect failures are logged and do
// not block the remaining effects.
func (r *Reconciler) Reconcile(ctx context.Context, batchID uuid.UUID, outcome Outcome) {
	if r.invalidator != nil {
		if err := r.invalidator.Invalidate(ctx, batchID); err != nil {
			r.logger.Warn("cache invalidation failed",
				zap.String("batch_id", batchID.String()), zap.Error(err))
		}
	}

	n := buildNotification(batchID, outcome)
	for _, notifier := range r.notifiers {
		if err := notifier.Notify(ctx, n); err != nil {
			r.logger.Warn("notification delivery failed",
				zap.String("batch_id", batchID.String()), zap.Error(err))
		}
	}

	if r.resume != nil {
		if err := r.resume.Clear(ctx); err != nil {
			r.logger.Warn("resume cleanup failed",
				zap.String("batch_id", batchID.String()), zap.Error(err))
		}
	}
}

// buildNotification picks the single message for the outcome. A completed
// batch with both finished and dropped units is a warning, not a failure.
func buildNotification(batchID uuid.UUID, outcome Outcome) Notification {
	switch o := outcome.(type) {
	case Success:
		if o.Completed > 0 && o.Failed > 0 {
			return Notification{
				BatchID: batchID,
				Level:   LevelWarning,
				Title:   "Batch completed with warnings",
				Body: fmt.Sprintf("%d of %d recipes generated; %d failed: %s",
					o.Completed, o.Completed+o.Failed, o.Failed, joinErrors(o.Errors)),
			}
		}
		return Notification{
			BatchID: batchID,
			Level:   LevelSuccess,
			Title:   "Batch complete",
			Body:    fmt.Sprintf("%d recipes generated", o.Completed),
		}
	case Failure:
		return Notification{
			BatchID: batchID,
			Level:   LevelError,
			Title:   "Batch failed",
			Body:    joinErrors(o.Errors),
		}
	default:
		return Notification{
			BatchID: batchID,
			Level:   LevelError,
			Title:   "Batch ended",
			Body:    "unknown outcome",
		}
	}
}

func joinErrors(errs []string) string {
	if len(errs) == 0 {
		return "no details reported"
	}
	return strings.Join(errs, "; ")
}

// LogNotifier writes notifications to the structured log. It is the default
// surface when no richer notifier is configured.
type LogNotifier struct {
	Logger *zap.Logger
}

func (n LogNotifier) Notify(_ context.Context, msg Notification) error {
	logger := n.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger.Info("batch notification",
		zap.String("batch_id", msg.BatchID.String()),
		zap.String("level", string(msg.Level)),
		zap.String("title", msg.Title),
		zap.String("body", msg.Body),
	)
	return nil
}
