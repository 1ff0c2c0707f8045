package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/drmweyers/mealbatch/internal/broadcast"
)

// LogSink writes batch lifecycle events to a zap logger. Progress deltas log
// at debug; terminal events at info.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires the logger.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume logs one event.
func (s *LogSink) Consume(_ context.Context, evt broadcast.Event) error {
	fields := []zap.Field{
		zap.String("batch_id", evt.BatchID.String()),
		zap.String("phase", string(evt.Job.Phase)),
		zap.Int("completed", evt.Job.CompletedUnits),
		zap.Int("failed", evt.Job.FailedUnits),
		zap.Int("total", evt.Job.TotalUnits),
	}
	switch evt.Type {
	case broadcast.TypeComplete:
		s.logger.Info("batch complete", fields...)
	case broadcast.TypeError:
		s.logger.Info("batch failed", append(fields, zap.String("reason", evt.Message))...)
	default:
		s.logger.Debug("batch progress", fields...)
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
