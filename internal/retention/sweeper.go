// Package retention evicts terminal batches from the live registry once they
// have aged out. Durable history stays in the archive store; the registry
// only needs to serve late-attaching observers for a grace window.
package retention

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/drmweyers/mealbatch/internal/batch"
	"github.com/drmweyers/mealbatch/internal/registry"
)

// Sweeper periodically removes aged-out terminal batches.
type Sweeper struct {
	reg    *registry.Registry
	maxAge time.Duration
	clock  batch.Clock
	logger *zap.Logger
	cron   *cron.Cron
}

// New constructs a Sweeper. maxAge bounds how long a terminal batch stays
// visible to snapshot and subscribe calls.
func New(reg *registry.Registry, maxAge time.Duration, clock batch.Clock, logger *zap.Logger) *Sweeper {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sweeper{
		reg:    reg,
		maxAge: maxAge,
		clock:  clock,
		logger: logger,
	}
}

// Start schedules sweeps with a cron expression such as "@every 1m".
func (s *Sweeper) Start(schedule string) error {
	c := cron.New()
	if _, err := c.AddFunc(schedule, func() { s.SweepOnce() }); err != nil {
		return fmt.Errorf("schedule retention sweep: %w", err)
	}
	c.Start()
	s.cron = c
	return nil
}

// Stop halts the schedule and waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	if s.cron == nil {
		return
	}
	<-s.cron.Stop().Done()
}

// SweepOnce evicts every terminal batch whose terminal transition is older
// than maxAge and reports how many were removed. Live batches are never
// touched regardless of age.
func (s *Sweeper) SweepOnce() int {
	cutoff := s.clock.Now().Add(-s.maxAge)
	evicted := 0
	for _, job := range s.reg.List() {
		if !job.Terminal() || job.FinishedAt == nil {
			continue
		}
		if job.FinishedAt.After(cutoff) {
			continue
		}
		s.reg.Delete(job.ID)
		evicted++
		s.logger.Debug("evicted terminal batch",
			zap.String("batch_id", job.ID.String()),
			zap.String("phase", string(job.Phase)),
		)
	}
	if evicted > 0 {
		s.logger.Info("retention sweep finished", zap.Int("evicted", evicted))
	}
	return evicted
}
