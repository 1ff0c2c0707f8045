package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// StubGenerator is the development UnitGenerator: it sleeps per unit and
// fails the labels listed in FailLabels. The real AI pipeline replaces it in
// production wiring.
type StubGenerator struct {
	// UnitDuration is the simulated per-unit latency.
	UnitDuration time.Duration
	// FailLabels marks unit labels that should report a generation failure.
	FailLabels map[string]bool
}

// Generate simulates producing one recipe unit.
func (g *StubGenerator) Generate(ctx context.Context, _ uuid.UUID, label string) error {
	if g.UnitDuration > 0 {
		select {
		case <-ctx.Done():
			return fmt.Errorf("generation interrupted: %w", ctx.Err())
		case <-time.After(g.UnitDuration):
		}
	}
	if g.FailLabels[label] {
		return fmt.Errorf("recipe %q failed validation", label)
	}
	return nil
}
