// Package batch defines the canonical batch-job model shared by the server
// pipeline and the client observers: the phase enum with its monotonic
// ordering, the job snapshot structure, and progress/ETA arithmetic.
package batch

import "fmt"

// Phase is a discrete named stage in a batch's lifecycle.
type Phase string

// Canonical phases in lifecycle order. Complete and Failed are terminal and
// mutually exclusive; no transition follows either.
const (
	PhaseStarting   Phase = "starting"
	PhaseGenerating Phase = "generating"
	PhaseValidating Phase = "validating"
	PhaseImaging    Phase = "imaging"
	PhaseStoring    Phase = "storing"
	PhaseComplete   Phase = "complete"
	PhaseFailed     Phase = "failed"
)

var phaseRank = map[Phase]int{
	PhaseStarting:   0,
	PhaseGenerating: 1,
	PhaseValidating: 2,
	PhaseImaging:    3,
	PhaseStoring:    4,
	PhaseComplete:   5,
	PhaseFailed:     5,
}

// Legacy spellings seen in older payloads, mapped to the canonical enum.
var legacyPhases = map[string]Phase{
	"planning":  PhaseStarting,
	"images":    PhaseImaging,
	"image":     PhaseImaging,
	"saving":    PhaseStoring,
	"completed": PhaseComplete,
	"error":     PhaseFailed,
}

// ParsePhase resolves a wire string to a canonical Phase, translating legacy
// spellings at the boundary.
func ParsePhase(s string) (Phase, error) {
	p := Phase(s)
	if _, ok := phaseRank[p]; ok {
		return p, nil
	}
	if mapped, ok := legacyPhases[s]; ok {
		return mapped, nil
	}
	return "", fmt.Errorf("unknown phase %q", s)
}

// Rank returns the position of p in the canonical ordering, or -1 for an
// unknown phase.
func (p Phase) Rank() int {
	r, ok := phaseRank[p]
	if !ok {
		return -1
	}
	return r
}

// Terminal reports whether p is a terminal phase.
func (p Phase) Terminal() bool {
	return p == PhaseComplete || p == PhaseFailed
}

// Before reports whether p strictly precedes other in the canonical ordering.
// Unknown phases never precede anything.
func (p Phase) Before(other Phase) bool {
	pr, or := p.Rank(), other.Rank()
	if pr < 0 || or < 0 {
		return false
	}
	return pr < or
}

// CanAdvance reports whether a transition p -> next is legal: phases are
// monotonic and terminal phases admit no successor. Repeating the current
// phase is allowed (duplicate progress events are no-ops downstream).
func (p Phase) CanAdvance(next Phase) bool {
	if next.Rank() < 0 {
		return false
	}
	if p.Terminal() {
		return false
	}
	return p.Rank() <= next.Rank()
}
