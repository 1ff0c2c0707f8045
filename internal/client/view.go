package client

import (
	"time"

	"github.com/google/uuid"

	"github.com/drmweyers/mealbatch/internal/batch"
)

// View is the decoded progress snapshot handed to OnUpdate. Each event
// replaces the previous view wholesale so stale and fresh fields never mix.
type View struct {
	BatchID               uuid.UUID
	Phase                 batch.Phase
	Completed             int
	Failed                int
	Total                 int
	CurrentUnitLabel      string
	StartedAt             time.Time
	EstimatedCompletionAt *time.Time
	PerAgentStatus        map[string]string
	Errors                []string
	Warning               string
}

// Percentage reports overall progress, zero when the total is unknown.
func (v View) Percentage() float64 {
	return batch.Percentage(v.Completed, v.Failed, v.Total)
}

// ETA renders the remaining time, or the unknown marker when the server has
// not produced an estimate yet.
func (v View) ETA(now time.Time) string {
	return batch.FormatETA(v.EstimatedCompletionAt, now)
}

// progressWire matches the JSON the server emits for connected and progress
// events and for the snapshot endpoint.
type progressWire struct {
	BatchID               string            `json:"batch_id"`
	Phase                 string            `json:"phase"`
	Completed             int               `json:"completed"`
	Failed                int               `json:"failed"`
	Total                 int               `json:"total"`
	CurrentUnitLabel      string            `json:"current_unit_label"`
	StartedAt             time.Time         `json:"started_at"`
	EstimatedCompletionAt *time.Time        `json:"estimated_completion_at"`
	PerAgentStatus        map[string]string `json:"per_agent_status"`
	Errors                []string          `json:"errors"`
	Warning               string            `json:"warning"`
}

type completeWire struct {
	Completed int      `json:"completed"`
	Failed    int      `json:"failed"`
	Errors    []string `json:"errors"`
}

type errorWire struct {
	Error string `json:"error"`
}

func (w progressWire) toView() (View, error) {
	id, err := uuid.Parse(w.BatchID)
	if err != nil {
		return View{}, err
	}
	phase, err := batch.ParsePhase(w.Phase)
	if err != nil {
		return View{}, err
	}
	return View{
		BatchID:               id,
		Phase:                 phase,
		Completed:             w.Completed,
		Failed:                w.Failed,
		Total:                 w.Total,
		CurrentUnitLabel:      w.CurrentUnitLabel,
		StartedAt:             w.StartedAt,
		EstimatedCompletionAt: w.EstimatedCompletionAt,
		PerAgentStatus:        w.PerAgentStatus,
		Errors:                w.Errors,
		Warning:               w.Warning,
	}, nil
}

// Summary is the terminal result handed to OnComplete.
type Summary struct {
	BatchID   uuid.UUID
	Completed int
	Failed    int
	Errors    []string
}
