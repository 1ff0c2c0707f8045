package batch

import (
	"time"

	"github.com/google/uuid"
)

// Clock abstracts time.Now so TTL and ETA logic stays testable.
type Clock interface {
	Now() time.Time
}

// Job is the snapshot of one batch recipe-generation run. It is owned by the
// server pipeline; clients only ever read copies of it.
type Job struct {
	ID             uuid.UUID `json:"batch_id"`
	TotalUnits     int       `json:"total"`
	CompletedUnits int       `json:"completed"`
	FailedUnits    int       `json:"failed"`
	Phase          Phase     `json:"phase"`

	StartedAt             time.Time  `json:"started_at"`
	FinishedAt            *time.Time `json:"finished_at,omitempty"`
	EstimatedCompletionAt *time.Time `json:"estimated_completion_at,omitempty"`
	CurrentUnitLabel      string     `json:"current_unit_label,omitempty"`

	// PerAgentStatus maps a named sub-agent (concept, validator, artist,
	// storage) to its own free-form status string.
	PerAgentStatus map[string]string `json:"per_agent_status,omitempty"`

	// Errors and Warnings are insertion-ordered; warnings are non-fatal.
	Errors   []string `json:"errors,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

// Terminal reports whether the job has reached a terminal phase.
func (j Job) Terminal() bool {
	return j.Phase.Terminal()
}

// Clone returns a deep copy so registry snapshots never alias live state.
func (j Job) Clone() Job {
	cp := j
	if j.FinishedAt != nil {
		done := *j.FinishedAt
		cp.FinishedAt = &done
	}
	if j.EstimatedCompletionAt != nil {
		eta := *j.EstimatedCompletionAt
		cp.EstimatedCompletionAt = &eta
	}
	if j.PerAgentStatus != nil {
		cp.PerAgentStatus = make(map[string]string, len(j.PerAgentStatus))
		for k, v := range j.PerAgentStatus {
			cp.PerAgentStatus[k] = v
		}
	}
	cp.Errors = append([]string(nil), j.Errors...)
	cp.Warnings = append([]string(nil), j.Warnings...)
	return cp
}
