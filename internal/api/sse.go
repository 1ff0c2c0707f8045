package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/drmweyers/mealbatch/internal/batch"
	"github.com/drmweyers/mealbatch/internal/broadcast"
)

// heartbeatInterval paces SSE comment lines so proxies and clients can
// detect silent connection death.
const heartbeatInterval = 15 * time.Second

// progressPayload is the wire shape shared by the connected event, progress
// events, and the snapshot endpoint.
type progressPayload struct {
	BatchID               string            `json:"batch_id"`
	Phase                 string            `json:"phase"`
	Completed             int               `json:"completed"`
	Failed                int               `json:"failed"`
	Total                 int               `json:"total"`
	CurrentUnitLabel      string            `json:"current_unit_label,omitempty"`
	StartedAt             time.Time         `json:"started_at"`
	EstimatedCompletionAt *time.Time        `json:"estimated_completion_at,omitempty"`
	PerAgentStatus        map[string]string `json:"per_agent_status,omitempty"`
	Errors                []string          `json:"errors,omitempty"`
	Warning               string            `json:"warning,omitempty"`
}

type completePayload struct {
	Completed int              `json:"completed"`
	Failed    int              `json:"failed"`
	Errors    []string         `json:"errors"`
	Metrics   *completeMetrics `json:"metrics,omitempty"`
}

type completeMetrics struct {
	DurationMillis int64 `json:"duration_ms"`
}

type errorPayload struct {
	Error string `json:"error"`
}

func toProgressPayload(job batch.Job) progressPayload {
	p := progressPayload{
		BatchID:               job.ID.String(),
		Phase:                 string(job.Phase),
		Completed:             job.CompletedUnits,
		Failed:                job.FailedUnits,
		Total:                 job.TotalUnits,
		CurrentUnitLabel:      job.CurrentUnitLabel,
		StartedAt:             job.StartedAt,
		EstimatedCompletionAt: job.EstimatedCompletionAt,
		PerAgentStatus:        job.PerAgentStatus,
		Errors:                job.Errors,
	}
	if len(job.Warnings) > 0 {
		p.Warning = job.Warnings[len(job.Warnings)-1]
	}
	return p
}

// streamEvents handles GET /v1/batches/{batch_id}/events as an SSE stream.
// The hub replays the current snapshot as the connected event; the stream
// ends after the terminal event or when the client goes away. A client
// disconnect only detaches the subscription; the batch itself keeps running.
func (s *Server) streamEvents(w http.ResponseWriter, r *http.Request) {
	id, err := parseBatchID(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	sub, err := s.hub.Subscribe(id)
	if err != nil {
		s.writeError(w, http.StatusNotFound, "batch not found")
		return
	}
	defer sub.Close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case evt, open := <-sub.C:
			if !open {
				return
			}
			if err := writeSSE(w, evt, s.clock.Now()); err != nil {
				s.logger.Debug("sse write failed", zap.Error(err))
				return
			}
			flusher.Flush()
		}
	}
}

func writeSSE(w http.ResponseWriter, evt broadcast.Event, now time.Time) error {
	var payload any
	switch evt.Type {
	case broadcast.TypeConnected, broadcast.TypeProgress:
		payload = toProgressPayload(evt.Job)
	case broadcast.TypeComplete:
		body := completePayload{
			Completed: evt.Job.CompletedUnits,
			Failed:    evt.Job.FailedUnits,
			Errors:    evt.Job.Errors,
		}
		if body.Errors == nil {
			body.Errors = []string{}
		}
		if dur := now.Sub(evt.Job.StartedAt); dur > 0 {
			body.Metrics = &completeMetrics{DurationMillis: dur.Milliseconds()}
		}
		payload = body
	case broadcast.TypeError:
		payload = errorPayload{Error: evt.Message}
	default:
		return fmt.Errorf("unknown event type %q", evt.Type)
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", evt.Type, err)
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", evt.Type, data); err != nil {
		return fmt.Errorf("write %s event: %w", evt.Type, err)
	}
	return nil
}
