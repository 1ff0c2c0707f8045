package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/drmweyers/mealbatch/internal/store"
)

const (
	defaultArchiveLimit = 50
	maxArchiveLimit     = 500
)

// listArchived handles GET /v1/batches/archived?outcome=&limit=&offset=.
func (s *Server) listArchived(w http.ResponseWriter, r *http.Request) {
	if s.archive == nil {
		s.writeError(w, http.StatusServiceUnavailable, "archive unavailable")
		return
	}
	limit, offset, err := parseLimitOffset(r, defaultArchiveLimit, maxArchiveLimit)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var outcome *store.Outcome
	if raw := strings.TrimSpace(r.URL.Query().Get("outcome")); raw != "" {
		parsed, parseErr := parseOutcome(raw)
		if parseErr != nil {
			s.writeError(w, http.StatusBadRequest, parseErr.Error())
			return
		}
		outcome = &parsed
	}
	ctx, cancel := context.WithTimeout(r.Context(), snapshotTimeout)
	defer cancel()

	recs, err := s.archive.List(ctx, outcome, limit, offset)
	if err != nil {
		s.logger.Error("list archived batches failed", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to list archived batches")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"batches": toArchivedDTOs(recs)})
}

// getArchived handles GET /v1/batches/archived/{batch_id}.
func (s *Server) getArchived(w http.ResponseWriter, r *http.Request) {
	if s.archive == nil {
		s.writeError(w, http.StatusServiceUnavailable, "archive unavailable")
		return
	}
	id, err := parseBatchID(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), snapshotTimeout)
	defer cancel()

	rec, err := s.archive.Get(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.writeError(w, http.StatusNotFound, "archived batch not found")
			return
		}
		s.logger.Error("get archived batch failed", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to load archived batch")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"batch": toArchivedDTO(rec)})
}

func parseLimitOffset(r *http.Request, def, maxLimit int) (int, int, error) {
	q := r.URL.Query()
	limit := def
	if raw := q.Get("limit"); raw != "" {
		val, err := strconv.Atoi(raw)
		if err != nil || val <= 0 {
			return 0, 0, errors.New("invalid limit")
		}
		if val > maxLimit {
			val = maxLimit
		}
		limit = val
	}
	offset := 0
	if raw := q.Get("offset"); raw != "" {
		val, err := strconv.Atoi(raw)
		if err != nil || val < 0 {
			return 0, 0, errors.New("invalid offset")
		}
		offset = val
	}
	return limit, offset, nil
}

func parseOutcome(input string) (store.Outcome, error) {
	switch strings.ToLower(input) {
	case "success":
		return store.OutcomeSuccess, nil
	case "partial":
		return store.OutcomePartial, nil
	case "failed", "failure", "error":
		return store.OutcomeFailed, nil
	default:
		return "", errors.New("invalid outcome")
	}
}

type archivedDTO struct {
	BatchID    string    `json:"batch_id"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Outcome    string    `json:"outcome"`
	Total      int       `json:"total"`
	Completed  int       `json:"completed"`
	Failed     int       `json:"failed"`
	Errors     []string  `json:"errors,omitempty"`
	Warnings   []string  `json:"warnings,omitempty"`
}

func toArchivedDTOs(in []store.ArchivedBatch) []archivedDTO {
	out := make([]archivedDTO, 0, len(in))
	for _, rec := range in {
		out = append(out, toArchivedDTO(rec))
	}
	return out
}

func toArchivedDTO(rec store.ArchivedBatch) archivedDTO {
	return archivedDTO{
		BatchID:    rec.BatchID.String(),
		StartedAt:  rec.StartedAt,
		FinishedAt: rec.FinishedAt,
		Outcome:    string(rec.Outcome),
		Total:      rec.TotalUnits,
		Completed:  rec.CompletedUnits,
		Failed:     rec.FailedUnits,
		Errors:     rec.Errors,
		Warnings:   rec.Warnings,
	}
}
