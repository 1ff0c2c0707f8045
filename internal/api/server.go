// Package api exposes the HTTP interface: batch submission, snapshot polls,
// the SSE event stream, and archive reads.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/drmweyers/mealbatch/internal/batch"
	"github.com/drmweyers/mealbatch/internal/broadcast"
	"github.com/drmweyers/mealbatch/internal/config"
	"github.com/drmweyers/mealbatch/internal/registry"
	"github.com/drmweyers/mealbatch/internal/store"
)

const (
	enqueueTimeout  = 5 * time.Second
	snapshotTimeout = 3 * time.Second
)

// Enqueuer hands accepted submissions to the pipeline; the dispatcher
// satisfies it.
type Enqueuer interface {
	Enqueue(ctx context.Context, sub batch.Submission) error
}

// Server wires HTTP handlers to the registry, hub, dispatcher, and archive.
type Server struct {
	router   chi.Router
	reg      *registry.Registry
	hub      *broadcast.Hub
	enqueuer Enqueuer
	archive  store.Archive
	clock    batch.Clock
	cfg      config.Config
	logger   *zap.Logger
}

// NewServer constructs a Server with middleware and routes. The archive may
// be nil when no database is configured; archive reads then report 503. The
// gatherer serves /metrics; nil falls back to the default registry.
func NewServer(
	reg *registry.Registry,
	hub *broadcast.Hub,
	enqueuer Enqueuer,
	archive store.Archive,
	clock batch.Clock,
	cfg config.Config,
	gatherer prometheus.Gatherer,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		reg:      reg,
		hub:      hub,
		enqueuer: enqueuer,
		archive:  archive,
		clock:    clock,
		cfg:      cfg,
		logger:   logger,
	}
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	if cfg.Auth.Enabled {
		r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
	}

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	r.Route("/v1", func(r chi.Router) {
		r.Route("/batches", func(r chi.Router) {
			// The SSE stream stays outside the timeout wrapper; the
			// connection lives until the terminal event.
			r.Get("/{batch_id}/events", s.streamEvents)

			r.Group(func(r chi.Router) {
				r.Use(timeoutMiddleware(30 * time.Second))
				r.Post("/", s.submitBatch)
				r.Get("/{batch_id}", s.getSnapshot)
				r.Get("/archived", s.listArchived)
				r.Get("/archived/{batch_id}", s.getArchived)
			})
		})
	})

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type submitRequest struct {
	// Units lists the recipe labels to generate. When empty, Count generic
	// units are created instead.
	Units []string `json:"units"`
	Count int      `json:"count"`
}

type submitResponse struct {
	BatchID string `json:"batch_id"`
	Total   int    `json:"total"`
}

func (s *Server) submitBatch(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	units := req.Units
	if len(units) == 0 {
		if req.Count <= 0 {
			s.writeError(w, http.StatusBadRequest, "units or count required")
			return
		}
		units = make([]string, req.Count)
		for i := range units {
			units[i] = fmt.Sprintf("recipe %d", i+1)
		}
	}
	if len(units) > s.cfg.Pipeline.MaxUnitsPerBatch {
		s.writeError(w, http.StatusBadRequest,
			fmt.Sprintf("batch exceeds %d units", s.cfg.Pipeline.MaxUnitsPerBatch))
		return
	}

	id := uuid.New()
	if _, err := s.reg.Create(id, len(units)); err != nil {
		s.writeError(w, http.StatusInternalServerError, "create batch failed")
		return
	}
	queueCtx, cancel := context.WithTimeout(r.Context(), enqueueTimeout)
	defer cancel()
	if err := s.enqueuer.Enqueue(queueCtx, batch.Submission{BatchID: id, Units: units}); err != nil {
		s.reg.Delete(id)
		status := http.StatusInternalServerError
		if errors.Is(err, context.DeadlineExceeded) {
			status = http.StatusServiceUnavailable
		}
		s.writeError(w, status, "pipeline busy")
		return
	}
	s.writeJSON(w, http.StatusAccepted, submitResponse{BatchID: id.String(), Total: len(units)})
}

// getSnapshot handles GET /v1/batches/{batch_id}. The body is the same
// progress-shaped payload the SSE stream carries, so the poll observer and
// the push observer share one decode path.
func (s *Server) getSnapshot(w http.ResponseWriter, r *http.Request) {
	id, err := parseBatchID(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	job, err := s.reg.Get(id)
	if err != nil {
		s.writeError(w, http.StatusNotFound, "batch not found")
		return
	}
	s.writeJSON(w, http.StatusOK, toProgressPayload(job))
}

func parseBatchID(r *http.Request) (uuid.UUID, error) {
	raw := chi.URLParam(r, "batch_id")
	if raw == "" {
		return uuid.UUID{}, errors.New("batch_id is required")
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.UUID{}, errors.New("invalid batch_id")
	}
	return id, nil
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("write JSON failed", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}
