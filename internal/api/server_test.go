package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/drmweyers/mealbatch/internal/batch"
	"github.com/drmweyers/mealbatch/internal/broadcast"
	"github.com/drmweyers/mealbatch/internal/config"
	"github.com/drmweyers/mealbatch/internal/registry"
)

type stubClock struct{}

func (stubClock) Now() time.Time { return time.Now().UTC() }

type stubEnqueuer struct {
	mu   sync.Mutex
	subs []batch.Submission
	err  error
}

func (e *stubEnqueuer) Enqueue(_ context.Context, sub batch.Submission) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.err != nil {
		return e.err
	}
	e.subs = append(e.subs, sub)
	return nil
}

func newTestServer(t *testing.T) (*Server, *registry.Registry, *broadcast.Hub, *stubEnqueuer) {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)

	reg := registry.New(stubClock{})
	hub := broadcast.NewHub(broadcast.Config{}, reg, stubClock{})
	t.Cleanup(func() {
		require.NoError(t, hub.Close(context.Background()))
	})
	enq := &stubEnqueuer{}
	srv := NewServer(reg, hub, enq, nil, stubClock{}, cfg, prometheus.NewRegistry(), zap.NewNop())
	return srv, reg, hub, enq
}

func TestSubmitBatchWithLabels(t *testing.T) {
	t.Parallel()

	srv, reg, _, enq := newTestServer(t)

	body := `{"units":["Shakshuka","Beef Pho"]}`
	req := httptest.NewRequest(http.MethodPost, "/v1/batches", bytes.NewBufferString(body))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)
	var resp submitResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, 2, resp.Total)

	id, err := uuid.Parse(resp.BatchID)
	require.NoError(t, err)
	job, err := reg.Get(id)
	require.NoError(t, err)
	require.Equal(t, batch.PhaseStarting, job.Phase)
	require.Len(t, enq.subs, 1)
	require.Equal(t, []string{"Shakshuka", "Beef Pho"}, enq.subs[0].Units)
}

func TestSubmitBatchByCount(t *testing.T) {
	t.Parallel()

	srv, _, _, enq := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/v1/batches", bytes.NewBufferString(`{"count":3}`))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Len(t, enq.subs[0].Units, 3)
}

func TestSubmitBatchValidation(t *testing.T) {
	t.Parallel()

	srv, _, _, _ := newTestServer(t)

	for _, body := range []string{`not json`, `{}`, `{"count":0}`, `{"count":9999}`} {
		req := httptest.NewRequest(http.MethodPost, "/v1/batches", bytes.NewBufferString(body))
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, req)
		require.Equal(t, http.StatusBadRequest, rec.Code, "body %q", body)
	}
}

func TestGetSnapshot(t *testing.T) {
	t.Parallel()

	srv, reg, _, _ := newTestServer(t)
	id := uuid.New()
	_, err := reg.Create(id, 10)
	require.NoError(t, err)
	_, err = reg.Advance(id, batch.PhaseGenerating)
	require.NoError(t, err)
	_, err = reg.RecordUnit(id, true, "Pesto Pasta", "")
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/v1/batches/"+id.String(), nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var payload progressPayload
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	require.Equal(t, "generating", payload.Phase)
	require.Equal(t, 1, payload.Completed)
	require.Equal(t, 10, payload.Total)
	require.Equal(t, "Pesto Pasta", payload.CurrentUnitLabel)
}

func TestGetSnapshotNotFound(t *testing.T) {
	t.Parallel()

	srv, _, _, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/v1/batches/"+uuid.NewString(), nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusNotFound, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/v1/batches/not-a-uuid", nil)
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

// TestStreamEventsDeliversSSE runs a real HTTP server, publishes progress and
// a terminal event, and checks the SSE framing end to end.
func TestStreamEventsDeliversSSE(t *testing.T) {
	t.Parallel()

	srv, reg, hub, _ := newTestServer(t)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	id := uuid.New()
	_, err := reg.Create(id, 2)
	require.NoError(t, err)

	resp, err := http.Get(ts.URL + "/v1/batches/" + id.String() + "/events")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	go func() {
		job, _ := reg.Advance(id, batch.PhaseGenerating)
		hub.Publish(broadcast.Event{Type: broadcast.TypeProgress, BatchID: id, TS: time.Now(), Job: job})
		job, _ = reg.Complete(id)
		hub.Publish(broadcast.Event{Type: broadcast.TypeComplete, BatchID: id, TS: time.Now(), Job: job})
	}()

	var names []string
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "event: ") {
			names = append(names, strings.TrimPrefix(line, "event: "))
		}
	}
	require.Equal(t, []string{"connected", "progress", "complete"}, names)
}

func TestStreamEventsUnknownBatch(t *testing.T) {
	t.Parallel()

	srv, _, _, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/v1/batches/"+uuid.NewString()+"/events", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAPIKeyMiddleware(t *testing.T) {
	t.Parallel()

	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Auth.Enabled = true
	cfg.Auth.APIKey = "sekrit"

	reg := registry.New(stubClock{})
	hub := broadcast.NewHub(broadcast.Config{}, reg, stubClock{})
	defer hub.Close(context.Background()) //nolint:errcheck // test teardown
	srv := NewServer(reg, hub, &stubEnqueuer{}, nil, stubClock{}, cfg, prometheus.NewRegistry(), zap.NewNop())

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusForbidden, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-API-Key", "sekrit")
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()

	srv, _, _, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}
