// Package client watches a batch from the consumer side: it subscribes to
// the server event stream (or falls back to snapshot polling), keeps a
// wholesale-replaced progress view, fires terminal side effects exactly once
// per batch, and persists a resume slot so a restarted watcher can reattach.
package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/drmweyers/mealbatch/internal/reconcile"
)

const (
	defaultPollInterval     = 2 * time.Second
	defaultFailureThreshold = 3
)

// ResumeStore is the slice of the resume registry the watcher needs.
type ResumeStore interface {
	Save(ctx context.Context, batchID uuid.UUID, total int) error
	Load(ctx context.Context) (RecordView, bool, error)
	Clear(ctx context.Context) error
}

// RecordView is the loaded resume slot.
type RecordView struct {
	BatchID uuid.UUID
	Total   int
}

// Callbacks receive observation results. Any field may be nil. OnError sees
// *TransportError and *BusinessError for terminal conditions and
// *PartialFailureWarning for non-fatal unit drops; only the warning leaves
// observation running.
type Callbacks struct {
	OnUpdate   func(View)
	OnComplete func(Summary)
	OnError    func(error)
}

// Options tunes a Client. Zero values select the defaults.
type Options struct {
	HTTPClient       *http.Client
	PollInterval     time.Duration
	FailureThreshold int
	ForcePoll        bool
	Logger           *zap.Logger
}

// Client is the watcher-side entry point.
type Client struct {
	baseURL    string
	httpClient *http.Client
	resume     ResumeStore
	reconciler *reconcile.Reconciler
	logger     *zap.Logger

	pollInterval     time.Duration
	failureThreshold int
	forcePoll        bool
}

// New builds a Client. The resume store and reconciler may be nil; resume
// persistence and terminal side effects are then skipped.
func New(baseURL string, store ResumeStore, rec *reconcile.Reconciler, opts Options) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	interval := opts.PollInterval
	if interval <= 0 {
		interval = defaultPollInterval
	}
	threshold := opts.FailureThreshold
	if threshold <= 0 {
		threshold = defaultFailureThreshold
	}
	return &Client{
		baseURL:          strings.TrimRight(baseURL, "/"),
		httpClient:       httpClient,
		resume:           store,
		reconciler:       rec,
		logger:           logger,
		pollInterval:     interval,
		failureThreshold: threshold,
		forcePoll:        opts.ForcePoll,
	}
}

// Handle stops an observation. Stopping detaches the watcher only; the
// server-side batch keeps running.
type Handle struct {
	stop func()
	once sync.Once
}

func (h *Handle) Stop() {
	h.once.Do(h.stop)
}

// ObserveBatch attaches to the batch and reports progress through the
// callbacks until a terminal event arrives or the handle is stopped. The
// push transport is preferred; when the subscription cannot be opened the
// poll observer takes over.
func (c *Client) ObserveBatch(ctx context.Context, batchID uuid.UUID, cb Callbacks) (*Handle, error) {
	guard := guardFor(batchID)

	if !c.forcePoll {
		handle, err := c.attachPush(ctx, batchID, guard, cb)
		if err == nil {
			return handle, nil
		}
		c.logger.Warn("push transport unavailable, falling back to polling",
			zap.String("batch_id", batchID.String()), zap.Error(err))
	}
	return c.startPoll(ctx, batchID, guard, cb), nil
}

// Submit creates a batch with the given recipe labels and records it in the
// resume slot before returning.
func (c *Client) Submit(ctx context.Context, units []string) (uuid.UUID, int, error) {
	id, total, err := c.postBatch(ctx, units)
	if err != nil {
		return uuid.UUID{}, 0, err
	}
	if c.resume != nil {
		if err := c.resume.Save(ctx, id, total); err != nil {
			c.logger.Warn("save resume slot failed", zap.Error(err))
		}
	}
	return id, total, nil
}

// TryResume returns the persisted batch id when a resumable run exists. A
// record past its TTL, or one the server no longer knows, is purged silently
// and reported as absent.
func (c *Client) TryResume(ctx context.Context) (uuid.UUID, bool) {
	if c.resume == nil {
		return uuid.UUID{}, false
	}
	rec, ok, err := c.resume.Load(ctx)
	if err != nil {
		c.logger.Warn("load resume slot failed", zap.Error(err))
		return uuid.UUID{}, false
	}
	if !ok {
		return uuid.UUID{}, false
	}
	if _, err := c.fetchSnapshot(ctx, rec.BatchID); err != nil {
		if errors.Is(err, errBatchNotFound) {
			// The saved batch is gone server-side; drop the slot quietly.
			if clearErr := c.resume.Clear(ctx); clearErr != nil {
				c.logger.Warn("clear stale resume slot failed", zap.Error(clearErr))
			}
			dropGuard(rec.BatchID)
		}
		return uuid.UUID{}, false
	}
	return rec.BatchID, true
}

// clearResume drops the resume slot after a transport loss so the next start
// does not reattach to a stream that just proved unreachable.
func (c *Client) clearResume(ctx context.Context) {
	if c.resume == nil {
		return
	}
	if err := c.resume.Clear(ctx); err != nil {
		c.logger.Warn("clear resume slot failed", zap.Error(err))
	}
}

func (c *Client) reconcile(ctx context.Context, batchID uuid.UUID, outcome reconcile.Outcome) {
	if c.reconciler == nil {
		c.clearResume(ctx)
		return
	}
	c.reconciler.Reconcile(ctx, batchID, outcome)
}

var errBatchNotFound = errors.New("batch not found")

func (c *Client) fetchSnapshot(ctx context.Context, batchID uuid.UUID) (View, error) {
	url := fmt.Sprintf("%s/v1/batches/%s", c.baseURL, batchID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return View{}, fmt.Errorf("build snapshot request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return View{}, fmt.Errorf("fetch snapshot for batch %s: %w", batchID, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return View{}, errBatchNotFound
	default:
		return View{}, fmt.Errorf("fetch snapshot for batch %s: unexpected status %d", batchID, resp.StatusCode)
	}

	var wire progressWire
	if err := decodeJSON(resp.Body, &wire); err != nil {
		return View{}, fmt.Errorf("decode snapshot for batch %s: %w", batchID, err)
	}
	view, err := wire.toView()
	if err != nil {
		return View{}, fmt.Errorf("decode snapshot for batch %s: %w", batchID, err)
	}
	return view, nil
}

func (c *Client) postBatch(ctx context.Context, units []string) (uuid.UUID, int, error) {
	body, err := encodeJSON(map[string]any{"units": units})
	if err != nil {
		return uuid.UUID{}, 0, fmt.Errorf("encode submit request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/batches", body)
	if err != nil {
		return uuid.UUID{}, 0, fmt.Errorf("build submit request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return uuid.UUID{}, 0, fmt.Errorf("submit batch: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		return uuid.UUID{}, 0, fmt.Errorf("submit batch: unexpected status %d", resp.StatusCode)
	}

	var out struct {
		BatchID string `json:"batch_id"`
		Total   int    `json:"total"`
	}
	if err := decodeJSON(resp.Body, &out); err != nil {
		return uuid.UUID{}, 0, fmt.Errorf("decode submit response: %w", err)
	}
	id, err := uuid.Parse(out.BatchID)
	if err != nil {
		return uuid.UUID{}, 0, fmt.Errorf("decode submit response: %w", err)
	}
	return id, out.Total, nil
}
