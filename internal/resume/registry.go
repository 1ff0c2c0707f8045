// Package resume persists the most recent watched batch so a restarted
// watcher can reattach to a run that is still in flight.
package resume

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/drmweyers/mealbatch/internal/batch"
)

// DefaultTTL bounds how long a saved record stays resumable. A batch older
// than this is almost certainly finished or evicted server-side, so handing
// it back would only produce a stale attach.
const DefaultTTL = 5 * time.Minute

// Record is the persisted resume slot.
type Record struct {
	BatchID uuid.UUID
	Total   int
	SavedAt time.Time
}

// Registry stores at most one resume record. Saving overwrites the previous
// slot; loading purges an expired one.
type Registry struct {
	db    *sql.DB
	ttl   time.Duration
	clock batch.Clock
}

// NewRegistry opens (creating if needed) the sqlite file at path.
func NewRegistry(path string, ttl time.Duration, clock batch.Clock) (*Registry, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("resume db path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create resume db directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if ttl <= 0 {
		ttl = DefaultTTL
	}
	r := &Registry{db: db, ttl: ttl, clock: clock}
	if err := r.init(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return r, nil
}

func (r *Registry) init(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, "PRAGMA journal_mode = WAL;"); err != nil {
		return fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := r.db.ExecContext(ctx, "PRAGMA busy_timeout = 5000;"); err != nil {
		return fmt.Errorf("set busy timeout: %w", err)
	}
	// slot is fixed at 0 so the table can never hold more than one record.
	if _, err := r.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS resume_slot (
		slot INTEGER PRIMARY KEY CHECK (slot = 0),
		batch_id TEXT NOT NULL,
		total INTEGER NOT NULL,
		saved_at DATETIME NOT NULL
	);`); err != nil {
		return fmt.Errorf("create resume_slot: %w", err)
	}
	return nil
}

// Save records the batch as the resume slot, replacing whatever was there.
func (r *Registry) Save(ctx context.Context, batchID uuid.UUID, total int) error {
	_, err := r.db.ExecContext(
		ctx,
		`INSERT INTO resume_slot (slot, batch_id, total, saved_at)
		 VALUES (0, ?, ?, ?)
		 ON CONFLICT(slot) DO UPDATE SET
			batch_id=excluded.batch_id,
			total=excluded.total,
			saved_at=excluded.saved_at`,
		batchID.String(),
		total,
		r.clock.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("save resume slot: %w", err)
	}
	return nil
}

// Load returns the saved record, if any. An expired record is deleted and
// reported as absent, so a stale slot cannot be handed out twice.
func (r *Registry) Load(ctx context.Context) (Record, bool, error) {
	row := r.db.QueryRowContext(ctx, `SELECT batch_id, total, saved_at FROM resume_slot WHERE slot = 0`)

	var rawID string
	var rec Record
	if err := row.Scan(&rawID, &rec.Total, &rec.SavedAt); err != nil {
		if err == sql.ErrNoRows {
			return Record{}, false, nil
		}
		return Record{}, false, fmt.Errorf("load resume slot: %w", err)
	}
	id, err := uuid.Parse(rawID)
	if err != nil {
		_ = r.purge(ctx)
		return Record{}, false, nil
	}
	rec.BatchID = id

	if r.clock.Now().Sub(rec.SavedAt) > r.ttl {
		if err := r.purge(ctx); err != nil {
			return Record{}, false, err
		}
		return Record{}, false, nil
	}
	return rec, true, nil
}

// Clear removes the resume slot. Clearing an empty slot is not an error.
func (r *Registry) Clear(ctx context.Context) error {
	return r.purge(ctx)
}

func (r *Registry) purge(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM resume_slot WHERE slot = 0`); err != nil {
		return fmt.Errorf("clear resume slot: %w", err)
	}
	return nil
}

func (r *Registry) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	return r.db.Close()
}
