// Package postgres provides the Postgres-backed batch archive.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/drmweyers/mealbatch/internal/store"
)

// pool is the subset of pgxpool.Pool the store needs; pgxmock satisfies it in
// tests.
type pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// ArchiveStore implements store.Archive on Postgres.
type ArchiveStore struct {
	pool pool
}

// NewArchiveStore connects a pool for the given DSN.
func NewArchiveStore(ctx context.Context, dsn string) (*ArchiveStore, error) {
	p, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}
	return &ArchiveStore{pool: p}, nil
}

// NewArchiveStoreWithPool constructs a store from an existing pool (primarily
// for testing).
func NewArchiveStoreWithPool(p pool) (*ArchiveStore, error) {
	if p == nil {
		return nil, errors.New("pool is required")
	}
	return &ArchiveStore{pool: p}, nil
}

// Close releases the underlying pool resources.
func (s *ArchiveStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Save inserts the terminal outcome. Re-archiving the same batch id is a
// no-op so duplicate terminal broadcasts stay harmless.
func (s *ArchiveStore) Save(ctx context.Context, rec store.ArchivedBatch) error {
	query := `
		INSERT INTO batch_archive
			(batch_id, started_at, finished_at, outcome, total_units, completed_units, failed_units, errors, warnings)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (batch_id) DO NOTHING;
	`
	_, err := s.pool.Exec(ctx, query,
		rec.BatchID,
		rec.StartedAt,
		rec.FinishedAt,
		string(rec.Outcome),
		rec.TotalUnits,
		rec.CompletedUnits,
		rec.FailedUnits,
		rec.Errors,
		rec.Warnings,
	)
	if err != nil {
		return fmt.Errorf("archive batch %s: %w", rec.BatchID, err)
	}
	return nil
}

// Get loads one archived batch or store.ErrNotFound.
func (s *ArchiveStore) Get(ctx context.Context, batchID uuid.UUID) (store.ArchivedBatch, error) {
	query := `
		SELECT batch_id, started_at, finished_at, outcome, total_units, completed_units, failed_units, errors, warnings
		FROM batch_archive
		WHERE batch_id = $1;
	`
	row := s.pool.QueryRow(ctx, query, batchID)
	rec, err := scanArchived(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.ArchivedBatch{}, store.ErrNotFound
		}
		return store.ArchivedBatch{}, fmt.Errorf("get archived batch %s: %w", batchID, err)
	}
	return rec, nil
}

// List returns archived batches, newest first, optionally filtered by outcome.
func (s *ArchiveStore) List(ctx context.Context, outcome *store.Outcome, limit, offset int) ([]store.ArchivedBatch, error) {
	query := `
		SELECT batch_id, started_at, finished_at, outcome, total_units, completed_units, failed_units, errors, warnings
		FROM batch_archive
		WHERE ($1::text IS NULL OR outcome = $1)
		ORDER BY finished_at DESC
		LIMIT $2 OFFSET $3;
	`
	var outcomeArg *string
	if outcome != nil {
		v := string(*outcome)
		outcomeArg = &v
	}
	rows, err := s.pool.Query(ctx, query, outcomeArg, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list archived batches: %w", err)
	}
	defer rows.Close()

	var out []store.ArchivedBatch
	for rows.Next() {
		rec, err := scanArchived(rows)
		if err != nil {
			return nil, fmt.Errorf("scan archived batch: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate archived batches: %w", err)
	}
	return out, nil
}

func scanArchived(row pgx.Row) (store.ArchivedBatch, error) {
	var (
		rec     store.ArchivedBatch
		outcome string
		started time.Time
		done    time.Time
	)
	err := row.Scan(
		&rec.BatchID,
		&started,
		&done,
		&outcome,
		&rec.TotalUnits,
		&rec.CompletedUnits,
		&rec.FailedUnits,
		&rec.Errors,
		&rec.Warnings,
	)
	if err != nil {
		return store.ArchivedBatch{}, err
	}
	rec.StartedAt = started
	rec.FinishedAt = done
	rec.Outcome = store.Outcome(outcome)
	return rec, nil
}
