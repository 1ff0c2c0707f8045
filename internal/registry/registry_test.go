package registry

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/drmweyers/mealbatch/internal/batch"
)

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

func newTestRegistry() *Registry {
	return New(fixedClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)})
}

func TestCreateAndGet(t *testing.T) {
	t.Parallel()

	r := newTestRegistry()
	id := uuid.New()
	job, err := r.Create(id, 10)
	require.NoError(t, err)
	require.Equal(t, batch.PhaseStarting, job.Phase)
	require.Equal(t, 10, job.TotalUnits)
	require.False(t, job.StartedAt.IsZero())

	got, err := r.Get(id)
	require.NoError(t, err)
	require.Equal(t, job, got)

	_, err = r.Create(id, 5)
	require.ErrorIs(t, err, ErrAlreadyExists)

	_, err = r.Get(uuid.New())
	require.ErrorIs(t, err, ErrNotFound)
}

func TestAdvanceIsMonotonic(t *testing.T) {
	t.Parallel()

	r := newTestRegistry()
	id := uuid.New()
	_, err := r.Create(id, 3)
	require.NoError(t, err)

	job, err := r.Advance(id, batch.PhaseGenerating)
	require.NoError(t, err)
	require.Equal(t, batch.PhaseGenerating, job.Phase)

	// Duplicate phase is tolerated as a no-op.
	job, err = r.Advance(id, batch.PhaseGenerating)
	require.NoError(t, err)
	require.Equal(t, batch.PhaseGenerating, job.Phase)

	_, err = r.Advance(id, batch.PhaseValidating)
	require.NoError(t, err)

	_, err = r.Advance(id, batch.PhaseGenerating)
	require.ErrorIs(t, err, ErrPhaseRegression)

	job, err = r.Get(id)
	require.NoError(t, err)
	require.Equal(t, batch.PhaseValidating, job.Phase, "failed transition must not mutate state")
}

func TestTerminalIsExclusiveAndFinal(t *testing.T) {
	t.Parallel()

	r := newTestRegistry()
	id := uuid.New()
	_, err := r.Create(id, 2)
	require.NoError(t, err)

	job, err := r.Complete(id)
	require.NoError(t, err)
	require.Equal(t, batch.PhaseComplete, job.Phase)

	_, err = r.Fail(id, "late failure")
	require.ErrorIs(t, err, ErrTerminal)
	_, err = r.Complete(id)
	require.ErrorIs(t, err, ErrTerminal)
	_, err = r.Advance(id, batch.PhaseStoring)
	require.ErrorIs(t, err, ErrTerminal)
	_, err = r.RecordUnit(id, true, "", "")
	require.ErrorIs(t, err, ErrTerminal)
}

func TestRecordUnitCounters(t *testing.T) {
	t.Parallel()

	r := newTestRegistry()
	id := uuid.New()
	_, err := r.Create(id, 3)
	require.NoError(t, err)

	_, err = r.RecordUnit(id, true, "Grilled Chicken Bowl", "")
	require.NoError(t, err)
	job, err := r.RecordUnit(id, false, "Tofu Scramble", "unit 2 invalid")
	require.NoError(t, err)

	require.Equal(t, 1, job.CompletedUnits)
	require.Equal(t, 1, job.FailedUnits)
	require.Equal(t, "Tofu Scramble", job.CurrentUnitLabel)
	require.Equal(t, []string{"unit 2 invalid"}, job.Errors)
}

func TestAgentStatusEstimateAndWarnings(t *testing.T) {
	t.Parallel()

	r := newTestRegistry()
	id := uuid.New()
	_, err := r.Create(id, 1)
	require.NoError(t, err)

	_, err = r.SetAgentStatus(id, "artist", "rendering plate shot")
	require.NoError(t, err)
	eta := time.Date(2026, 3, 1, 9, 5, 0, 0, time.UTC)
	_, err = r.SetEstimate(id, eta)
	require.NoError(t, err)
	job, err := r.AppendWarning(id, "image quality degraded")
	require.NoError(t, err)

	require.Equal(t, "rendering plate shot", job.PerAgentStatus["artist"])
	require.Equal(t, eta, *job.EstimatedCompletionAt)
	require.Equal(t, []string{"image quality degraded"}, job.Warnings)
}

func TestDeleteAndList(t *testing.T) {
	t.Parallel()

	r := newTestRegistry()
	a, b := uuid.New(), uuid.New()
	_, err := r.Create(a, 1)
	require.NoError(t, err)
	_, err = r.Create(b, 1)
	require.NoError(t, err)
	require.Len(t, r.List(), 2)

	r.Delete(a)
	require.Len(t, r.List(), 1)
	_, err = r.Get(a)
	require.ErrorIs(t, err, ErrNotFound)
}
