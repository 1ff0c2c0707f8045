package reconcile

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type recordingNotifier struct {
	got []Notification
	err error
}

func (n *recordingNotifier) Notify(_ context.Context, msg Notification) error {
	n.got = append(n.got, msg)
	return n.err
}

type recordingInvalidator struct {
	ids []uuid.UUID
	err error
}

func (i *recordingInvalidator) Invalidate(_ context.Context, id uuid.UUID) error {
	i.ids = append(i.ids, id)
	return i.err
}

type recordingClearer struct {
	calls int
	err   error
}

func (c *recordingClearer) Clear(context.Context) error {
	c.calls++
	return c.err
}

func TestReconcileSuccess(t *testing.T) {
	t.Parallel()

	inv := &recordingInvalidator{}
	clr := &recordingClearer{}
	notifier := &recordingNotifier{}
	rec := New(inv, clr, zap.NewNop(), notifier)

	id := uuid.New()
	rec.Reconcile(context.Background(), id, Success{Completed: 10})

	require.Equal(t, []uuid.UUID{id}, inv.ids)
	require.Equal(t, 1, clr.calls)
	require.Len(t, notifier.got, 1)
	require.Equal(t, LevelSuccess, notifier.got[0].Level)
	require.Contains(t, notifier.got[0].Body, "10 recipes")
}

// TestReconcilePartialSuccess checks that completed plus failed units produce
// a warning rather than a hard failure.
func TestReconcilePartialSuccess(t *testing.T) {
	t.Parallel()

	notifier := &recordingNotifier{}
	rec := New(nil, nil, zap.NewNop(), notifier)

	rec.Reconcile(context.Background(), uuid.New(), Success{
		Completed: 8,
		Failed:    2,
		Errors:    []string{"unit 3 invalid", "unit 7 invalid"},
	})

	require.Len(t, notifier.got, 1)
	require.Equal(t, LevelWarning, notifier.got[0].Level)
	require.Contains(t, notifier.got[0].Title, "warnings")
	require.Contains(t, notifier.got[0].Body, "unit 3 invalid; unit 7 invalid")
}

func TestReconcileFailure(t *testing.T) {
	t.Parallel()

	notifier := &recordingNotifier{}
	clr := &recordingClearer{}
	rec := New(nil, clr, zap.NewNop(), notifier)

	rec.Reconcile(context.Background(), uuid.New(), Failure{Errors: []string{"all units failed"}})

	require.Len(t, notifier.got, 1)
	require.Equal(t, LevelError, notifier.got[0].Level)
	require.Equal(t, "all units failed", notifier.got[0].Body)
	require.Equal(t, 1, clr.calls)
}

func TestReconcileFailureWithoutDetails(t *testing.T) {
	t.Parallel()

	notifier := &recordingNotifier{}
	rec := New(nil, nil, zap.NewNop(), notifier)

	rec.Reconcile(context.Background(), uuid.New(), Failure{})
	require.Equal(t, "no details reported", notifier.got[0].Body)
}

// TestReconcileSideEffectFailuresDoNotBlock checks that a failing invalidator
// or notifier still lets the resume slot get cleared.
func TestReconcileSideEffectFailuresDoNotBlock(t *testing.T) {
	t.Parallel()

	inv := &recordingInvalidator{err: errors.New("cache offline")}
	notifier := &recordingNotifier{err: errors.New("popup dead")}
	clr := &recordingClearer{}
	rec := New(inv, clr, zap.NewNop(), notifier)

	rec.Reconcile(context.Background(), uuid.New(), Success{Completed: 1})

	require.Len(t, notifier.got, 1)
	require.Equal(t, 1, clr.calls)
}

func TestReconcileFansOutToAllNotifiers(t *testing.T) {
	t.Parallel()

	first := &recordingNotifier{}
	second := &recordingNotifier{}
	rec := New(nil, nil, zap.NewNop(), first, second)

	rec.Reconcile(context.Background(), uuid.New(), Success{Completed: 2})

	require.Len(t, first.got, 1)
	require.Len(t, second.got, 1)
}
