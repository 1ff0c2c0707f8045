package retention

import (
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/drmweyers/mealbatch/internal/registry"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestSweepEvictsAgedTerminalBatches(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Date(2026, 8, 25, 9, 0, 0, 0, time.UTC)}
	reg := registry.New(clock)

	done := uuid.New()
	_, err := reg.Create(done, 2)
	require.NoError(t, err)
	_, err = reg.Complete(done)
	require.NoError(t, err)

	live := uuid.New()
	_, err = reg.Create(live, 2)
	require.NoError(t, err)

	sweeper := New(reg, 10*time.Minute, clock, zap.NewNop())

	// Within the grace window nothing goes.
	require.Equal(t, 0, sweeper.SweepOnce())

	clock.advance(11 * time.Minute)
	require.Equal(t, 1, sweeper.SweepOnce())

	_, err = reg.Get(done)
	require.ErrorIs(t, err, registry.ErrNotFound)

	// The live batch survives no matter how old it is.
	_, err = reg.Get(live)
	require.NoError(t, err)
}

func TestSweepEvictsFailedBatches(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Date(2026, 8, 25, 9, 0, 0, 0, time.UTC)}
	reg := registry.New(clock)

	id := uuid.New()
	_, err := reg.Create(id, 1)
	require.NoError(t, err)
	_, err = reg.Fail(id, "all units failed")
	require.NoError(t, err)

	sweeper := New(reg, time.Minute, clock, zap.NewNop())
	clock.advance(2 * time.Minute)
	require.Equal(t, 1, sweeper.SweepOnce())
}

func TestStartRejectsBadSchedule(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Now()}
	sweeper := New(registry.New(clock), time.Minute, clock, zap.NewNop())
	require.Error(t, sweeper.Start("not a schedule"))
}

func TestStartAndStop(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Now()}
	sweeper := New(registry.New(clock), time.Minute, clock, zap.NewNop())
	require.NoError(t, sweeper.Start("@every 1h"))
	sweeper.Stop()
}
