package pool

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/WorlesEnric/Nexus-sub001/internal/errs"
	"github.com/WorlesEnric/Nexus-sub001/internal/logging"
	"github.com/WorlesEnric/Nexus-sub001/internal/sandbox"
)

func newTestFactory() Factory {
	return func() (*sandbox.Instance, error) {
		return sandbox.New(sandbox.Config{MemoryLimitBytes: 1 << 20, StackSizeBytes: 64 << 10}, logging.NewDefault())
	}
}

func TestAcquireRelease_LIFO(t *testing.T) {
	p := New(Config{MaxInstances: 2}, newTestFactory(), logging.NewDefault())

	a, err := p.Acquire()
	require.NoError(t, err)
	b, err := p.Acquire()
	require.NoError(t, err)

	p.Release(a)
	p.Release(b)

	// LIFO: the most recently released instance (b) must come back first.
	c, err := p.Acquire()
	require.NoError(t, err)
	assert.Equal(t, b.ID(), c.ID())
}

func TestAcquire_CapsAtMaxInstances(t *testing.T) {
	p := New(Config{MaxInstances: 1}, newTestFactory(), logging.NewDefault())

	a, err := p.Acquire()
	require.NoError(t, err)

	acquired := make(chan *sandbox.Instance, 1)
	go func() {
		inst, err := p.Acquire()
		require.NoError(t, err)
		acquired <- inst
	}()

	select {
	case <-acquired:
		t.Fatal("second acquire should block while at capacity")
	case <-time.After(50 * time.Millisecond):
	}

	p.Release(a)

	select {
	case inst := <-acquired:
		assert.NotNil(t, inst)
	case <-time.After(time.Second):
		t.Fatal("acquire did not unblock after release")
	}
}

func TestPoolBound_NeverExceedsMax(t *testing.T) {
	p := New(Config{MaxInstances: 3}, newTestFactory(), logging.NewDefault())

	a, err := p.Acquire()
	require.NoError(t, err)
	b, err := p.Acquire()
	require.NoError(t, err)
	c, err := p.Acquire()
	require.NoError(t, err)

	stats := p.Stats()
	assert.Equal(t, 3, stats.ActiveCount)
	assert.LessOrEqual(t, stats.ActiveCount+stats.IdleCount+stats.SuspendedCount, 3)

	p.Release(a)
	p.Release(b)
	p.Release(c)
}

func TestParkAndTakeSuspended(t *testing.T) {
	p := New(Config{MaxInstances: 2}, newTestFactory(), logging.NewDefault())

	a, err := p.Acquire()
	require.NoError(t, err)

	p.ParkSuspended(a, "susp-1")
	stats := p.Stats()
	assert.Equal(t, 1, stats.SuspendedCount)
	assert.Equal(t, 0, stats.ActiveCount)

	back, err := p.TakeSuspended("susp-1")
	require.NoError(t, err)
	assert.Equal(t, a.ID(), back.ID())

	stats = p.Stats()
	assert.Equal(t, 1, stats.ActiveCount)
	assert.Equal(t, 0, stats.SuspendedCount)
}

func TestTakeSuspended_Idempotent(t *testing.T) {
	p := New(Config{MaxInstances: 1}, newTestFactory(), logging.NewDefault())

	a, err := p.Acquire()
	require.NoError(t, err)
	p.ParkSuspended(a, "susp-1")

	_, err = p.TakeSuspended("susp-1")
	require.NoError(t, err)

	_, err = p.TakeSuspended("susp-1")
	assert.True(t, errors.Is(err, errs.ErrUnknownSuspension))
}

func TestShutdown_WakesWaitersAndTerminatesIdle(t *testing.T) {
	p := New(Config{MaxInstances: 1}, newTestFactory(), logging.NewDefault())

	a, err := p.Acquire()
	require.NoError(t, err)
	p.Release(a)

	p.Shutdown()

	_, err = p.Acquire()
	assert.True(t, errors.Is(err, errs.ErrPoolShutdown))
}

func TestShutdown_TerminatesSuspendedInstances(t *testing.T) {
	p := New(Config{MaxInstances: 1}, newTestFactory(), logging.NewDefault())

	a, err := p.Acquire()
	require.NoError(t, err)
	p.ParkSuspended(a, "susp-1")

	p.Shutdown()

	_, err = p.TakeSuspended("susp-1")
	assert.Error(t, err)
}
