package sched

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestScheduler(opts Options) *Scheduler {
	return New(slog.New(slog.NewTextHandler(io.Discard, nil)), opts)
}

func reserveNow(t *testing.T, s *Scheduler, tool string, limits ToolLimits) *Slot {
	t.Helper()
	slot, waiter, err := s.Reserve(tool, limits)
	require.NoError(t, err)
	require.Nil(t, waiter)
	require.NotNil(t, slot)
	return slot
}

func TestReserveAdmitsUnderCapacity(t *testing.T) {
	s := newTestScheduler(Options{GlobalLimit: 2})

	a := reserveNow(t, s, "alpha", ToolLimits{})
	b := reserveNow(t, s, "beta", ToolLimits{})
	assert.Equal(t, 2, s.Stats().InUse)

	a.Release()
	b.Release()
	assert.Equal(t, 0, s.Stats().InUse)
}

func TestReserveRejectsWhenSaturatedAndQueueDisabled(t *testing.T) {
	s := newTestScheduler(Options{GlobalLimit: 1})

	slot := reserveNow(t, s, "alpha", ToolLimits{})
	defer slot.Release()

	_, waiter, err := s.Reserve("alpha", ToolLimits{})
	require.Nil(t, waiter)
	var capErr *CapacityError
	require.ErrorAs(t, err, &capErr)
	assert.Equal(t, ReasonSaturated, capErr.Reason)
	assert.Equal(t, "alpha", capErr.Tool)
}

func TestPerToolCeilingQueuesDespiteGlobalRoom(t *testing.T) {
	s := newTestScheduler(Options{GlobalLimit: 10, QueueDepth: 5})
	limits := ToolLimits{MaxConcurrent: 1}

	slot := reserveNow(t, s, "alpha", limits)

	// Same tool is at its ceiling, so the reservation queues.
	queuedSlot, waiter, err := s.Reserve("alpha", limits)
	require.NoError(t, err)
	require.Nil(t, queuedSlot)
	require.NotNil(t, waiter)

	// Another tool still gets in immediately.
	other := reserveNow(t, s, "beta", ToolLimits{})
	other.Release()

	slot.Release()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	granted, err := waiter.Wait(ctx)
	require.NoError(t, err)
	granted.Release()
}

func TestQueueDepthBoundsWaiters(t *testing.T) {
	s := newTestScheduler(Options{GlobalLimit: 1, QueueDepth: 1})

	slot := reserveNow(t, s, "alpha", ToolLimits{})
	defer slot.Release()

	_, waiter, err := s.Reserve("alpha", ToolLimits{})
	require.NoError(t, err)
	require.NotNil(t, waiter)

	_, _, err = s.Reserve("alpha", ToolLimits{})
	var capErr *CapacityError
	require.ErrorAs(t, err, &capErr)
	assert.Equal(t, ReasonSaturated, capErr.Reason)
}

func TestDispatchIsFIFO(t *testing.T) {
	s := newTestScheduler(Options{GlobalLimit: 1, QueueDepth: 2})

	slot := reserveNow(t, s, "alpha", ToolLimits{})

	_, first, err := s.Reserve("alpha", ToolLimits{})
	require.NoError(t, err)
	_, second, err := s.Reserve("alpha", ToolLimits{})
	require.NoError(t, err)

	slot.Release()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	granted, err := first.Wait(ctx)
	require.NoError(t, err)

	// The second waiter stays queued until the first slot comes back.
	shortCtx, shortCancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer shortCancel()
	_, err = second.Wait(shortCtx)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	granted.Release()
	assert.Equal(t, 0, s.Stats().InUse)
}

func TestDispatchSkipsToolBlockedWaiters(t *testing.T) {
	s := newTestScheduler(Options{GlobalLimit: 2, QueueDepth: 4})
	alphaLimits := ToolLimits{MaxConcurrent: 1}

	alphaSlot := reserveNow(t, s, "alpha", alphaLimits)
	betaSlot := reserveNow(t, s, "beta", ToolLimits{})

	// alpha is at its per-tool ceiling, gamma only needs global room.
	_, alphaWaiter, err := s.Reserve("alpha", alphaLimits)
	require.NoError(t, err)
	_, gammaWaiter, err := s.Reserve("gamma", ToolLimits{})
	require.NoError(t, err)

	// Freeing beta cannot help alpha, so gamma jumps the queue.
	betaSlot.Release()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	gammaSlot, err := gammaWaiter.Wait(ctx)
	require.NoError(t, err)

	shortCtx, shortCancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer shortCancel()
	_, err = alphaWaiter.Wait(shortCtx)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	// The abandoned reservation must not receive the freed slot.
	alphaSlot.Release()
	gammaSlot.Release()
	assert.Equal(t, 0, s.Stats().InUse)
	assert.Equal(t, 0, s.Stats().Queued)
}

func TestRateLimitRejects(t *testing.T) {
	s := newTestScheduler(Options{GlobalLimit: 10})
	limits := ToolLimits{RatePerMinute: 2}

	a := reserveNow(t, s, "alpha", limits)
	b := reserveNow(t, s, "alpha", limits)
	a.Release()
	b.Release()

	_, _, err := s.Reserve("alpha", limits)
	var capErr *CapacityError
	require.ErrorAs(t, err, &capErr)
	assert.Equal(t, ReasonRateLimited, capErr.Reason)
}

func TestReleaseIsIdempotent(t *testing.T) {
	s := newTestScheduler(Options{GlobalLimit: 1})

	slot := reserveNow(t, s, "alpha", ToolLimits{})
	slot.Release()
	slot.Release()
	assert.Equal(t, 0, s.Stats().InUse)

	// A double release must not mint extra capacity.
	held := reserveNow(t, s, "alpha", ToolLimits{})
	_, waiter, err := s.Reserve("alpha", ToolLimits{})
	require.Nil(t, waiter)
	require.Error(t, err)
	held.Release()
}

func TestAbandonedWaiterReleasesRacedSlot(t *testing.T) {
	s := newTestScheduler(Options{GlobalLimit: 1, QueueDepth: 1})

	slot := reserveNow(t, s, "alpha", ToolLimits{})
	_, waiter, err := s.Reserve("alpha", ToolLimits{})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	slot.Release()

	// Whether the grant or the cancellation wins, no capacity may leak.
	if granted, waitErr := waiter.Wait(ctx); waitErr == nil {
		granted.Release()
	}
	assert.Equal(t, 0, s.Stats().InUse)
	assert.Equal(t, 0, s.Stats().Queued)
}

func TestConcurrentLoadHonorsGlobalCeiling(t *testing.T) {
	const workers = 50
	s := newTestScheduler(Options{GlobalLimit: 4, QueueDepth: workers})

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			slot, waiter, err := s.Reserve("stress", ToolLimits{})
			if err != nil {
				return
			}
			if waiter != nil {
				ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				slot, err = waiter.Wait(ctx)
				if err != nil {
					return
				}
			}
			time.Sleep(time.Millisecond)
			slot.Release()
		}()
	}
	wg.Wait()

	stats := s.Stats()
	assert.Equal(t, 0, stats.InUse)
	assert.Equal(t, 0, stats.Queued)
	assert.LessOrEqual(t, stats.HighWater, 4)
	assert.Greater(t, stats.HighWater, 0)
}
