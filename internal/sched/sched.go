// Package sched bounds how many tool processes run at once. Admission is
// checked against a global ceiling, a per-tool ceiling and a per-tool rate
// limit; invocations that cannot run immediately either join a bounded FIFO
// queue or are rejected outright. Every admitted invocation holds exactly
// one slot until it is released.
package sched

import (
	"container/list"
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Rejection reasons reported in CapacityError.
const (
	ReasonSaturated   = "saturated"
	ReasonRateLimited = "rate_limited"
)

// CapacityError reports an invocation the scheduler refused to admit.
type CapacityError struct {
	Tool   string
	Reason string
}

// Error describes the rejection.
func (e *CapacityError) Error() string {
	return fmt.Sprintf("tool %s rejected: %s", e.Tool, e.Reason)
}

// ToolLimits are the per-tool admission limits, zero meaning unlimited.
type ToolLimits struct {
	MaxConcurrent int
	RatePerMinute int
}

// Options configure a Scheduler.
type Options struct {
	// GlobalLimit caps concurrently running invocations across all tools.
	GlobalLimit int
	// QueueDepth caps invocations waiting for a slot. Zero disables
	// queueing so saturated reservations are rejected immediately.
	QueueDepth int
}

// Scheduler admits tool invocations against concurrency ceilings.
type Scheduler struct {
	logger *slog.Logger

	mu          sync.Mutex
	globalLimit int
	queueDepth  int
	globalInUse int
	perTool     map[string]int
	queue       *list.List
	queued      int
	limiters    map[string]*rate.Limiter
	highWater   int
}

// New returns a Scheduler enforcing the given limits.
func New(logger *slog.Logger, opts Options) *Scheduler {
	if opts.GlobalLimit < 1 {
		opts.GlobalLimit = 1
	}
	if opts.QueueDepth < 0 {
		opts.QueueDepth = 0
	}
	return &Scheduler{
		logger:      logger,
		globalLimit: opts.GlobalLimit,
		queueDepth:  opts.QueueDepth,
		perTool:     make(map[string]int),
		queue:       list.New(),
		limiters:    make(map[string]*rate.Limiter),
	}
}

// Slot is one unit of admitted concurrency. Release returns it to the
// scheduler and is safe to call more than once.
type Slot struct {
	s    *Scheduler
	tool string
	once sync.Once
}

// Release returns the slot. The first eligible queued waiter, if any, is
// admitted in its place.
func (sl *Slot) Release() {
	sl.once.Do(func() {
		sl.s.release(sl.tool)
	})
}

// Waiter is a queued reservation. Exactly one of Wait's return values is
// non-nil.
type Waiter struct {
	s         *Scheduler
	tool      string
	limits    ToolLimits
	ch        chan *Slot
	elem      *list.Element
	delivered bool
}

// Wait blocks until a slot is granted or ctx is done. When ctx wins the
// reservation is abandoned and any concurrently granted slot is returned to
// the scheduler.
func (w *Waiter) Wait(ctx context.Context) (*Slot, error) {
	select {
	case slot := <-w.ch:
		return slot, nil
	case <-ctx.Done():
	}

	w.s.mu.Lock()
	if !w.delivered {
		w.s.queue.Remove(w.elem)
		w.s.queued--
		w.s.mu.Unlock()
		return nil, ctx.Err()
	}
	w.s.mu.Unlock()

	// The grant raced the cancellation; hand the slot straight back.
	slot := <-w.ch
	slot.Release()
	return nil, ctx.Err()
}

// Reserve requests a slot for one invocation of tool. It returns an
// immediate Slot when capacity allows, a Waiter when the invocation was
// queued, or a CapacityError when the tool is rate limited or the queue is
// full.
func (s *Scheduler) Reserve(tool string, limits ToolLimits) (*Slot, *Waiter, error) {
	if limits.RatePerMinute > 0 && !s.limiterFor(tool, limits.RatePerMinute).Allow() {
		return nil, nil, &CapacityError{Tool: tool, Reason: ReasonRateLimited}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.canAdmitLocked(tool, limits.MaxConcurrent) {
		return s.admitLocked(tool), nil, nil
	}
	if s.queued >= s.queueDepth {
		s.logger.Debug("invocation rejected at capacity",
			"tool", tool, "in_use", s.globalInUse, "queued", s.queued)
		return nil, nil, &CapacityError{Tool: tool, Reason: ReasonSaturated}
	}

	w := &Waiter{s: s, tool: tool, limits: limits, ch: make(chan *Slot, 1)}
	w.elem = s.queue.PushBack(w)
	s.queued++
	return nil, w, nil
}

// Stats is a point-in-time view of scheduler occupancy.
type Stats struct {
	InUse     int
	Queued    int
	HighWater int
}

// Stats reports current occupancy. HighWater is the maximum number of
// simultaneously held slots observed since startup.
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{InUse: s.globalInUse, Queued: s.queued, HighWater: s.highWater}
}

func (s *Scheduler) limiterFor(tool string, perMinute int) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()
	lim, ok := s.limiters[tool]
	if !ok {
		lim = rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), perMinute)
		s.limiters[tool] = lim
	}
	return lim
}

func (s *Scheduler) canAdmitLocked(tool string, maxConcurrent int) bool {
	if s.globalInUse >= s.globalLimit {
		return false
	}
	if maxConcurrent > 0 && s.perTool[tool] >= maxConcurrent {
		return false
	}
	return true
}

func (s *Scheduler) admitLocked(tool string) *Slot {
	s.globalInUse++
	s.perTool[tool]++
	if s.globalInUse > s.highWater {
		s.highWater = s.globalInUse
	}
	return &Slot{s: s, tool: tool}
}

func (s *Scheduler) release(tool string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.globalInUse--
	s.perTool[tool]--
	if s.perTool[tool] <= 0 {
		delete(s.perTool, tool)
	}
	s.dispatchLocked()
}

// dispatchLocked grants freed capacity to queued waiters in FIFO order,
// skipping waiters whose per-tool ceiling is still exhausted.
func (s *Scheduler) dispatchLocked() {
	for e := s.queue.Front(); e != nil; {
		next := e.Next()
		w := e.Value.(*Waiter)
		if s.canAdmitLocked(w.tool, w.limits.MaxConcurrent) {
			s.queue.Remove(e)
			s.queued--
			w.delivered = true
			w.ch <- s.admitLocked(w.tool)
		}
		e = next
	}
}
