package gcsched

import (
	"github.com/mknyszek/gcsched/assist"
)

// ThreadData is the scheduler state of one mutator. It's created when the
// mutator attaches and closed when it detaches.
//
// A ThreadData must only be used by the mutator that owns it, except for
// InNative, which the collector may call at any time.
type ThreadData struct {
	s       *Scheduler
	assists *assist.ThreadData

	runningBytes uint64
	closed       bool
}

// NewThreadData attaches a mutator.
func (s *Scheduler) NewThreadData() *ThreadData {
	s.threads.Add(1)
	return &ThreadData{
		s:       s,
		assists: s.assists.NewThreadData(),
	}
}

// Close detaches the mutator, reporting allocations it still batches.
func (t *ThreadData) Close() {
	if t.closed {
		return
	}
	t.flush()
	t.closed = true
	t.s.threads.Add(-1)
}

// SafePoint is called where the mutator may be paused. It blocks for a
// bounded time while the collector is behind, counting as native while it
// does so that a collector stopping the world doesn't wait for it.
func (t *ThreadData) SafePoint() {
	t.assists.SafePoint()
}

// OnAllocation accounts an allocation of the given size. With
// Config.BigChunks the allocator reports through SetAllocatedBytes
// instead and this does nothing.
func (t *ThreadData) OnAllocation(bytes uint64) {
	if t.s.cfg.BigChunks {
		return
	}
	if t.closed {
		// Nothing would flush a batch anymore.
		t.s.pacer.OnAllocation(bytes)
		return
	}
	t.runningBytes += bytes
	if t.runningBytes >= uint64(t.s.cfg.FlushThreshold) {
		t.flush()
	}
}

// OnStoppedForGC is called right before the mutator pauses for the
// collector, so that its batched allocations aren't missed.
func (t *ThreadData) OnStoppedForGC() {
	t.flush()
}

func (t *ThreadData) flush() {
	if t.runningBytes == 0 {
		return
	}
	bytes := t.runningBytes
	t.runningBytes = 0
	t.s.pacer.OnAllocation(bytes)
}

// RunningBytes returns the allocations batched but not yet reported.
func (t *ThreadData) RunningBytes() uint64 {
	return t.runningBytes
}

// Native enters a region where the mutator doesn't touch the heap and
// may block on the collector. Regions nest. The collector must not wait
// for a mutator in such a region to reach a safepoint.
func (t *ThreadData) Native() assist.Guard {
	return t.assists.Native()
}

func (t *ThreadData) InNative() bool {
	return t.assists.InNative()
}

// ScheduleAndWaitFinished requests a cycle and waits for its sweep. The
// wait happens in a native region, so it's safe even when the caller
// already is in one.
func (t *ThreadData) ScheduleAndWaitFinished() {
	e := t.s.Schedule()
	g := t.Native()
	defer g.Release()
	t.s.collector.WaitFinished(e)
}

// ScheduleAndWaitFinalized requests a cycle and waits for its finalizers.
func (t *ThreadData) ScheduleAndWaitFinalized() {
	e := t.s.Schedule()
	g := t.Native()
	defer g.Release()
	t.s.collector.WaitFinalizers(e)
}
