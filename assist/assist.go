// Package assist implements cooperative backpressure for mutators.
//
// When the collector falls behind, the pacer requests assists for the
// pending epoch. Every mutator then pauses at its next safepoint until
// that epoch completes or the pause bound expires, whichever comes first.
package assist

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/mknyszek/gcsched/epoch"
)

// Assists is the global assist state shared by all mutators of one
// scheduler.
type Assists struct {
	maxPause time.Duration

	requested atomic.Int64
	completed atomic.Int64

	// done is closed and replaced on every completion.
	mu   sync.Mutex
	done chan struct{}

	waits    atomic.Uint64
	waitTime atomic.Int64

	parked func()
}

func New(maxPause time.Duration) *Assists {
	return &Assists{
		maxPause: maxPause,
		done:     make(chan struct{}),
	}
}

// NotifyParked registers fn to be called whenever a mutator blocks in an
// assist. By then the mutator reports InNative, so a collector stopping the
// world can stop waiting for it. It must be set before mutators attach.
func (a *Assists) NotifyParked(fn func()) {
	a.parked = fn
}

// Request asks mutators to assist until e completes.
func (a *Assists) Request(e epoch.Epoch) {
	for {
		cur := a.requested.Load()
		if int64(e) <= cur {
			return
		}
		if a.requested.CompareAndSwap(cur, int64(e)) {
			return
		}
	}
}

// Complete releases every mutator waiting on e or an earlier epoch.
func (a *Assists) Complete(e epoch.Epoch) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if int64(e) > a.completed.Load() {
		a.completed.Store(int64(e))
	}
	close(a.done)
	a.done = make(chan struct{})
}

// Pressure reports whether mutators are currently asked to assist.
func (a *Assists) Pressure() bool {
	return a.requested.Load() > a.completed.Load()
}

// Stats is a snapshot of assist activity.
type Stats struct {
	Requested epoch.Epoch
	Completed epoch.Epoch
	Waits     uint64
	WaitTime  time.Duration
}

func (a *Assists) Stats() Stats {
	return Stats{
		Requested: epoch.Epoch(a.requested.Load()),
		Completed: epoch.Epoch(a.completed.Load()),
		Waits:     a.waits.Load(),
		WaitTime:  time.Duration(a.waitTime.Load()),
	}
}

// wait blocks until e completes or maxPause elapses.
func (a *Assists) wait(e int64) {
	a.mu.Lock()
	if a.completed.Load() >= e {
		a.mu.Unlock()
		return
	}
	ch := a.done
	a.mu.Unlock()

	start := time.Now()
	defer func() {
		a.waits.Add(1)
		a.waitTime.Add(int64(time.Since(start)))
	}()

	timer := time.NewTimer(a.maxPause)
	defer timer.Stop()
	for {
		select {
		case <-ch:
			a.mu.Lock()
			if a.completed.Load() >= e {
				a.mu.Unlock()
				return
			}
			ch = a.done
			a.mu.Unlock()
		case <-timer.C:
			return
		}
	}
}

// ThreadData is the assist state of one mutator.
type ThreadData struct {
	owner *Assists

	// native is the depth of nested Guards. The collector reads it.
	native atomic.Int32
}

func (a *Assists) NewThreadData() *ThreadData {
	return &ThreadData{owner: a}
}

// SafePoint pauses the mutator while assists are requested. Threads
// inside a Guard never pause.
//
// A pausing thread is native until it resumes, so the collector runs the
// cycle it waits for. The caller must honor a pending stop of the world
// before touching the heap again.
func (t *ThreadData) SafePoint() {
	e := t.owner.requested.Load()
	if e <= t.owner.completed.Load() {
		return
	}
	if t.native.Load() > 0 {
		return
	}
	t.native.Add(1)
	defer t.native.Add(-1)
	if t.owner.parked != nil {
		t.owner.parked()
	}
	t.owner.wait(e)
}

// InNative reports whether the thread is inside a Guard. Such a thread
// won't reach a safepoint, so the collector must not wait for it.
func (t *ThreadData) InNative() bool {
	return t.native.Load() > 0
}

// Guard is a scope in which the thread promises not to touch the heap
// and may block on the collector. Guards nest: entering an entered
// thread extends the existing scope.
type Guard struct {
	t *ThreadData
}

// Native enters a Guard. A nil ThreadData (a thread unknown to the
// scheduler) gets a no-op Guard.
func (t *ThreadData) Native() Guard {
	if t != nil {
		t.native.Add(1)
	}
	return Guard{t: t}
}

// Release leaves the Guard.
func (g Guard) Release() {
	if g.t == nil {
		return
	}
	if g.t.native.Add(-1) < 0 {
		panic("assist: Guard released more times than entered")
	}
}
