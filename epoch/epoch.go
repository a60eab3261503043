// Package epoch tracks the lifecycle of garbage collection cycles.
//
// Every cycle is identified by an Epoch. The collector owns a Tracker and
// moves each epoch through scheduled, started, finished (sweep done) and
// finalized. Other threads block on those transitions.
package epoch

import (
	"errors"
	"sync"
)

// Epoch identifies one collection cycle. Epochs are strictly increasing
// and never reused. The zero Epoch means "no cycle".
type Epoch int64

var (
	ErrAlreadyFinished = errors.New("epoch already finished")
	ErrNotFinished     = errors.New("epoch not finished")
)

// Tracker holds the state of the collector's cycles.
//
// The zero value is not usable; use NewTracker.
type Tracker struct {
	mu   sync.Mutex
	cond *sync.Cond

	// State
	scheduled Epoch
	started   Epoch
	finished  Epoch
	finalized Epoch
	shutdown  bool
}

func NewTracker() *Tracker {
	t := new(Tracker)
	t.cond = sync.NewCond(&t.mu)
	return t
}

// ScheduleCycle requests a new cycle and returns the epoch that will
// eventually complete. If a cycle is scheduled but hasn't started yet,
// the request joins it. Never blocks.
func (t *Tracker) ScheduleCycle() Epoch {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.scheduled <= t.started {
		t.scheduled = t.started + 1
		t.cond.Broadcast()
	}
	return t.scheduled
}

// NextScheduled blocks until there's a scheduled epoch that hasn't been
// started. It returns false once the tracker is shut down and nothing is
// pending.
func (t *Tracker) NextScheduled() (Epoch, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for t.scheduled <= t.started {
		if t.shutdown {
			return 0, false
		}
		t.cond.Wait()
	}
	return t.scheduled, true
}

// Start marks e as running.
func (t *Tracker) Start(e Epoch) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if e > t.started {
		t.started = e
	}
	if e > t.scheduled {
		t.scheduled = e
	}
}

// Finish marks the sweep of e as done and wakes WaitFinished callers.
func (t *Tracker) Finish(e Epoch) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if e <= t.finished {
		return ErrAlreadyFinished
	}
	t.finished = e
	if e > t.started {
		t.started = e
	}
	t.cond.Broadcast()
	return nil
}

// Finalized marks the finalizers of e as done. It must follow Finish(e).
func (t *Tracker) Finalized(e Epoch) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if e > t.finished {
		return ErrNotFinished
	}
	if e > t.finalized {
		t.finalized = e
		t.cond.Broadcast()
	}
	return nil
}

// WaitFinished blocks until the sweep of e is done.
func (t *Tracker) WaitFinished(e Epoch) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for t.finished < e && !t.shutdown {
		t.cond.Wait()
	}
}

// WaitFinalizers blocks until the finalizers of e have run. Since
// Finalized requires Finish, this never returns before WaitFinished(e)
// would.
func (t *Tracker) WaitFinalizers(e Epoch) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for t.finalized < e && !t.shutdown {
		t.cond.Wait()
	}
}

// Shutdown releases all waiters. Pending scheduled epochs are still
// handed out by NextScheduled.
func (t *Tracker) Shutdown() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.shutdown = true
	t.cond.Broadcast()
}

// State is a snapshot of a Tracker.
type State struct {
	Scheduled Epoch `json:"scheduled"`
	Started   Epoch `json:"started"`
	Finished  Epoch `json:"finished"`
	Finalized Epoch `json:"finalized"`
}

func (t *Tracker) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return State{
		Scheduled: t.scheduled,
		Started:   t.started,
		Finished:  t.finished,
		Finalized: t.finalized,
	}
}
