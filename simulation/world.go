package simulation

import (
	"sync"

	"github.com/mknyszek/gcsched"
)

// world stops and resumes the simulated mutators. A stop completes once
// every attached mutator is either parked at a safepoint or native.
type world struct {
	mu       sync.Mutex
	cond     *sync.Cond
	stopping bool
	parked   map[*gcsched.ThreadData]bool
}

func newWorld() *world {
	w := &world{parked: make(map[*gcsched.ThreadData]bool)}
	w.cond = sync.NewCond(&w.mu)
	return w
}

func (w *world) attach(td *gcsched.ThreadData) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for w.stopping {
		w.cond.Wait()
	}
	w.parked[td] = false
}

func (w *world) detach(td *gcsched.ThreadData) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.parked, td)
	w.cond.Broadcast()
}

func (w *world) safePoint(td *gcsched.ThreadData) {
	td.SafePoint()

	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.stopping {
		return
	}
	td.OnStoppedForGC()
	w.parked[td] = true
	w.cond.Broadcast()
	for w.stopping {
		w.cond.Wait()
	}
	w.parked[td] = false
}

// wake makes a stop in progress look at the mutators again.
func (w *world) wake() {
	w.mu.Lock()
	w.cond.Broadcast()
	w.mu.Unlock()
}

// native runs fn with td in a native region.
func (w *world) native(td *gcsched.ThreadData, fn func()) {
	g := td.Native()
	w.wake()

	fn()

	// Leaving must not race with a stop in progress.
	w.mu.Lock()
	defer w.mu.Unlock()
	for w.stopping {
		w.cond.Wait()
	}
	g.Release()
}

func (w *world) stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.stopping = true
	for !w.stoppedLocked() {
		w.cond.Wait()
	}
}

func (w *world) stoppedLocked() bool {
	for td, parked := range w.parked {
		if !parked && !td.InNative() {
			return false
		}
	}
	return true
}

func (w *world) resume() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.stopping = false
	w.cond.Broadcast()
}
