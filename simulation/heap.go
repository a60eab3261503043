package simulation

import "sync"

// heap models how much of the allocated memory stays reachable.
type heap struct {
	mu        sync.Mutex
	allocated uint64
	old       uint64
	young     float64
	retain    float64
}

func newHeap(initial uint64) *heap {
	return &heap{old: initial, retain: 1}
}

// allocate records an allocation and returns the total allocated so far.
func (h *heap) allocate(n uint64, survival float64) uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.allocated += n
	h.young += float64(n) * survival
	return h.allocated
}

func (h *heap) setRetain(r float64) {
	h.mu.Lock()
	h.retain = r
	h.mu.Unlock()
}

// collect returns the bytes surviving a collection.
func (h *heap) collect() (alive, allocated uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	alive = uint64(float64(h.old)*h.retain + h.young)
	h.old = alive
	h.young = 0
	return alive, h.allocated
}
