// Package scenario describes synthetic mutator workloads.
//
// An Execution is a sequence of steps. In every step each mutator thread
// allocates AllocBytes in objects of ObjectSize bytes, of which
// SurvivalFrac stays reachable. At every collection, RetainFrac of what was
// live at the previous collection is still reachable.
package scenario

type Execution struct {
	Steps   []Step  `json:"steps"`
	Globals Globals `json:"global"`
}

type Step struct {
	AllocBytes   uint64  `json:"alloc_bytes"`
	ObjectSize   uint64  `json:"object_size"`
	SurvivalFrac float64 `json:"survival_frac"`
	RetainFrac   float64 `json:"retain_frac"`
	// ManualGC makes the first thread request a cycle and wait for it at
	// the start of the step.
	ManualGC bool `json:"manual_gc,omitempty"`
}

type Globals struct {
	Threads     int    `json:"threads"`
	InitialHeap uint64 `json:"init_live_heap"`
}
