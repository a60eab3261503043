package controller

// HeapGrowth sets the next threshold proportionally to the live heap:
//
//	threshold = clamp(aliveBytes * Factor, Min, Max)
//
// A small live heap collects often and cheaply, a large one less often.
type HeapGrowth struct {
	HeapGrowthConfig
}

type HeapGrowthConfig struct {
	// Factor is the target ratio of the next threshold to the live heap.
	// Zero disables adaptation.
	Factor float64 `json:"factor"`
	Min    uint64  `json:"min"`
	// Max of zero means unbounded.
	Max uint64 `json:"max"`
}

func NewHeapGrowth(cfg *HeapGrowthConfig) *HeapGrowth {
	return &HeapGrowth{HeapGrowthConfig: *cfg}
}

func (c *HeapGrowth) Next(aliveBytes, threshold uint64) uint64 {
	// Without a report there's nothing to adapt to, so keep going as
	// before rather than collapsing the threshold.
	if aliveBytes == 0 || c.Factor <= 0 {
		return threshold
	}
	return clamp(float64(aliveBytes)*c.Factor, c.Min, c.Max)
}
