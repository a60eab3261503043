package controller

import "math"

// Smoothed moves the threshold towards the HeapGrowth target through a PI
// controller instead of jumping to it. Noisy live heap reports then shift
// the threshold gradually.
//
// The controller works in log2 space: the input is the current threshold,
// the setpoint is the target, and the output is the number of doublings
// applied to the threshold.
type Smoothed struct {
	target *HeapGrowth
	ctrl   *PI
}

// DefaultSmoothing closes half the distance to the target every cycle and
// lets the threshold at most double, or halve, per cycle. The threshold
// integrates the output by itself, so no integral term is needed.
var DefaultSmoothing = PIConfig{
	Kp:     0.5,
	Period: 1,
	Min:    -1,
	Max:    1,
}

func NewSmoothed(cfg *HeapGrowthConfig, smoothing *PIConfig) *Smoothed {
	if smoothing == nil {
		smoothing = &DefaultSmoothing
	}
	return &Smoothed{
		target: NewHeapGrowth(cfg),
		ctrl:   NewPI(smoothing),
	}
}

func (c *Smoothed) Next(aliveBytes, threshold uint64) uint64 {
	target := c.target.Next(aliveBytes, threshold)
	if target == threshold || threshold == 0 || target == 0 {
		return target
	}
	doublings := c.ctrl.Step(math.Log2(float64(threshold)), math.Log2(float64(target)))
	return clamp(float64(threshold)*math.Exp2(doublings), c.target.Min, c.target.Max)
}
