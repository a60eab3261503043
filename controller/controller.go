// Package controller computes the allocation threshold for the next cycle
// from the live heap reported by the last one.
package controller

// Controller adapts the allocation threshold after every cycle.
//
// Next receives the bytes that survived the cycle that just finished and
// the current threshold, and returns the threshold for the next cycle.
type Controller interface {
	Next(aliveBytes, threshold uint64) uint64
}

func clamp(v float64, min, max uint64) uint64 {
	if v < float64(min) {
		return min
	}
	if max != 0 && v > float64(max) {
		return max
	}
	// Conversions of floats beyond the uint64 range are implementation
	// defined.
	if v >= 1<<64 {
		return ^uint64(0)
	}
	return uint64(v)
}
