// Package simulation runs scenario workloads against a real Scheduler
// backed by a simulated collector.
package simulation

import (
	"fmt"
	"sort"

	"github.com/mknyszek/gcsched"
	"github.com/mknyszek/gcsched/scenario"
)

type Simulator interface {
	Run(*scenario.Execution) ([]Result, error)
}

// Each setup tweaks the base configuration into one way of pacing.
type setup func(gcsched.Config) gcsched.Config

var sims = map[string]setup{
	"batched": func(cfg gcsched.Config) gcsched.Config {
		cfg.Adaptation = gcsched.AdaptGrowth
		cfg.BigChunks = false
		return cfg
	},
	"smoothed": func(cfg gcsched.Config) gcsched.Config {
		cfg.Adaptation = gcsched.AdaptSmoothed
		cfg.BigChunks = false
		return cfg
	},
	"big-chunk": func(cfg gcsched.Config) gcsched.Config {
		cfg.Adaptation = gcsched.AdaptGrowth
		cfg.BigChunks = true
		return cfg
	},
	"fixed": func(cfg gcsched.Config) gcsched.Config {
		cfg.TargetHeapGrowth = 0
		cfg.BigChunks = false
		return cfg
	},
}

func Simulators() []string {
	var s []string
	for name := range sims {
		s = append(s, name)
	}
	sort.Strings(s)
	return s
}

func NewSimulator(name string, base gcsched.Config) (Simulator, error) {
	f, ok := sims[name]
	if !ok {
		return nil, fmt.Errorf("unknown pacer type %q", name)
	}
	cfg := f(base)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &sim{cfg: cfg}, nil
}

// Result describes one completed collection cycle.
type Result struct {
	Epoch int64 `json:"epoch"`
	// AllocatedBytes is everything mutators allocated up to the cycle.
	AllocatedBytes uint64 `json:"allocated"`
	AliveBytes     uint64 `json:"alive"`
	// Threshold is the allocation threshold after adapting to the cycle.
	Threshold      uint64 `json:"threshold"`
	Triggers       uint64 `json:"triggers"`
	ManualRequests uint64 `json:"manual"`
	AssistWaits    uint64 `json:"assist_waits"`
	AssistNanos    int64  `json:"assist_ns"`
}
