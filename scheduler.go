// Package gcsched decides when a tracing garbage collector should run.
//
// A Scheduler accounts for allocation pressure reported by mutators,
// requests collection cycles from a Collector once enough has been
// allocated, slows mutators down when the collector can't keep up, and
// retunes its trigger from the live heap each cycle reports.
//
// Each mutator attaches with NewThreadData and reports its allocations
// through the returned ThreadData. The collector calls back OnGCStart and
// OnGCFinish.
package gcsched

import (
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/mknyszek/gcsched/assist"
	"github.com/mknyszek/gcsched/controller"
	"github.com/mknyszek/gcsched/epoch"
	"github.com/mknyszek/gcsched/pacer"
)

// Collector is the scheduler's view of the garbage collector.
// *epoch.Tracker implements it.
type Collector interface {
	// ScheduleCycle requests a cycle, or joins a pending one, and returns
	// its epoch. It must not block.
	ScheduleCycle() epoch.Epoch
	// WaitFinished blocks until the sweep of the given cycle is done.
	WaitFinished(epoch.Epoch)
	// WaitFinalizers blocks until the finalizers of the given cycle ran.
	WaitFinalizers(epoch.Epoch)
}

// ParkObserver is implemented by collectors that stop the world.
// MutatorParked is called when a mutator blocks in an assist and no longer
// needs to be waited for.
type ParkObserver interface {
	MutatorParked()
}

type Scheduler struct {
	cfg       Config
	collector Collector
	pacer     *pacer.Pacer
	assists   *assist.Assists
	logger    *slog.Logger

	threads atomic.Int64
}

func New(cfg Config, c Collector) (*Scheduler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("gcsched: %w", err)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("tag", "gc")

	growth := &controller.HeapGrowthConfig{
		Factor: cfg.TargetHeapGrowth,
		Min:    uint64(cfg.MinAllocationThreshold),
		Max:    uint64(cfg.MaxAllocationThreshold),
	}
	var ctrl controller.Controller
	switch cfg.Adaptation {
	case AdaptSmoothed:
		ctrl = controller.NewSmoothed(growth, nil)
	default:
		ctrl = controller.NewHeapGrowth(growth)
	}

	s := &Scheduler{
		cfg:       cfg,
		collector: c,
		assists:   assist.New(cfg.MaxAssistPause),
		logger:    logger,
	}
	if o, ok := c.(ParkObserver); ok {
		s.assists.NotifyParked(o.MutatorParked)
	}
	s.pacer = pacer.New(pacer.Config{
		Threshold:       uint64(cfg.AllocationThreshold),
		RegularInterval: cfg.RegularInterval,
		Debug:           cfg.Debug,
	}, c, ctrl, s.assists, logger)
	return s, nil
}

// Close stops the scheduler's background work. It doesn't release
// threads waiting on the collector.
func (s *Scheduler) Close() {
	s.pacer.Stop()
}

func (s *Scheduler) Config() Config {
	return s.cfg
}

// Schedule requests a cycle regardless of allocation pressure and
// returns its epoch.
func (s *Scheduler) Schedule() epoch.Epoch {
	s.logger.Info("scheduling GC manually")
	return s.pacer.Schedule()
}

// ScheduleAndWaitFinished requests a cycle and waits for its sweep. It's
// meant for threads that aren't attached mutators; mutators use
// ThreadData.ScheduleAndWaitFinished.
func (s *Scheduler) ScheduleAndWaitFinished() {
	s.collector.WaitFinished(s.Schedule())
}

// ScheduleAndWaitFinalized requests a cycle and waits for its finalizers.
func (s *Scheduler) ScheduleAndWaitFinalized() {
	s.collector.WaitFinalizers(s.Schedule())
}

// SetAllocatedBytes reports the allocator's absolute allocation total.
// It only has an effect with Config.BigChunks.
func (s *Scheduler) SetAllocatedBytes(bytes uint64) {
	if s.cfg.BigChunks {
		s.pacer.SetAllocatedBytes(bytes)
	}
}

// ResetAllocatedBytes rebases the absolute allocation total after the
// allocator returned memory, without accounting anything. It's meant for
// the collector, while no allocator reports through SetAllocatedBytes.
func (s *Scheduler) ResetAllocatedBytes(bytes uint64) {
	if s.cfg.BigChunks {
		s.pacer.ResetAllocatedBytes(bytes)
	}
}

// OnGCStart is called by the collector when a cycle begins running.
func (s *Scheduler) OnGCStart() {
	s.pacer.OnGCStart()
}

// OnGCFinish is called by the collector when cycle e is finished, with
// the number of bytes that survived it. It must be called once per epoch.
func (s *Scheduler) OnGCFinish(e epoch.Epoch, aliveBytes uint64) {
	s.pacer.OnGCFinish(e, aliveBytes)
}

type Stats struct {
	pacer.Stats
	Assists assist.Stats
	Threads int64
}

func (s *Scheduler) Stats() Stats {
	return Stats{
		Stats:   s.pacer.Stats(),
		Assists: s.assists.Stats(),
		Threads: s.threads.Load(),
	}
}
