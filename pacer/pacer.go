// Package pacer decides when allocation volume warrants a new collection
// cycle, and retunes that decision from the live heap every cycle reports.
package pacer

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/inhies/go-bytesize"

	"github.com/mknyszek/gcsched/assist"
	"github.com/mknyszek/gcsched/controller"
	"github.com/mknyszek/gcsched/epoch"
)

// Requester asks the collector for a cycle. Requests for a cycle that is
// already pending are expected to be joined.
type Requester interface {
	ScheduleCycle() epoch.Epoch
}

type Config struct {
	// Threshold is the initial allocation volume that triggers a cycle.
	Threshold uint64
	// RegularInterval requests a cycle when none started for this long.
	// Zero disables it.
	RegularInterval time.Duration
	// Debug turns protocol violations into panics.
	Debug bool
}

// Pacer is safe for concurrent use.
type Pacer struct {
	cfg       Config
	requester Requester
	ctrl      controller.Controller
	assists   *assist.Assists
	logger    *slog.Logger

	// Hot path.
	allocated atomic.Uint64
	threshold atomic.Uint64
	reported  atomic.Uint64
	requested atomic.Int64
	finished  atomic.Int64

	// Counters.
	triggers       atomic.Uint64
	manual         atomic.Uint64
	timed          atomic.Uint64
	assistRequests atomic.Uint64
	starts         atomic.Uint64

	// Adaptation, only touched by OnGCFinish.
	mu           sync.Mutex
	lastFinished epoch.Epoch
	lastAlive    uint64

	timer *intervalTimer
}

// New returns a pacer and starts its regular interval timer, if
// configured. Stop shuts the timer down.
func New(cfg Config, r Requester, ctrl controller.Controller, a *assist.Assists, logger *slog.Logger) *Pacer {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Pacer{
		cfg:       cfg,
		requester: r,
		ctrl:      ctrl,
		assists:   a,
		logger:    logger,
	}
	p.threshold.Store(cfg.Threshold)
	p.start()
	return p
}

// OnAllocation accounts bytes flushed by a mutator and requests a cycle
// once the accumulated volume reaches the threshold.
func (p *Pacer) OnAllocation(bytes uint64) {
	if bytes == 0 {
		return
	}
	if p.allocated.Add(bytes) < p.threshold.Load() {
		return
	}
	p.consume()
}

// consume takes whole multiples of the threshold out of the accumulator
// and triggers once for them. Exactly one of the racing callers wins a
// given crossing; the others see the remainder below the threshold.
func (p *Pacer) consume() {
	for {
		cur := p.allocated.Load()
		threshold := p.threshold.Load()
		if cur < threshold || threshold == 0 {
			return
		}
		if p.allocated.CompareAndSwap(cur, cur%threshold) {
			p.trigger(cur)
			return
		}
	}
}

func (p *Pacer) trigger(allocated uint64) {
	p.triggers.Add(1)
	pending := p.requested.Load()
	e := p.requester.ScheduleCycle()
	p.noteRequested(e)

	if pending > p.finished.Load() {
		// A whole threshold went by and the previous request still
		// hasn't finished: the collector is falling behind.
		p.assistRequests.Add(1)
		p.assists.Request(epoch.Epoch(pending))
		p.logger.Debug("requesting mutator assists",
			"epoch", pending,
			"allocated", bytesize.ByteSize(allocated).String())
	}
	p.logger.Debug("allocation threshold reached",
		"epoch", e,
		"allocated", bytesize.ByteSize(allocated).String(),
		"threshold", bytesize.ByteSize(p.threshold.Load()).String())
}

func (p *Pacer) noteRequested(e epoch.Epoch) {
	for {
		cur := p.requested.Load()
		if int64(e) <= cur || p.requested.CompareAndSwap(cur, int64(e)) {
			return
		}
	}
}

// SetAllocatedBytes takes the allocator's absolute allocation total. The
// growth since the highest total seen so far goes through the same
// accounting as OnAllocation, so a single large report crosses the
// threshold at once. Racing allocators may report out of order; a total
// below the highest one was already accounted and is ignored.
func (p *Pacer) SetAllocatedBytes(total uint64) {
	for {
		prev := p.reported.Load()
		if total <= prev {
			return
		}
		if p.reported.CompareAndSwap(prev, total) {
			p.OnAllocation(total - prev)
			return
		}
	}
}

// ResetAllocatedBytes rebases the absolute total without accounting
// anything, for allocators whose total goes down. It must not race with
// SetAllocatedBytes, so the collector calls it while the world is stopped.
func (p *Pacer) ResetAllocatedBytes(total uint64) {
	p.reported.Store(total)
}

// Schedule requests a cycle regardless of the threshold.
func (p *Pacer) Schedule() epoch.Epoch {
	p.manual.Add(1)
	e := p.requester.ScheduleCycle()
	p.noteRequested(e)
	return e
}

// OnGCStart is called by the collector when a cycle begins running.
func (p *Pacer) OnGCStart() {
	p.starts.Add(1)
	if p.timer != nil {
		p.timer.reset()
	}
}

// OnGCFinish is called by the collector when cycle e has finished, with
// the bytes that survived it. The threshold of the next cycle is derived
// from aliveBytes.
func (p *Pacer) OnGCFinish(e epoch.Epoch, aliveBytes uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if e <= p.lastFinished {
		msg := "duplicate GC finish"
		if e < p.lastFinished {
			msg = "out of order GC finish"
		}
		if p.cfg.Debug {
			panic(fmt.Sprintf("pacer: %s for epoch %d, last finished %d", msg, e, p.lastFinished))
		}
		p.logger.Warn(msg, "epoch", e, "last_finished", p.lastFinished)
		if e < p.lastFinished {
			return
		}
	}

	p.lastFinished = e
	if int64(e) > p.finished.Load() {
		p.finished.Store(int64(e))
	}
	p.assists.Complete(e)

	if aliveBytes == 0 {
		p.logger.Debug("no live heap reported, keeping threshold", "epoch", e)
		return
	}
	p.lastAlive = aliveBytes
	old := p.threshold.Load()
	next := p.ctrl.Next(aliveBytes, old)
	if next == 0 {
		next = old
	}
	p.threshold.Store(next)
	p.logger.Debug("adapted allocation threshold",
		"epoch", e,
		"alive", bytesize.ByteSize(aliveBytes).String(),
		"old", bytesize.ByteSize(old).String(),
		"new", bytesize.ByteSize(next).String())

	// A lowered threshold may already be exceeded.
	if p.allocated.Load() >= next {
		p.consume()
	}
}

// Threshold returns the current allocation threshold.
func (p *Pacer) Threshold() uint64 {
	return p.threshold.Load()
}

// Allocated returns the volume accumulated since the last trigger.
func (p *Pacer) Allocated() uint64 {
	return p.allocated.Load()
}

// Stats is a snapshot of the pacer.
type Stats struct {
	Threshold      uint64
	Allocated      uint64
	Triggers       uint64
	Manual         uint64
	Timed          uint64
	AssistRequests uint64
	Starts         uint64
	LastFinished   epoch.Epoch
	LastAlive      uint64
}

func (p *Pacer) Stats() Stats {
	p.mu.Lock()
	lastFinished, lastAlive := p.lastFinished, p.lastAlive
	p.mu.Unlock()
	return Stats{
		Threshold:      p.threshold.Load(),
		Allocated:      p.allocated.Load(),
		Triggers:       p.triggers.Load(),
		Manual:         p.manual.Load(),
		Timed:          p.timed.Load(),
		AssistRequests: p.assistRequests.Load(),
		Starts:         p.starts.Load(),
		LastFinished:   lastFinished,
		LastAlive:      lastAlive,
	}
}
