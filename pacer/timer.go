package pacer

import (
	"sync"
	"time"
)

// intervalTimer requests a cycle when no cycle has started for a whole
// interval. Every cycle start re-arms it.
type intervalTimer struct {
	interval time.Duration
	fire     func()
	resetc   chan struct{}
	stopc    chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

func (t *intervalTimer) run() {
	defer close(t.done)
	timer := time.NewTimer(t.interval)
	defer timer.Stop()
	for {
		select {
		case <-t.stopc:
			return
		case <-t.resetc:
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(t.interval)
		case <-timer.C:
			t.fire()
			timer.Reset(t.interval)
		}
	}
}

func (t *intervalTimer) reset() {
	select {
	case t.resetc <- struct{}{}:
	default:
		// A reset is already queued.
	}
}

// start launches the regular interval timer, if configured. New calls it
// before the pacer is shared, since OnGCStart reads p.timer unlocked.
func (p *Pacer) start() {
	if p.cfg.RegularInterval <= 0 || p.timer != nil {
		return
	}
	p.timer = &intervalTimer{
		interval: p.cfg.RegularInterval,
		fire:     p.timedTrigger,
		resetc:   make(chan struct{}, 1),
		stopc:    make(chan struct{}),
		done:     make(chan struct{}),
	}
	go p.timer.run()
}

// Stop shuts the regular interval timer down and waits for it to exit.
func (p *Pacer) Stop() {
	if p.timer == nil {
		return
	}
	p.timer.stopOnce.Do(func() { close(p.timer.stopc) })
	<-p.timer.done
}

func (p *Pacer) timedTrigger() {
	p.timed.Add(1)
	e := p.requester.ScheduleCycle()
	p.noteRequested(e)
	p.logger.Debug("no GC for a regular interval, scheduling", "epoch", e, "interval", p.cfg.RegularInterval)
}
