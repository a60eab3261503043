package simulation

import (
	"fmt"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/mknyszek/gcsched"
	"github.com/mknyszek/gcsched/epoch"
	"github.com/mknyszek/gcsched/scenario"
)

type sim struct {
	cfg gcsched.Config
}

func (s *sim) Run(ex *scenario.Execution) ([]Result, error) {
	if ex.Globals.Threads <= 0 {
		return nil, fmt.Errorf("scenario needs at least one thread, got %d", ex.Globals.Threads)
	}

	tracker := epoch.NewTracker()
	w := newWorld()
	sched, err := gcsched.New(s.cfg, stwCollector{Tracker: tracker, world: w})
	if err != nil {
		return nil, err
	}
	defer sched.Close()

	c := &collector{
		tracker: tracker,
		sched:   sched,
		heap:    newHeap(ex.Globals.InitialHeap),
		world:   w,
	}
	collectorErr := make(chan error, 1)
	go func() {
		err := c.run()
		if err != nil {
			tracker.Shutdown()
		}
		collectorErr <- err
	}()

	var g errgroup.Group
	for i := 0; i < ex.Globals.Threads; i++ {
		m := &mutator{id: i, sched: sched, heap: c.heap, world: c.world}
		g.Go(func() error {
			return m.run(ex.Steps)
		})
	}
	mutErr := g.Wait()

	// Let the collector finish what's pending, then stop.
	sched.Close()
	tracker.Shutdown()
	if err := <-collectorErr; err != nil {
		return nil, err
	}
	if mutErr != nil {
		return nil, mutErr
	}
	return c.sorted(), nil
}

type mutator struct {
	id    int
	sched *gcsched.Scheduler
	heap  *heap
	world *world
}

func (m *mutator) run(steps []scenario.Step) error {
	td := m.sched.NewThreadData()
	m.world.attach(td)
	defer func() {
		m.world.detach(td)
		td.Close()
	}()

	bigChunks := m.sched.Config().BigChunks
	for i, step := range steps {
		if step.ObjectSize == 0 && step.AllocBytes > 0 {
			return fmt.Errorf("step %d: zero object size", i)
		}
		if m.id == 0 {
			m.heap.setRetain(step.RetainFrac)
			if step.ManualGC {
				m.world.native(td, td.ScheduleAndWaitFinished)
			}
		}
		for remaining := step.AllocBytes; remaining > 0; {
			n := step.ObjectSize
			if n > remaining {
				n = remaining
			}
			remaining -= n

			m.world.safePoint(td)
			total := m.heap.allocate(n, step.SurvivalFrac)
			if bigChunks {
				m.sched.SetAllocatedBytes(total)
			} else {
				td.OnAllocation(n)
			}
		}
	}
	return nil
}

// stwCollector is the scheduler's view of the simulated collector. Mutators
// parked in an assist let a pending stop of the world complete.
type stwCollector struct {
	*epoch.Tracker
	world *world
}

func (c stwCollector) MutatorParked() {
	c.world.wake()
}

type collector struct {
	tracker *epoch.Tracker
	sched   *gcsched.Scheduler
	heap    *heap
	world   *world

	mu      sync.Mutex
	results []Result
}

func (c *collector) run() error {
	for {
		e, ok := c.tracker.NextScheduled()
		if !ok {
			return nil
		}
		c.tracker.Start(e)
		c.sched.OnGCStart()

		c.world.stop()
		alive, allocated := c.heap.collect()
		c.world.resume()

		c.sched.OnGCFinish(e, alive)
		if err := c.tracker.Finish(e); err != nil {
			return fmt.Errorf("finishing epoch %d: %v", e, err)
		}
		c.record(e, alive, allocated)
		if err := c.tracker.Finalized(e); err != nil {
			return fmt.Errorf("finalizing epoch %d: %v", e, err)
		}
	}
}

func (c *collector) record(e epoch.Epoch, alive, allocated uint64) {
	st := c.sched.Stats()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.results = append(c.results, Result{
		Epoch:          int64(e),
		AllocatedBytes: allocated,
		AliveBytes:     alive,
		Threshold:      st.Threshold,
		Triggers:       st.Triggers,
		ManualRequests: st.Manual,
		AssistWaits:    st.Assists.Waits,
		AssistNanos:    int64(st.Assists.WaitTime),
	})
}

func (c *collector) sorted() []Result {
	c.mu.Lock()
	defer c.mu.Unlock()
	r := append([]Result(nil), c.results...)
	sort.Slice(r, func(i, j int) bool { return r[i].Epoch < r[j].Epoch })
	return r
}
