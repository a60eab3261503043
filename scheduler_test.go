package gcsched

import (
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mknyszek/gcsched/epoch"
)

const (
	kib = 1 << 10
	mib = 1 << 20
)

// instantCollector completes every cycle as soon as it's requested.
type instantCollector struct {
	mu       sync.Mutex
	requests int
	last     epoch.Epoch
}

func (c *instantCollector) ScheduleCycle() epoch.Epoch {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.requests++
	c.last++
	return c.last
}

func (c *instantCollector) WaitFinished(e epoch.Epoch) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e > c.last {
		panic("waiting on an epoch that was never scheduled")
	}
}

func (c *instantCollector) WaitFinalizers(e epoch.Epoch) {
	c.WaitFinished(e)
}

func (c *instantCollector) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.requests
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.RegularInterval = 0
	cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	return cfg
}

func newTestScheduler(t *testing.T, cfg Config, c Collector) *Scheduler {
	t.Helper()
	s, err := New(cfg, c)
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig()
	cfg.FlushThreshold = 0
	_, err := New(cfg, new(instantCollector))
	assert.Error(t, err)
}

func TestThreadBatching(t *testing.T) {
	cfg := testConfig()
	cfg.AllocationThreshold = 10 * kib
	cfg.FlushThreshold = 4 * kib
	c := new(instantCollector)
	s := newTestScheduler(t, cfg, c)

	td := s.NewThreadData()
	defer td.Close()
	td.OnAllocation(3 * kib)
	assert.EqualValues(t, 3*kib, td.RunningBytes())
	assert.Zero(t, s.Stats().Allocated, "batched bytes stay local")

	td.OnAllocation(1 * kib)
	assert.Zero(t, td.RunningBytes())
	assert.EqualValues(t, 4*kib, s.Stats().Allocated)
}

func TestThreeThreadsOneTrigger(t *testing.T) {
	cfg := testConfig()
	cfg.AllocationThreshold = 10 * kib
	cfg.FlushThreshold = 4 * kib
	c := new(instantCollector)
	s := newTestScheduler(t, cfg, c)

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			td := s.NewThreadData()
			defer td.Close()
			for j := 0; j < 4; j++ {
				td.SafePoint()
				td.OnAllocation(1 * kib)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, c.count())
	assert.EqualValues(t, 1, s.Stats().Triggers)
	assert.EqualValues(t, 2*kib, s.Stats().Allocated)
	assert.Zero(t, s.Stats().Threads)
}

func TestFlushOnStop(t *testing.T) {
	cfg := testConfig()
	s := newTestScheduler(t, cfg, new(instantCollector))

	td := s.NewThreadData()
	defer td.Close()
	td.OnAllocation(1234)
	require.Zero(t, s.Stats().Allocated)

	td.OnStoppedForGC()
	assert.EqualValues(t, 1234, s.Stats().Allocated)
	assert.Zero(t, td.RunningBytes())

	// Nothing left to flush.
	td.OnStoppedForGC()
	assert.EqualValues(t, 1234, s.Stats().Allocated)
}

func TestCloseFlushes(t *testing.T) {
	s := newTestScheduler(t, testConfig(), new(instantCollector))
	td := s.NewThreadData()
	assert.EqualValues(t, 1, s.Stats().Threads)
	td.OnAllocation(100)
	td.Close()
	td.Close()
	assert.EqualValues(t, 100, s.Stats().Allocated)
	assert.Zero(t, s.Stats().Threads)
}

func TestAllocationAfterClose(t *testing.T) {
	s := newTestScheduler(t, testConfig(), new(instantCollector))
	td := s.NewThreadData()
	td.Close()
	td.OnAllocation(100)
	assert.Zero(t, td.RunningBytes())
	assert.EqualValues(t, 100, s.Stats().Allocated)
}

func TestBigChunks(t *testing.T) {
	cfg := testConfig()
	cfg.BigChunks = true
	c := new(instantCollector)
	s := newTestScheduler(t, cfg, c)

	td := s.NewThreadData()
	defer td.Close()
	td.OnAllocation(20 * mib)
	assert.Zero(t, td.RunningBytes(), "per-thread batching is bypassed")
	assert.Zero(t, c.count())

	s.SetAllocatedBytes(50 * mib)
	assert.Equal(t, 1, c.count())

	// The allocator returned memory; its total starts over lower.
	s.ResetAllocatedBytes(4 * mib)
	s.SetAllocatedBytes(12 * mib)
	assert.EqualValues(t, 8*mib, s.Stats().Allocated)
	assert.Equal(t, 1, c.count())
}

func TestSetAllocatedBytesIgnoredWhenBatching(t *testing.T) {
	c := new(instantCollector)
	s := newTestScheduler(t, testConfig(), c)
	s.SetAllocatedBytes(50 * mib)
	assert.Zero(t, c.count())
	assert.Zero(t, s.Stats().Allocated)
}

func TestManualSchedule(t *testing.T) {
	c := new(instantCollector)
	s := newTestScheduler(t, testConfig(), c)
	assert.Equal(t, epoch.Epoch(1), s.Schedule())
	s.ScheduleAndWaitFinished()
	s.ScheduleAndWaitFinalized()
	assert.Equal(t, 3, c.count())
	assert.EqualValues(t, 3, s.Stats().Manual)
}

func TestReentrantWait(t *testing.T) {
	s := newTestScheduler(t, testConfig(), new(instantCollector))
	td := s.NewThreadData()
	defer td.Close()

	g := td.Native()
	done := make(chan struct{})
	go func() {
		td.ScheduleAndWaitFinished()
		td.ScheduleAndWaitFinalized()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("wait inside a native region deadlocked")
	}
	assert.True(t, td.InNative(), "outer region survives the nested wait")
	g.Release()
	assert.False(t, td.InNative())
}

// TestWaitIsNative runs a collector that, like a stop-the-world collector,
// only finishes a cycle once every attached mutator is parked or native.
func TestWaitIsNative(t *testing.T) {
	tr := epoch.NewTracker()
	s := newTestScheduler(t, testConfig(), tr)
	td := s.NewThreadData()
	defer td.Close()

	go func() {
		e, ok := tr.NextScheduled()
		if !ok {
			return
		}
		tr.Start(e)
		s.OnGCStart()
		for !td.InNative() {
			time.Sleep(time.Millisecond)
		}
		s.OnGCFinish(e, 4*mib)
		tr.Finish(e)
		tr.Finalized(e)
	}()

	td.ScheduleAndWaitFinalized()
	assert.False(t, td.InNative())
	assert.Equal(t, epoch.State{Scheduled: 1, Started: 1, Finished: 1, Finalized: 1}, tr.State())
	assert.EqualValues(t, 8*mib, s.Stats().Threshold)
	tr.Shutdown()
}

func TestOnGCFinishAdapts(t *testing.T) {
	cfg := testConfig()
	cfg.MinAllocationThreshold = 1 * mib
	cfg.TargetHeapGrowth = 2
	s := newTestScheduler(t, cfg, new(instantCollector))

	s.OnGCStart()
	s.OnGCFinish(1, 0)
	assert.EqualValues(t, 10*mib, s.Stats().Threshold)

	s.OnGCStart()
	s.OnGCFinish(2, mib/2)
	assert.EqualValues(t, 1*mib, s.Stats().Threshold)

	s.OnGCStart()
	s.OnGCFinish(3, 512*mib)
	assert.EqualValues(t, 1024*mib, s.Stats().Threshold)
	assert.EqualValues(t, 512*mib, s.Stats().LastAlive)
}

func TestOnGCFinishTwiceDebug(t *testing.T) {
	cfg := testConfig()
	cfg.Debug = true
	s := newTestScheduler(t, cfg, new(instantCollector))
	s.OnGCFinish(1, mib)
	assert.Panics(t, func() { s.OnGCFinish(1, mib) })
}

func TestSmoothedAdaptation(t *testing.T) {
	cfg := testConfig()
	cfg.Adaptation = AdaptSmoothed
	s := newTestScheduler(t, cfg, new(instantCollector))
	s.OnGCFinish(1, 100*mib)
	th := s.Stats().Threshold
	assert.Greater(t, th, uint64(10*mib))
	assert.Less(t, th, uint64(200*mib))
}

func TestAssistsReleasedByFinish(t *testing.T) {
	cfg := testConfig()
	cfg.AllocationThreshold = 10 * kib
	cfg.FlushThreshold = 10 * kib
	cfg.MaxAssistPause = time.Hour
	tr := epoch.NewTracker()
	s := newTestScheduler(t, cfg, tr)

	td := s.NewThreadData()
	defer td.Close()
	td.OnAllocation(10 * kib)
	td.OnAllocation(10 * kib)
	require.True(t, s.assists.Pressure())

	done := make(chan struct{})
	go func() {
		td.SafePoint()
		close(done)
	}()
	select {
	case <-done:
		t.Fatal("SafePoint returned under pressure")
	case <-time.After(20 * time.Millisecond):
	}
	s.OnGCFinish(1, 0)
	<-done
}

func TestRegularIntervalSchedules(t *testing.T) {
	cfg := testConfig()
	cfg.RegularInterval = 5 * time.Millisecond
	c := new(instantCollector)
	newTestScheduler(t, cfg, c)
	require.Eventually(t, func() bool { return c.count() > 0 }, 5*time.Second, time.Millisecond)
}
