package simulation

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mknyszek/gcsched"
	"github.com/mknyszek/gcsched/scenario"
)

func testConfig() gcsched.Config {
	cfg := gcsched.DefaultConfig()
	cfg.AllocationThreshold = 1 << 20
	cfg.MinAllocationThreshold = 256 << 10
	cfg.RegularInterval = 0
	cfg.MaxAssistPause = time.Millisecond
	cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	return cfg
}

func load(t *testing.T, name string, steps int) *scenario.Execution {
	t.Helper()
	ex, err := scenario.Generate(name)
	require.NoError(t, err)
	if len(ex.Steps) > steps {
		ex.Steps = ex.Steps[:steps]
	}
	return &ex
}

func TestSimulators(t *testing.T) {
	assert.Equal(t, []string{"batched", "big-chunk", "fixed", "smoothed"}, Simulators())
	_, err := NewSimulator("go116", testConfig())
	assert.Error(t, err)
}

func TestRunAll(t *testing.T) {
	for _, name := range Simulators() {
		t.Run(name, func(t *testing.T) {
			s, err := NewSimulator(name, testConfig())
			require.NoError(t, err)
			r, err := s.Run(load(t, "steady", 8))
			require.NoError(t, err)
			require.NotEmpty(t, r)

			for i := range r {
				assert.Equal(t, int64(i+1), r[i].Epoch, "every epoch completes exactly once")
				assert.GreaterOrEqual(t, r[i].Threshold, uint64(256<<10))
				assert.Positive(t, r[i].AliveBytes)
			}
			last := r[len(r)-1]
			assert.LessOrEqual(t, last.AllocatedBytes, uint64(4*8<<20))
			assert.Positive(t, last.Triggers)
		})
	}
}

func TestFixedKeepsThreshold(t *testing.T) {
	s, err := NewSimulator("fixed", testConfig())
	require.NoError(t, err)
	r, err := s.Run(load(t, "growing-heap", 8))
	require.NoError(t, err)
	for _, c := range r {
		assert.Equal(t, uint64(1<<20), c.Threshold)
	}
}

func TestGrowingHeapRaisesThreshold(t *testing.T) {
	s, err := NewSimulator("batched", testConfig())
	require.NoError(t, err)
	r, err := s.Run(load(t, "growing-heap", 20))
	require.NoError(t, err)
	require.NotEmpty(t, r)
	assert.Greater(t, r[len(r)-1].Threshold, uint64(1<<20))
}

func TestManualGC(t *testing.T) {
	s, err := NewSimulator("batched", testConfig())
	require.NoError(t, err)
	r, err := s.Run(load(t, "manual-gc", 20))
	require.NoError(t, err)
	require.NotEmpty(t, r)
	assert.EqualValues(t, 2, r[len(r)-1].ManualRequests)
}

func TestRunRejectsEmptyScenario(t *testing.T) {
	s, err := NewSimulator("batched", testConfig())
	require.NoError(t, err)
	_, err = s.Run(&scenario.Execution{})
	assert.Error(t, err)

	_, err = s.Run(&scenario.Execution{
		Globals: scenario.Globals{Threads: 1},
		Steps:   []scenario.Step{{AllocBytes: 1024}},
	})
	assert.Error(t, err)
}
