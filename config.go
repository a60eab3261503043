package gcsched

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/inhies/go-bytesize"
	"gopkg.in/yaml.v2"
)

// Size is a byte count. In configuration files and flags it may be written
// as a plain number of bytes or with a unit, like "10KB" or "4MB".
type Size uint64

func ParseSize(s string) (Size, error) {
	if n, err := strconv.ParseUint(s, 10, 64); err == nil {
		return Size(n), nil
	}
	b, err := bytesize.Parse(s)
	if err != nil {
		return 0, fmt.Errorf("parsing size %q: %v", s, err)
	}
	return Size(b), nil
}

func (s Size) String() string {
	return bytesize.ByteSize(s).String()
}

// Set implements flag.Value.
func (s *Size) Set(v string) error {
	n, err := ParseSize(v)
	if err != nil {
		return err
	}
	*s = n
	return nil
}

func (s *Size) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var v string
	if err := unmarshal(&v); err != nil {
		return err
	}
	return s.Set(v)
}

func (s Size) MarshalYAML() (interface{}, error) {
	return s.String(), nil
}

const (
	AdaptGrowth   = "growth"
	AdaptSmoothed = "smoothed"
)

type Config struct {
	// AllocationThreshold is the allocation volume since the last trigger
	// that requests the first cycle. Later thresholds are adapted.
	AllocationThreshold Size `yaml:"allocation_threshold"`
	// MinAllocationThreshold and MaxAllocationThreshold bound the adapted
	// threshold. A zero maximum is unbounded.
	MinAllocationThreshold Size `yaml:"min_allocation_threshold"`
	MaxAllocationThreshold Size `yaml:"max_allocation_threshold"`
	// TargetHeapGrowth is the ratio of the next threshold to the bytes
	// that survived the last cycle. Zero keeps the threshold fixed.
	TargetHeapGrowth float64 `yaml:"target_heap_growth"`
	// Adaptation selects how the threshold moves towards its target.
	Adaptation string `yaml:"adaptation"`

	// FlushThreshold is how much a mutator batches before reporting.
	FlushThreshold Size `yaml:"flush_threshold"`
	// BigChunks makes the allocator report absolute totals through
	// SetAllocatedBytes instead of batching per mutator.
	BigChunks bool `yaml:"big_chunks"`

	RegularInterval time.Duration `yaml:"regular_interval"`
	MaxAssistPause  time.Duration `yaml:"max_assist_pause"`

	// Debug panics on collector protocol violations.
	Debug bool `yaml:"debug"`

	Logger *slog.Logger `yaml:"-"`
}

func DefaultConfig() Config {
	return Config{
		AllocationThreshold:    10 << 20,
		MinAllocationThreshold: 1 << 20,
		TargetHeapGrowth:       2,
		Adaptation:             AdaptGrowth,
		FlushThreshold:         10 << 10,
		RegularInterval:        10 * time.Second,
		MaxAssistPause:         20 * time.Millisecond,
	}
}

func (c *Config) Validate() error {
	if c.AllocationThreshold == 0 {
		return fmt.Errorf("allocation_threshold must be positive")
	}
	if c.FlushThreshold == 0 {
		return fmt.Errorf("flush_threshold must be positive")
	}
	if c.TargetHeapGrowth < 0 {
		return fmt.Errorf("target_heap_growth must not be negative, got %v", c.TargetHeapGrowth)
	}
	if max := c.MaxAllocationThreshold; max != 0 && max < c.MinAllocationThreshold {
		return fmt.Errorf("max_allocation_threshold %v is below min_allocation_threshold %v", max, c.MinAllocationThreshold)
	}
	switch c.Adaptation {
	case "", AdaptGrowth, AdaptSmoothed:
	default:
		return fmt.Errorf("unknown adaptation %q", c.Adaptation)
	}
	if c.RegularInterval < 0 {
		return fmt.Errorf("regular_interval must not be negative")
	}
	if c.MaxAssistPause <= 0 {
		return fmt.Errorf("max_assist_pause must be positive")
	}
	return nil
}

// ParseConfig reads a YAML configuration. Fields missing from data keep
// their DefaultConfig values.
func ParseConfig(data []byte) (Config, error) {
	cfg := DefaultConfig()
	if err := yaml.UnmarshalStrict(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshalling config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	return ParseConfig(data)
}
