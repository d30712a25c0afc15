// Package config holds the top-level run configuration: the core shape
// and every subsystem configuration, loadable from a single JSON file.
package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/hansungk/cyclotron/timing/gmem"
	"github.com/hansungk/cyclotron/timing/icache"
	"github.com/hansungk/cyclotron/timing/latency"
	"github.com/hansungk/cyclotron/timing/lsu"
	"github.com/hansungk/cyclotron/timing/sched"
	"github.com/hansungk/cyclotron/timing/smem"
	"github.com/hansungk/cyclotron/timing/writeback"
)

// RunConfig configures one simulation run.
type RunConfig struct {
	// NumCores is the number of cores simulated in lockstep.
	NumCores int `json:"num_cores"`
	// NumWarps is the number of warps per core.
	NumWarps int `json:"num_warps"`
	// NumLanes is the SIMT width of a warp.
	NumLanes int `json:"num_lanes"`
	// MaxCycles bounds the run; 0 means no bound.
	MaxCycles uint64 `json:"max_cycles"`

	Timing    *latency.TimingConfig `json:"timing"`
	Icache    icache.Config         `json:"icache"`
	Smem      smem.Config           `json:"smem"`
	Gmem      gmem.Config           `json:"gmem"`
	Lsu       lsu.Config            `json:"lsu"`
	Writeback writeback.Config      `json:"writeback"`
	Scheduler sched.SchedulerConfig `json:"scheduler"`
	Barrier   sched.BarrierConfig   `json:"barrier"`
}

// DefaultRunConfig returns a single small core with every subsystem at
// its default timing.
func DefaultRunConfig() *RunConfig {
	cfg := &RunConfig{
		NumCores:  1,
		NumWarps:  8,
		NumLanes:  4,
		MaxCycles: 1_000_000,
		Timing:    latency.DefaultTimingConfig(),
		Icache:    icache.DefaultConfig(),
		Smem:      smem.DefaultConfig(),
		Gmem:      gmem.DefaultConfig(),
		Lsu:       lsu.DefaultConfig(),
		Writeback: writeback.DefaultConfig(),
		Scheduler: sched.DefaultSchedulerConfig(),
		Barrier:   sched.DefaultBarrierConfig(),
	}
	cfg.Normalize()
	return cfg
}

// Normalize propagates the core shape into the subsystem configurations
// so a file only has to state NumWarps and NumLanes once.
func (c *RunConfig) Normalize() {
	c.Scheduler.NumWarps = c.NumWarps
	c.Barrier.NumWarps = c.NumWarps
	c.Smem.NumLanes = c.NumLanes
}

// Load reads a RunConfig from a JSON file. Fields absent from the file
// keep their default values.
func Load(path string) (*RunConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read run config file: %w", err)
	}

	cfg := DefaultRunConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse run config: %w", err)
	}
	cfg.Normalize()

	return cfg, nil
}

// Save writes a RunConfig to a JSON file.
func (c *RunConfig) Save(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize run config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write run config file: %w", err)
	}

	return nil
}

// Validate checks the core shape and every subsystem configuration.
func (c *RunConfig) Validate() error {
	if c.NumCores <= 0 {
		return fmt.Errorf("num_cores must be > 0, got %d", c.NumCores)
	}
	if c.NumWarps <= 0 {
		return fmt.Errorf("num_warps must be > 0, got %d", c.NumWarps)
	}
	if c.NumLanes <= 0 || c.NumLanes > 64 {
		return fmt.Errorf("num_lanes must be in 1..64, got %d", c.NumLanes)
	}
	if c.Timing == nil {
		return fmt.Errorf("timing config missing")
	}
	if err := c.Timing.Validate(); err != nil {
		return fmt.Errorf("timing: %w", err)
	}
	if err := c.Icache.Validate(); err != nil {
		return fmt.Errorf("icache: %w", err)
	}
	if err := c.Smem.Validate(); err != nil {
		return fmt.Errorf("smem: %w", err)
	}
	if err := c.Gmem.Validate(); err != nil {
		return fmt.Errorf("gmem: %w", err)
	}
	if err := c.Lsu.Validate(); err != nil {
		return fmt.Errorf("lsu: %w", err)
	}
	if err := c.Writeback.Validate(); err != nil {
		return fmt.Errorf("writeback: %w", err)
	}
	if err := c.Scheduler.Validate(); err != nil {
		return fmt.Errorf("scheduler: %w", err)
	}
	if err := c.Barrier.Validate(); err != nil {
		return fmt.Errorf("barrier: %w", err)
	}
	return nil
}
