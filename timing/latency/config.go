package latency

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/hansungk/cyclotron/timing/flow"
)

// TimingConfig holds one server configuration per execution-unit class.
// Each entry fixes the base latency, the drain bandwidth, the queue
// depth, and the per-cycle completion budget of that unit.
type TimingConfig struct {
	// Int covers single-cycle integer ALU operations.
	Int flow.ServerConfig `json:"int"`

	// IntMul covers integer multiply operations.
	IntMul flow.ServerConfig `json:"int_mul"`

	// IntDiv covers integer divide operations.
	IntDiv flow.ServerConfig `json:"int_div"`

	// Fp covers floating-point operations.
	Fp flow.ServerConfig `json:"fp"`

	// Sfu covers special-function operations (transcendentals).
	Sfu flow.ServerConfig `json:"sfu"`
}

// DefaultTimingConfig returns unit timings modeled on a small SIMT core.
func DefaultTimingConfig() *TimingConfig {
	return &TimingConfig{
		Int: flow.ServerConfig{
			BaseLatency: 1, BytesPerCycle: 16, QueueCapacity: 4,
			CompletionsPerCycle: 1,
		},
		IntMul: flow.ServerConfig{
			BaseLatency: 3, BytesPerCycle: 16, QueueCapacity: 2,
			CompletionsPerCycle: 1,
		},
		IntDiv: flow.ServerConfig{
			BaseLatency: 16, BytesPerCycle: 8, QueueCapacity: 2,
			CompletionsPerCycle: 1,
		},
		Fp: flow.ServerConfig{
			BaseLatency: 4, BytesPerCycle: 8, QueueCapacity: 4,
			CompletionsPerCycle: 1,
		},
		Sfu: flow.ServerConfig{
			BaseLatency: 8, BytesPerCycle: 16, QueueCapacity: 2,
			CompletionsPerCycle: 1,
		},
	}
}

// LoadConfig loads a TimingConfig from a JSON file. Fields absent from
// the file keep their default values.
func LoadConfig(path string) (*TimingConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read timing config file: %w", err)
	}

	config := DefaultTimingConfig()
	if err := json.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse timing config: %w", err)
	}

	return config, nil
}

// SaveConfig writes a TimingConfig to a JSON file.
func (c *TimingConfig) SaveConfig(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize timing config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write timing config file: %w", err)
	}

	return nil
}

// Validate checks every unit configuration.
func (c *TimingConfig) Validate() error {
	if err := c.Int.Validate(); err != nil {
		return fmt.Errorf("int: %w", err)
	}
	if err := c.IntMul.Validate(); err != nil {
		return fmt.Errorf("int_mul: %w", err)
	}
	if err := c.IntDiv.Validate(); err != nil {
		return fmt.Errorf("int_div: %w", err)
	}
	if err := c.Fp.Validate(); err != nil {
		return fmt.Errorf("fp: %w", err)
	}
	if err := c.Sfu.Validate(); err != nil {
		return fmt.Errorf("sfu: %w", err)
	}
	return nil
}

// Clone returns a copy of the TimingConfig.
func (c *TimingConfig) Clone() *TimingConfig {
	clone := *c
	return &clone
}
