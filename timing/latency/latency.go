// Package latency maps operation classes to execution-unit timings.
//
// The per-class server configurations can be loaded from JSON via
// TimingConfig, so a run can retime the execute units without
// recompiling.
package latency

import (
	"github.com/hansungk/cyclotron/op"
	"github.com/hansungk/cyclotron/timing/execute"
	"github.com/hansungk/cyclotron/timing/flow"
)

// Table provides per-class timing lookups.
type Table struct {
	config *TimingConfig
}

// NewTable creates a latency table with the default timing values.
func NewTable() *Table {
	return &Table{
		config: DefaultTimingConfig(),
	}
}

// NewTableWithConfig creates a latency table with a custom configuration.
func NewTableWithConfig(config *TimingConfig) *Table {
	return &Table{
		config: config,
	}
}

// UnitFor returns the execution unit an operation class issues to.
// Only execute classes map to a unit; everything else reports false.
func (t *Table) UnitFor(class op.Class) (execute.UnitKind, bool) {
	switch class {
	case op.Int:
		return execute.Int, true
	case op.IntMul:
		return execute.IntMul, true
	case op.IntDiv:
		return execute.IntDiv, true
	case op.Fp:
		return execute.Fp, true
	case op.Sfu:
		return execute.Sfu, true
	default:
		return 0, false
	}
}

// ServerFor returns the server configuration of the unit serving the
// given class. Non-execute classes fall back to the Int timing.
func (t *Table) ServerFor(class op.Class) flow.ServerConfig {
	kind, ok := t.UnitFor(class)
	if !ok {
		return t.config.Int
	}
	switch kind {
	case execute.Int:
		return t.config.Int
	case execute.IntMul:
		return t.config.IntMul
	case execute.IntDiv:
		return t.config.IntDiv
	case execute.Fp:
		return t.config.Fp
	default:
		return t.config.Sfu
	}
}

// BaseLatency returns the base latency in cycles for the given class.
func (t *Table) BaseLatency(class op.Class) flow.Cycle {
	return t.ServerFor(class).BaseLatency
}

// ExecuteConfig builds the execute-pipeline configuration from the table.
func (t *Table) ExecuteConfig() execute.Config {
	return execute.Config{
		Enabled: true,
		Alu:     t.config.Int,
		IntMul:  t.config.IntMul,
		IntDiv:  t.config.IntDiv,
		Fp:      t.config.Fp,
		Sfu:     t.config.Sfu,
	}
}

// Config returns the current timing configuration.
func (t *Table) Config() *TimingConfig {
	return t.config
}
