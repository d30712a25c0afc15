// Package execute models the per-class execution units: integer ALU,
// integer multiply, integer divide, floating point, and the special
// function unit. Each class is one independent timed server; an issued
// instruction occupies exactly one unit.
package execute

import (
	"fmt"

	"github.com/hansungk/cyclotron/timing/flow"
)

// UnitKind selects one execution unit class.
type UnitKind int

const (
	Int UnitKind = iota
	IntMul
	IntDiv
	Fp
	Sfu

	numUnits
)

func (k UnitKind) String() string {
	switch k {
	case Int:
		return "alu"
	case IntMul:
		return "int_mul"
	case IntDiv:
		return "int_div"
	case Fp:
		return "fp"
	case Sfu:
		return "sfu"
	default:
		return "unknown"
	}
}

// Kinds lists every unit class in issue order.
func Kinds() []UnitKind {
	return []UnitKind{Int, IntMul, IntDiv, Fp, Sfu}
}

// Config holds one server configuration per unit class.
type Config struct {
	Enabled bool              `json:"enabled"`
	Alu     flow.ServerConfig `json:"alu"`
	IntMul  flow.ServerConfig `json:"int_mul"`
	IntDiv  flow.ServerConfig `json:"int_div"`
	Fp      flow.ServerConfig `json:"fp"`
	Sfu     flow.ServerConfig `json:"sfu"`
}

// DefaultConfig returns unit latencies and throughputs modeled on a
// small SIMT core.
func DefaultConfig() Config {
	return Config{
		Enabled: true,
		Alu: flow.ServerConfig{
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

func (c Config) serverConfig(kind UnitKind) flow.ServerConfig {
	switch kind {
	case Int:
		return c.Alu
	case IntMul:
		return c.IntMul
	case IntDiv:
		return c.IntDiv
	case Fp:
		return c.Fp
	default:
		return c.Sfu
	}
}

// Validate checks every unit configuration.
func (c Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	for _, kind := range Kinds() {
		if err := c.serverConfig(kind).Validate(); err != nil {
			return fmt.Errorf("%s: %w", kind, err)
		}
	}
	return nil
}

// Issued identifies one accepted instruction.
type Issued struct {
	Warp   int
	Kind   UnitKind
	Ticket flow.Ticket
}

// Completion is one instruction leaving its unit.
type Completion struct {
	Warp        int
	Kind        UnitKind
	ReadyAt     flow.Cycle
	CompletedAt flow.Cycle
}

// UnitStats counts activity on one unit class.
type UnitStats struct {
	Issued           uint64
	Completed        uint64
	QueueFullRejects uint64
	BusyRejects      uint64
}

// Statistics aggregates per-unit counters.
type Statistics struct {
	Units [5]UnitStats
}

// Unit returns the counters for one class.
func (s Statistics) Unit(kind UnitKind) UnitStats { return s.Units[kind] }

// Issued sums issues across all classes.
func (s Statistics) Issued() uint64 {
	var total uint64
	for _, u := range s.Units {
		total += u.Issued
	}
	return total
}

// Completed sums completions across all classes.
func (s Statistics) Completed() uint64 {
	var total uint64
	for _, u := range s.Units {
		total += u.Completed
	}
	return total
}

type issuedPayload struct {
	warp int
	kind UnitKind
}

// Pipeline holds the five execution unit servers.
type Pipeline struct {
	enabled bool
	units   [numUnits]*flow.Server[issuedPayload]
	stats   Statistics
}

// NewPipeline builds the execution units from their configuration.
func NewPipeline(cfg Config) *Pipeline {
	p := &Pipeline{enabled: cfg.Enabled}
	for _, kind := range Kinds() {
		p.units[kind] = flow.NewServer[issuedPayload](cfg.serverConfig(kind))
	}
	return p
}

// Issue attempts to place one instruction into its unit. The request
// size is the active lane count, so wider warps consume more throughput.
func (p *Pipeline) Issue(now flow.Cycle, kind UnitKind, warp int, activeLanes uint32) (Issued, *flow.Reject) {
	size := activeLanes
	if size == 0 {
		size = 1
	}
	if !p.enabled {
		p.stats.Units[kind].Issued++
		p.stats.Units[kind].Completed++
		return Issued{Warp: warp, Kind: kind, Ticket: flow.SyntheticTicket(now, now, size)}, nil
	}

	ticket, rej := p.units[kind].TryEnqueue(now, issuedPayload{warp: warp, kind: kind}, size)
	if rej != nil {
		switch rej.Reason {
		case flow.QueueFull:
			p.stats.Units[kind].QueueFullRejects++
		case flow.Busy:
			p.stats.Units[kind].BusyRejects++
		}
		rej.RetryAt = flow.NormalizeRetry(now, rej.RetryAt)
		return Issued{}, rej
	}
	p.stats.Units[kind].Issued++
	return Issued{Warp: warp, Kind: kind, Ticket: ticket}, nil
}

// Busy reports whether a unit cannot accept a fresh request this cycle.
func (p *Pipeline) Busy(kind UnitKind, now flow.Cycle) bool {
	if !p.enabled {
		return false
	}
	unit := p.units[kind]
	if unit.Outstanding() >= unit.Config().QueueCapacity {
		return true
	}
	return unit.Outstanding() == 0 && unit.AvailableAt() > now
}

// SuggestRetry returns the earliest cycle a rejected issue could succeed.
func (p *Pipeline) SuggestRetry(kind UnitKind, now flow.Cycle) flow.Cycle {
	return flow.NormalizeRetry(now, p.units[kind].AvailableAt())
}

// Tick drains every unit, returning this cycle's completions.
func (p *Pipeline) Tick(now flow.Cycle) []Completion {
	if !p.enabled {
		return nil
	}
	var done []Completion
	for _, kind := range Kinds() {
		p.units[kind].ServiceReady(now, func(r flow.Result[issuedPayload]) {
			p.stats.Units[r.Payload.kind].Completed++
			done = append(done, Completion{
				Warp:        r.Payload.warp,
				Kind:        r.Payload.kind,
				ReadyAt:     r.Ticket.ReadyAt(),
				CompletedAt: now,
			})
		})
	}
	return done
}

// Outstanding sums queued instructions across all units.
func (p *Pipeline) Outstanding() int {
	total := 0
	for _, kind := range Kinds() {
		total += p.units[kind].Outstanding()
	}
	return total
}

// Stats returns the accumulated counters.
func (p *Pipeline) Stats() Statistics { return p.stats }
