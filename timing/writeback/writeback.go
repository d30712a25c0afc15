// Package writeback models the single register-file drain port that all
// completed work funnels through. Arbitration is by arrival order:
// cycle, then source (execute, shared memory, global memory), then FIFO
// within a source — the caller enqueues in that order and the port keeps
// it.
package writeback

import (
	"fmt"

	"github.com/hansungk/cyclotron/timing/flow"
)

// Source identifies which subsystem produced a completed result.
type Source int

const (
	Execute Source = iota
	Smem
	Gmem
)

func (s Source) String() string {
	switch s {
	case Execute:
		return "execute"
	case Smem:
		return "smem"
	case Gmem:
		return "gmem"
	default:
		return "unknown"
	}
}

// Payload is one completed result heading to the register file.
type Payload struct {
	Source Source
	Warp   int
	Bytes  uint32
}

// Config configures the drain port.
type Config struct {
	Enabled bool              `json:"enabled"`
	Server  flow.ServerConfig `json:"server"`
}

// DefaultConfig drains one result per cycle from a 16-entry queue.
func DefaultConfig() Config {
	return Config{
		Enabled: true,
		Server: flow.ServerConfig{
			BaseLatency:         0,
			BytesPerCycle:       1024,
			QueueCapacity:       16,
			CompletionsPerCycle: 1,
		},
	}
}

// Validate checks the drain server.
func (c Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("writeback: %w", err)
	}
	return nil
}

// Stats counts drain port activity.
type Stats struct {
	Issued           uint64
	Completed        uint64
	QueueFullRejects uint64
	BusyRejects      uint64
}

// Completion is one result that reached the register file.
type Completion struct {
	Payload     Payload
	CompletedAt flow.Cycle
}

// Writeback is the drain stage.
type Writeback struct {
	cfg   Config
	queue *flow.Queue[Payload]
	stats Stats
	ready []Completion
}

// New builds the stage.
func New(cfg Config) *Writeback {
	qc := flow.QueueConfig{Enabled: cfg.Enabled, Server: cfg.Server}
	return &Writeback{cfg: cfg, queue: flow.NewQueue[Payload](qc)}
}

// TryPush offers one completed result to the drain port. A rejected
// result stays with the producing subsystem, which retries on a later
// cycle; results are never dropped here.
func (w *Writeback) TryPush(now flow.Cycle, payload Payload) (flow.Ticket, *flow.Reject) {
	ticket, rej := w.queue.TryIssue(now, payload, payload.Bytes)
	if rej != nil {
		switch rej.Reason {
		case flow.QueueFull:
			w.stats.QueueFullRejects++
		case flow.Busy:
			w.stats.BusyRejects++
		}
		return flow.Ticket{}, rej
	}
	w.stats.Issued++
	return ticket, nil
}

// Tick drains matured results into the completion list.
func (w *Writeback) Tick(now flow.Cycle) {
	w.queue.Tick(now)
	w.queue.Drain(now, func(r flow.Result[Payload]) {
		w.stats.Completed++
		w.ready = append(w.ready, Completion{Payload: r.Payload, CompletedAt: now})
	})
}

// ConsumeCompletions returns and clears the drained results.
func (w *Writeback) ConsumeCompletions() []Completion {
	out := w.ready
	w.ready = nil
	return out
}

// Outstanding counts results still queued at the port.
func (w *Writeback) Outstanding() int { return w.queue.Outstanding() }

// Stats returns the accumulated counters.
func (w *Writeback) Stats() Stats { return w.stats }
