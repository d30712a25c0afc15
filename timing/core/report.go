package core

import (
	"github.com/hansungk/cyclotron/timing/execute"
	"github.com/hansungk/cyclotron/timing/gmem"
	"github.com/hansungk/cyclotron/timing/icache"
	"github.com/hansungk/cyclotron/timing/lsu"
	"github.com/hansungk/cyclotron/timing/sched"
	"github.com/hansungk/cyclotron/timing/smem"
	"github.com/hansungk/cyclotron/timing/writeback"
)

// StallStats counts issue-side rejections per rejecting unit. One count
// is one cycle a warp spent blocked on that unit's admission.
type StallStats struct {
	Icache    uint64 `json:"icache"`
	Execute   uint64 `json:"execute"`
	Lsu       uint64 `json:"lsu"`
	Smem      uint64 `json:"smem"`
	Gmem      uint64 `json:"gmem"`
	Writeback uint64 `json:"writeback"`
	Barrier   uint64 `json:"barrier"`
}

// RunResult is the terminal state of one run.
type RunResult struct {
	Cycles   uint64   `json:"cycles"`
	TimedOut bool     `json:"timed_out"`
	Warnings []string `json:"warnings,omitempty"`
}

// Report aggregates every subsystem's statistics after (or during) a
// run.
type Report struct {
	Cycles    uint64               `json:"cycles"`
	Icache    icache.Stats         `json:"icache"`
	Execute   execute.Statistics   `json:"execute"`
	Lsu       lsu.Stats            `json:"lsu"`
	Smem      smem.Stats           `json:"smem"`
	Gmem      gmem.Stats           `json:"gmem"`
	Writeback writeback.Stats      `json:"writeback"`
	Scheduler sched.SchedulerStats `json:"scheduler"`
	Barrier   sched.BarrierStats   `json:"barrier"`
	Stalls    StallStats           `json:"stalls"`
}

// Report snapshots the current statistics of every subsystem.
func (c *Core) Report() Report {
	return Report{
		Cycles:    uint64(c.now),
		Icache:    c.icache.Stats(),
		Execute:   c.execute.Stats(),
		Lsu:       c.lsu.Stats(),
		Smem:      c.smem.Stats(),
		Gmem:      c.gmem.Stats(),
		Writeback: c.writeback.Stats(),
		Scheduler: c.scheduler.Stats(),
		Barrier:   c.barrier.Stats(),
		Stalls:    c.stalls,
	}
}
