// Package core composes the timing subsystems into one SIMT core: the
// warp scheduler and barrier, the instruction cache, the execute units,
// the load-store unit with its shared- and global-memory back ends, and
// the writeback port. The core consumes per-warp operation streams and
// advances them cycle by cycle under the subsystems' backpressure.
package core

import (
	"fmt"

	"github.com/hansungk/cyclotron/config"
	"github.com/hansungk/cyclotron/op"
	"github.com/hansungk/cyclotron/timing/execute"
	"github.com/hansungk/cyclotron/timing/flow"
	"github.com/hansungk/cyclotron/timing/gmem"
	"github.com/hansungk/cyclotron/timing/icache"
	"github.com/hansungk/cyclotron/timing/latency"
	"github.com/hansungk/cyclotron/timing/lsu"
	"github.com/hansungk/cyclotron/timing/sched"
	"github.com/hansungk/cyclotron/timing/smem"
	"github.com/hansungk/cyclotron/timing/writeback"
)

// watchdogInterval is the no-progress span, in cycles, after which the
// run loop records a stall warning.
const watchdogInterval = 10_000

// Recorder receives run-loop diagnostics: watchdog warnings and the
// terminal condition. Nothing is recorded per cycle.
type Recorder interface {
	Logf(format string, args ...any)
}

// Core is one SIMT core advancing lockstep warps through the timing
// subsystems.
type Core struct {
	cfg   *config.RunConfig
	table *latency.Table

	icache    *icache.Cache
	execute   *execute.Pipeline
	lsu       *lsu.LSU
	smem      *smem.Smem
	gmem      *gmem.Gmem
	writeback *writeback.Writeback
	scheduler *sched.Scheduler
	barrier   *sched.Barrier

	warps []*warpCtx
	now   flow.Cycle

	// Handoffs rejected by a back end retry here in FIFO order.
	pendingSmem []smemHandoff
	pendingGmem []gmemHandoff
	pendingWb   []writeback.Payload

	// Execute completions cross from the graph phase to the
	// writeback phase within one cycle.
	execDone []execute.Completion

	stalls       StallStats
	progressed   bool
	lastProgress flow.Cycle
	warnings     []string
	recorder     Recorder
}

// New builds a core from a validated run configuration.
func New(cfg *config.RunConfig) (*Core, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("run config: %w", err)
	}

	table := latency.NewTableWithConfig(cfg.Timing)
	c := &Core{
		cfg:       cfg,
		table:     table,
		icache:    icache.New(cfg.Icache),
		execute:   execute.NewPipeline(table.ExecuteConfig()),
		lsu:       lsu.New(cfg.Lsu),
		smem:      smem.New(cfg.Smem),
		gmem:      gmem.New(cfg.Gmem),
		writeback: writeback.New(cfg.Writeback),
		scheduler: sched.NewScheduler(cfg.Scheduler),
		barrier:   sched.NewBarrier(cfg.Barrier),
	}
	for i := 0; i < cfg.NumWarps; i++ {
		c.warps = append(c.warps, &warpCtx{id: i, state: sched.Active})
	}
	return c, nil
}

// LoadProgram installs the operation stream for one warp. A warp with
// no program finishes on its first scheduling opportunity.
func (c *Core) LoadProgram(warp int, ops []op.Operation) error {
	if warp < 0 || warp >= len(c.warps) {
		return fmt.Errorf("warp %d out of range 0..%d", warp, len(c.warps)-1)
	}
	c.warps[warp].program = ops
	return nil
}

// SetRecorder installs a diagnostics sink.
func (c *Core) SetRecorder(r Recorder) { c.recorder = r }

// Now returns the current cycle.
func (c *Core) Now() flow.Cycle { return c.now }

// WarpStates returns the scheduling state of every warp.
func (c *Core) WarpStates() []sched.WarpState {
	states := make([]sched.WarpState, len(c.warps))
	for i, w := range c.warps {
		states[i] = w.state
	}
	return states
}

// Done reports whether every warp finished and every subsystem drained.
func (c *Core) Done() bool {
	for _, w := range c.warps {
		if w.state != sched.Finished {
			return false
		}
	}
	return c.icache.Outstanding() == 0 &&
		c.execute.Outstanding() == 0 &&
		c.lsu.Outstanding() == 0 &&
		c.smem.Outstanding() == 0 &&
		c.gmem.Outstanding() == 0 &&
		c.writeback.Outstanding() == 0 &&
		c.barrier.Waiting() == 0 &&
		len(c.pendingSmem) == 0 &&
		len(c.pendingGmem) == 0 &&
		len(c.pendingWb) == 0 &&
		len(c.execDone) == 0
}

// Tick advances the core one cycle. Admission decisions in the front
// phase see start-of-cycle state; the graph phase moves requests
// through the subsystems; the back phase drains writeback and barrier
// releases.
func (c *Core) Tick() {
	now := c.now
	c.progressed = false
	c.tickFront(now)
	c.tickGraph(now)
	c.tickBack(now)
	if c.progressed {
		c.lastProgress = now
	} else if !c.Done() && now-c.lastProgress >= watchdogInterval {
		warning := fmt.Sprintf(
			"no progress between cycle %d and cycle %d", c.lastProgress, now)
		c.warnings = append(c.warnings, warning)
		if c.recorder != nil {
			c.recorder.Logf("warning: %s", warning)
		}
		c.lastProgress = now
	}
	c.now++
}

// tickFront resolves structural-stall retries, starts instruction
// fetches, and lets the scheduler grant issue slots.
func (c *Core) tickFront(now flow.Cycle) {
	active := make([]bool, len(c.warps))
	eligible := make([]bool, len(c.warps))

	for i, w := range c.warps {
		if w.state == sched.StalledStructural && now >= w.retryAt {
			w.state = sched.Active
		}
		active[i] = w.state != sched.Finished
		if w.state != sched.Active {
			continue
		}
		cur, ok := w.current()
		if !ok {
			w.state = sched.Finished
			active[i] = false
			continue
		}
		if !w.fetched {
			if !w.fetchOutstanding {
				c.startFetch(now, w, cur)
			}
			continue
		}
		eligible[i] = w.pendingMem == 0
	}

	granted := c.scheduler.Select(active, eligible)
	for i, g := range granted {
		if g {
			c.issueOp(now, c.warps[i])
		}
	}
}

func (c *Core) startFetch(now flow.Cycle, w *warpCtx, cur op.Operation) {
	_, rej := c.icache.Fetch(now, w.id, cur.PC)
	if rej != nil {
		c.stalls.Icache++
		w.stall(rej.RetryAt)
		return
	}
	w.fetchOutstanding = true
	w.fetchAddr = cur.PC
	c.progressed = true
}

// issueOp issues one granted warp's current operation to its subsystem.
func (c *Core) issueOp(now flow.Cycle, w *warpCtx) {
	cur, ok := w.current()
	if !ok {
		w.state = sched.Finished
		return
	}

	switch {
	case cur.Class == op.Exit:
		w.advance()
		w.state = sched.Finished
		c.progressed = true

	case cur.Class == op.Barrier:
		_, _, rej := c.barrier.Arrive(now, w.id, cur.BarrierID)
		if rej != nil {
			c.stalls.Barrier++
			w.stall(rej.RetryAt)
			return
		}
		w.advance()
		w.state = sched.StalledBarrier
		c.progressed = true

	case cur.Class == op.Fetch:
		// Explicit prefetch: occupies an icache slot but does not
		// block the warp on completion.
		if _, rej := c.icache.Fetch(now, w.id, cur.PC); rej != nil {
			c.stalls.Icache++
			w.stall(rej.RetryAt)
			return
		}
		w.advance()
		c.progressed = true

	case cur.Class.IsExecute():
		kind, _ := c.table.UnitFor(cur.Class)
		lanes := uint32(cur.ActiveLanes())
		if _, rej := c.execute.Issue(now, kind, w.id, lanes); rej != nil {
			c.stalls.Execute++
			w.stall(rej.RetryAt)
			return
		}
		w.advance()
		c.progressed = true

	case cur.Class.IsMemory():
		req := lsu.Request{
			Warp:        w.id,
			Kind:        queueKindOf(cur.Class),
			Bytes:       c.opBytes(cur),
			ActiveLanes: uint32(cur.ActiveLanes()),
			LaneAddrs:   cur.LaneAddrs,
		}
		if len(cur.LaneAddrs) > 0 {
			req.Addr = cur.LaneAddrs[0]
		}
		if _, rej := c.lsu.Enqueue(now, req); rej != nil {
			c.stalls.Lsu++
			w.stall(rej.RetryAt)
			return
		}
		w.advance()
		c.progressed = true

	default:
		w.advance()
	}
}

// opBytes sizes a memory operation: the stated byte count, or one word
// per active lane.
func (c *Core) opBytes(cur op.Operation) uint32 {
	if cur.Bytes > 0 {
		return uint32(cur.Bytes)
	}
	return 4 * uint32(cur.ActiveLanes())
}

// tickGraph moves requests through every subsystem and routes LSU
// dispatches to their memory back end.
func (c *Core) tickGraph(now flow.Cycle) {
	for _, done := range c.icache.Tick(now) {
		w := c.warps[done.Warp]
		if w.fetchOutstanding && done.Addr == w.fetchAddr {
			w.fetchOutstanding = false
			w.fetched = true
		}
		c.progressed = true
	}

	c.execDone = append(c.execDone, c.execute.Tick(now)...)

	c.lsu.Tick(now)
	for _, d := range c.lsu.ConsumeDispatches() {
		c.acceptDispatch(d)
	}
	c.drainSmemHandoffs(now)
	c.drainGmemHandoffs(now)

	c.smem.Tick(now)
	c.gmem.Tick(now)
	c.smem.SampleUtilization()
}

// acceptDispatch splits a dispatched instruction into back-end children
// and queues the handoff.
func (c *Core) acceptDispatch(d lsu.Dispatch) {
	c.progressed = true
	r := d.Request
	if r.Kind.IsShared() {
		parent := smem.Request{
			Warp:        r.Warp,
			Addr:        r.Addr,
			Bytes:       r.Bytes,
			ActiveLanes: r.ActiveLanes,
			IsStore:     !r.Kind.IsLoad(),
			LaneAddrs:   r.LaneAddrs,
		}
		c.smem.RecordConflict(c.smem.Config().ConflictOf(parent))
		c.pendingSmem = append(c.pendingSmem, smemHandoff{
			kind:     r.Kind,
			warp:     r.Warp,
			children: c.smem.Config().Split(parent),
		})
		return
	}

	parent := gmem.NewRequest(r.Warp, r.Bytes, r.ActiveLanes, r.Kind.IsLoad())
	parent.Addr = r.Addr
	parent.LaneAddrs = r.LaneAddrs
	c.pendingGmem = append(c.pendingGmem, gmemHandoff{
		kind:     r.Kind,
		warp:     r.Warp,
		children: c.cfg.Gmem.Policy.SplitByLine(parent),
	})
}

// drainSmemHandoffs admits queued shared-memory children. A handoff
// finishing its last child frees the LSU queue slot.
func (c *Core) drainSmemHandoffs(now flow.Cycle) {
	remaining := c.pendingSmem[:0]
	for _, h := range c.pendingSmem {
		for len(h.children) > 0 {
			if _, rej := c.smem.Issue(now, h.children[0]); rej != nil {
				c.stalls.Smem++
				break
			}
			if !h.children[0].IsStore {
				c.warps[h.warp].pendingMem++
			}
			h.children = h.children[1:]
			c.progressed = true
		}
		if len(h.children) == 0 {
			c.lsu.Release(h.kind)
		} else {
			remaining = append(remaining, h)
		}
	}
	c.pendingSmem = remaining
}

// drainGmemHandoffs admits queued global-memory children.
func (c *Core) drainGmemHandoffs(now flow.Cycle) {
	remaining := c.pendingGmem[:0]
	for _, h := range c.pendingGmem {
		for len(h.children) > 0 {
			if _, rej := c.gmem.Issue(now, h.children[0]); rej != nil {
				c.stalls.Gmem++
				break
			}
			if h.children[0].StallOnCompletion {
				c.warps[h.warp].pendingMem++
			}
			h.children = h.children[1:]
			c.progressed = true
		}
		if len(h.children) == 0 {
			c.lsu.Release(h.kind)
		} else {
			remaining = append(remaining, h)
		}
	}
	c.pendingGmem = remaining
}

// tickBack offers completed results to the writeback port in source
// order, drains the port, and applies barrier releases.
func (c *Core) tickBack(now flow.Cycle) {
	offers := c.pendingWb
	c.pendingWb = nil

	wordBytes := 4 * uint32(c.cfg.NumLanes)
	for _, done := range c.execDone {
		offers = append(offers, writeback.Payload{
			Source: writeback.Execute,
			Warp:   done.Warp,
			Bytes:  wordBytes,
		})
	}
	c.execDone = nil

	for _, done := range c.smem.ConsumeCompletions() {
		c.progressed = true
		if done.Request.IsStore {
			continue
		}
		c.warps[done.Request.Warp].pendingMem--
		offers = append(offers, writeback.Payload{
			Source: writeback.Smem,
			Warp:   done.Request.Warp,
			Bytes:  done.Request.Bytes,
		})
	}

	for _, done := range c.gmem.ConsumeCompletions() {
		c.progressed = true
		if done.Request.StallOnCompletion {
			c.warps[done.Request.Warp].pendingMem--
		}
		if done.Request.Kind != gmem.Load {
			continue
		}
		offers = append(offers, writeback.Payload{
			Source: writeback.Gmem,
			Warp:   done.Request.Warp,
			Bytes:  done.Request.Bytes,
		})
	}

	for i, payload := range offers {
		if _, rej := c.writeback.TryPush(now, payload); rej != nil {
			c.stalls.Writeback++
			// Keep FIFO order: everything behind the reject waits too.
			c.pendingWb = append(c.pendingWb, offers[i:]...)
			break
		}
	}

	c.writeback.Tick(now)
	if len(c.writeback.ConsumeCompletions()) > 0 {
		c.progressed = true
	}

	c.barrier.Tick(now)
	for _, release := range c.barrier.ConsumeReleased() {
		w := c.warps[release.Warp]
		if w.state == sched.StalledBarrier {
			w.state = sched.Active
		}
		c.progressed = true
	}
}

// Run advances the core until every warp finishes and the subsystems
// drain, or until maxCycles elapse. A timeout is a non-fatal terminal
// condition: the result carries the partial statistics.
func (c *Core) Run(maxCycles uint64) RunResult {
	for !c.Done() {
		if maxCycles > 0 && uint64(c.now) >= maxCycles {
			if c.recorder != nil {
				c.recorder.Logf("timed out at cycle %d", c.now)
			}
			return RunResult{
				Cycles:   uint64(c.now),
				TimedOut: true,
				Warnings: c.warnings,
			}
		}
		c.Tick()
	}
	return RunResult{Cycles: uint64(c.now), Warnings: c.warnings}
}
