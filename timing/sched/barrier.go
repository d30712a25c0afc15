package sched

import (
	"fmt"
	"sort"

	"github.com/hansungk/cyclotron/timing/flow"
)

// BarrierConfig configures the barrier unit. ExpectedWarps above
// NumWarps is clamped to NumWarps; zero or negative means all warps
// participate.
type BarrierConfig struct {
	Enabled       bool             `json:"enabled"`
	NumWarps      int              `json:"num_warps"`
	ExpectedWarps int              `json:"expected_warps"`
	Queue         flow.QueueConfig `json:"queue"`
}

// DefaultBarrierConfig synchronizes all warps with room for four
// pending release events.
func DefaultBarrierConfig() BarrierConfig {
	return BarrierConfig{
		Enabled:  true,
		NumWarps: 8,
		Queue: flow.QueueConfig{
			Enabled: true,
			Server: flow.ServerConfig{
				BaseLatency:   0,
				BytesPerCycle: 1024,
				QueueCapacity: 4,
			},
		},
	}
}

// Validate checks the barrier shape.
func (c BarrierConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.NumWarps <= 0 {
		return fmt.Errorf("barrier: num_warps must be positive, got %d", c.NumWarps)
	}
	return c.Queue.Validate()
}

func (c BarrierConfig) expected() int {
	expected := c.ExpectedWarps
	if expected <= 0 || expected > c.NumWarps {
		expected = c.NumWarps
	}
	return expected
}

// BarrierStats accumulates barrier activity. Wait cycles are measured
// from a warp's arrival to the cycle its release event drains.
type BarrierStats struct {
	Arrivals                 uint64
	ReleaseEvents            uint64
	WarpsReleased            uint64
	QueueRejects             uint64
	TotalScheduledWaitCycles uint64
	MaxScheduledWaitCycles   uint64
}

type releaseGroup struct {
	barrierID int
	warps     []int
	arrivedAt []flow.Cycle
}

// Release is one warp let go by a barrier.
type Release struct {
	Warp       int
	BarrierID  int
	ReleasedAt flow.Cycle
}

// Barrier tracks arrivals per barrier id and fires a release event once
// the expected participant count is reached. Release events pass
// through a bounded queue; an event rejected there rolls back the
// triggering arrival so the warp retries next cycle.
type Barrier struct {
	cfg      BarrierConfig
	waiting  map[int]map[int]flow.Cycle
	queue    *flow.Queue[releaseGroup]
	stats    BarrierStats
	released []Release
}

// NewBarrier builds a barrier unit.
func NewBarrier(cfg BarrierConfig) *Barrier {
	return &Barrier{
		cfg:     cfg,
		waiting: make(map[int]map[int]flow.Cycle),
		queue:   flow.NewQueue[releaseGroup](cfg.Queue),
	}
}

// Arrive records one warp reaching a barrier. It returns the cycle the
// release event will drain when this arrival completes the group, or a
// rejection when the release queue has no room. A repeated arrival from
// a warp already waiting is a no-op. A disabled barrier releases the
// warp immediately.
func (b *Barrier) Arrive(now flow.Cycle, warp, barrierID int) (releaseAt flow.Cycle, ok bool, rej *flow.Reject) {
	if !b.cfg.Enabled {
		b.stats.Arrivals++
		b.stats.ReleaseEvents++
		b.stats.WarpsReleased++
		b.released = append(b.released, Release{Warp: warp, BarrierID: barrierID, ReleasedAt: now})
		return now, true, nil
	}
	group, found := b.waiting[barrierID]
	if !found {
		group = make(map[int]flow.Cycle)
		b.waiting[barrierID] = group
	}
	if _, dup := group[warp]; dup {
		return 0, false, nil
	}
	group[warp] = now
	if len(group) < b.cfg.expected() {
		b.stats.Arrivals++
		return 0, false, nil
	}

	warps := make([]int, 0, len(group))
	for id := range group {
		warps = append(warps, id)
	}
	sort.Ints(warps)
	event := releaseGroup{barrierID: barrierID, warps: warps}
	for _, id := range warps {
		event.arrivedAt = append(event.arrivedAt, group[id])
	}
	// Zero-byte event: the release drains in the arrival cycle.
	ticket, reject := b.queue.TryIssue(now, event, 0)
	if reject != nil {
		delete(group, warp)
		b.stats.QueueRejects++
		return 0, false, reject
	}
	b.stats.Arrivals++
	delete(b.waiting, barrierID)
	return ticket.ReadyAt(), true, nil
}

// Tick drains matured release events, moving their warps to the
// released list and charging wait cycles.
func (b *Barrier) Tick(now flow.Cycle) {
	b.queue.Tick(now)
	b.queue.Drain(now, func(r flow.Result[releaseGroup]) {
		b.stats.ReleaseEvents++
		for i, warp := range r.Payload.warps {
			b.stats.WarpsReleased++
			wait := uint64(now - r.Payload.arrivedAt[i])
			b.stats.TotalScheduledWaitCycles += wait
			if wait > b.stats.MaxScheduledWaitCycles {
				b.stats.MaxScheduledWaitCycles = wait
			}
			b.released = append(b.released, Release{
				Warp:       warp,
				BarrierID:  r.Payload.barrierID,
				ReleasedAt: now,
			})
		}
	})
}

// ConsumeReleased returns and clears the released warps.
func (b *Barrier) ConsumeReleased() []Release {
	out := b.released
	b.released = nil
	return out
}

// Waiting counts warps currently stalled on barriers.
func (b *Barrier) Waiting() int {
	total := 0
	for _, group := range b.waiting {
		total += len(group)
	}
	return total
}

// Stats returns the accumulated counters.
func (b *Barrier) Stats() BarrierStats { return b.stats }
