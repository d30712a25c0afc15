// Package sched holds the per-core warp scheduler and barrier unit.
package sched

import "fmt"

// WarpState is the lifecycle state of one warp.
type WarpState int

const (
	Active WarpState = iota
	Eligible
	Issued
	StalledStructural
	StalledBarrier
	Finished
)

func (s WarpState) String() string {
	switch s {
	case Active:
		return "active"
	case Eligible:
		return "eligible"
	case Issued:
		return "issued"
	case StalledStructural:
		return "stalled_structural"
	case StalledBarrier:
		return "stalled_barrier"
	case Finished:
		return "finished"
	default:
		return "unknown"
	}
}

// Warp is the scheduler's view of one warp.
type Warp struct {
	ID         int
	ActiveMask uint64
	PC         uint64
	State      WarpState
}

// SchedulerConfig configures the issue stage.
type SchedulerConfig struct {
	Enabled    bool `json:"enabled"`
	NumWarps   int  `json:"num_warps"`
	IssueWidth int  `json:"issue_width"`
}

// DefaultSchedulerConfig issues one warp per cycle out of eight.
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{Enabled: true, NumWarps: 8, IssueWidth: 1}
}

// Validate checks the scheduler shape.
func (c SchedulerConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.NumWarps <= 0 {
		return fmt.Errorf("sched: num_warps must be positive, got %d", c.NumWarps)
	}
	if c.IssueWidth <= 0 {
		return fmt.Errorf("sched: issue_width must be positive, got %d", c.IssueWidth)
	}
	return nil
}

// SchedulerStats accumulates per-cycle occupancy sums. Divide each sum
// by Cycles for the average warp population in that state.
type SchedulerStats struct {
	Cycles          uint64
	ActiveWarpsSum  uint64
	EligibleWarpsSum uint64
	IssuedWarpsSum  uint64
}

// Scheduler grants issue slots round-robin, starting each cycle after
// the last warp granted on the previous one.
type Scheduler struct {
	cfg    SchedulerConfig
	cursor int
	stats  SchedulerStats
}

// NewScheduler builds a scheduler.
func NewScheduler(cfg SchedulerConfig) *Scheduler {
	return &Scheduler{cfg: cfg}
}

// Select picks which eligible warps may issue this cycle. It returns a
// grant mask the same length as eligible. A disabled scheduler grants
// every eligible warp.
func (s *Scheduler) Select(active, eligible []bool) []bool {
	grants := make([]bool, len(eligible))
	s.stats.Cycles++
	for i := range eligible {
		if i < len(active) && active[i] {
			s.stats.ActiveWarpsSum++
		}
		if eligible[i] {
			s.stats.EligibleWarpsSum++
		}
	}
	if !s.cfg.Enabled {
		copy(grants, eligible)
		for _, g := range grants {
			if g {
				s.stats.IssuedWarpsSum++
			}
		}
		return grants
	}
	base := s.cursor
	granted := 0
	for step := 0; step < len(eligible) && granted < s.cfg.IssueWidth; step++ {
		idx := (base + step) % len(eligible)
		if !eligible[idx] {
			continue
		}
		grants[idx] = true
		granted++
		s.stats.IssuedWarpsSum++
		s.cursor = (idx + 1) % len(eligible)
	}
	return grants
}

// Stats returns the accumulated counters.
func (s *Scheduler) Stats() SchedulerStats { return s.stats }
