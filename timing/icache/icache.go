// Package icache models instruction fetch timing: each fetch is
// classified hit or miss and then traverses a low-latency or
// high-latency timed path. Classification is deterministic for a given
// seed so runs are reproducible.
package icache

import (
	"fmt"

	"github.com/hansungk/cyclotron/timing/flow"
	"github.com/hansungk/cyclotron/timing/prob"
)

// AddrRange is a half-open [Lo, Hi) address interval.
type AddrRange struct {
	Lo uint64 `json:"lo"`
	Hi uint64 `json:"hi"`
}

// PolicyConfig controls hit/miss classification.
type PolicyConfig struct {
	// HitRate is the probability of a hit, applied per line address.
	HitRate float64 `json:"hit_rate"`
	// LineBytes is the fetch granule.
	LineBytes uint32 `json:"line_bytes"`
	// Seed perturbs the per-line decision hash.
	Seed uint64 `json:"seed"`
	// HitRanges, when non-empty, replaces the probabilistic policy:
	// an address hits iff it falls in one of the ranges.
	HitRanges []AddrRange `json:"hit_ranges,omitempty"`
}

// DefaultPolicyConfig returns a warm instruction cache.
func DefaultPolicyConfig() PolicyConfig {
	return PolicyConfig{
		HitRate:   0.98,
		LineBytes: 32,
		Seed:      0,
	}
}

// Validate fails fast on unusable policies.
func (c PolicyConfig) Validate() error {
	if c.LineBytes == 0 {
		return fmt.Errorf("line_bytes must be > 0")
	}
	if c.HitRate < 0 || c.HitRate > 1 {
		return fmt.Errorf("hit_rate must be in [0, 1], got %v", c.HitRate)
	}
	for _, r := range c.HitRanges {
		if r.Hi <= r.Lo {
			return fmt.Errorf("hit range [%#x, %#x) is empty", r.Lo, r.Hi)
		}
	}
	return nil
}

// LineAddr aligns an address down to the line granule.
func (c PolicyConfig) LineAddr(addr uint64) uint64 {
	line := uint64(c.LineBytes)
	return (addr / line) * line
}

func (c PolicyConfig) isHit(addr uint64) bool {
	if len(c.HitRanges) > 0 {
		for _, r := range c.HitRanges {
			if addr >= r.Lo && addr < r.Hi {
				return true
			}
		}
		return false
	}
	return prob.Decide(c.HitRate, c.LineAddr(addr)^c.Seed)
}

// Config configures the whole instruction cache stage.
type Config struct {
	Enabled bool             `json:"enabled"`
	Policy  PolicyConfig     `json:"policy"`
	Hit     flow.QueueConfig `json:"hit"`
	Miss    flow.QueueConfig `json:"miss"`
}

// DefaultConfig gives hits a one-cycle path and misses a long refill
// path with a smaller queue.
func DefaultConfig() Config {
	return Config{
		Enabled: true,
		Policy:  DefaultPolicyConfig(),
		Hit: flow.QueueConfig{
			Enabled: true,
			Server: flow.ServerConfig{
				BaseLatency: 0, BytesPerCycle: 32, QueueCapacity: 16,
			},
		},
		Miss: flow.QueueConfig{
			Enabled: true,
			Server: flow.ServerConfig{
				BaseLatency: 40, BytesPerCycle: 32, QueueCapacity: 8,
			},
		},
	}
}

// Validate checks the policy and both paths.
func (c Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if err := c.Policy.Validate(); err != nil {
		return fmt.Errorf("icache policy: %w", err)
	}
	if err := c.Hit.Validate(); err != nil {
		return fmt.Errorf("icache hit path: %w", err)
	}
	if err := c.Miss.Validate(); err != nil {
		return fmt.Errorf("icache miss path: %w", err)
	}
	return nil
}

// Fetch is one accepted instruction fetch.
type Fetch struct {
	Warp   int
	Addr   uint64
	Hit    bool
	Ticket flow.Ticket
}

// Completion is a fetch leaving the cache.
type Completion struct {
	Warp        int
	Addr        uint64
	Hit         bool
	CompletedAt flow.Cycle
}

// Stats counts instruction cache activity.
type Stats struct {
	Issued           uint64
	Completed        uint64
	Hits             uint64
	Misses           uint64
	QueueFullRejects uint64
	BusyRejects      uint64
}

type fetchPayload struct {
	warp int
	addr uint64
	hit  bool
}

// Cache is the instruction fetch timing stage.
type Cache struct {
	cfg   Config
	hit   *flow.Queue[fetchPayload]
	miss  *flow.Queue[fetchPayload]
	stats Stats
}

// New builds the stage from its configuration. A disabled cache still
// classifies fetches for statistics but both paths pass through.
func New(cfg Config) *Cache {
	hitCfg, missCfg := cfg.Hit, cfg.Miss
	if !cfg.Enabled {
		hitCfg.Enabled = false
		missCfg.Enabled = false
	}
	return &Cache{
		cfg:  cfg,
		hit:  flow.NewQueue[fetchPayload](hitCfg),
		miss: flow.NewQueue[fetchPayload](missCfg),
	}
}

// Fetch classifies one fetch and admits it to the matching path. The
// request size is one line.
func (c *Cache) Fetch(now flow.Cycle, warp int, addr uint64) (Fetch, *flow.Reject) {
	hit := c.cfg.Policy.isHit(addr)
	path := c.miss
	if hit {
		path = c.hit
	}

	payload := fetchPayload{warp: warp, addr: addr, hit: hit}
	ticket, rej := path.TryIssue(now, payload, c.cfg.Policy.LineBytes)
	if rej != nil {
		switch rej.Reason {
		case flow.QueueFull:
			c.stats.QueueFullRejects++
		case flow.Busy:
			c.stats.BusyRejects++
		}
		return Fetch{}, rej
	}

	c.stats.Issued++
	if hit {
		c.stats.Hits++
	} else {
		c.stats.Misses++
	}
	return Fetch{Warp: warp, Addr: addr, Hit: hit, Ticket: ticket}, nil
}

// Tick drains both paths, returning completions in hit-then-miss order.
func (c *Cache) Tick(now flow.Cycle) []Completion {
	var done []Completion
	collect := func(r flow.Result[fetchPayload]) {
		c.stats.Completed++
		done = append(done, Completion{
			Warp:        r.Payload.warp,
			Addr:        r.Payload.addr,
			Hit:         r.Payload.hit,
			CompletedAt: now,
		})
	}
	c.hit.Tick(now)
	c.hit.Drain(now, collect)
	c.miss.Tick(now)
	c.miss.Drain(now, collect)
	return done
}

// Outstanding is the number of in-flight fetches.
func (c *Cache) Outstanding() int {
	return c.hit.Outstanding() + c.miss.Outstanding()
}

// Stats returns the accumulated counters.
func (c *Cache) Stats() Stats { return c.stats }
