// Package lsu models the load-store dispatch front end: four bounded
// admission queues (global load, global store, shared load, shared
// store) feeding one issue port. The issue port arbitrates in fixed
// priority order: shared loads, shared stores, global loads, global
// stores.
package lsu

import (
	"fmt"

	"github.com/hansungk/cyclotron/timing/flow"
)

// QueueKind selects one of the four admission queues.
type QueueKind int

const (
	GlobalLoad QueueKind = iota
	GlobalStore
	SharedLoad
	SharedStore

	numQueues
)

func (k QueueKind) String() string {
	switch k {
	case GlobalLoad:
		return "global_load"
	case GlobalStore:
		return "global_store"
	case SharedLoad:
		return "shared_load"
	case SharedStore:
		return "shared_store"
	default:
		return "unknown"
	}
}

// IsShared reports whether the queue targets shared memory.
func (k QueueKind) IsShared() bool {
	return k == SharedLoad || k == SharedStore
}

// IsLoad reports whether the queue carries loads.
func (k QueueKind) IsLoad() bool {
	return k == GlobalLoad || k == SharedLoad
}

// Kinds lists the queues in arbitration priority order.
func Kinds() []QueueKind {
	return []QueueKind{SharedLoad, SharedStore, GlobalLoad, GlobalStore}
}

// ResourceConfig bounds the shared LSU register resources.
type ResourceConfig struct {
	Address   int `json:"address"`
	StoreData int `json:"store_data"`
	LoadData  int `json:"load_data"`
}

// DefaultResourceConfig mirrors a small load-store unit register file.
func DefaultResourceConfig() ResourceConfig {
	return ResourceConfig{Address: 16, StoreData: 8, LoadData: 16}
}

// Config describes the four queues, the issue port, and the resources.
type Config struct {
	Enabled      bool              `json:"enabled"`
	GlobalLoad   flow.ServerConfig `json:"global_load"`
	GlobalStore  flow.ServerConfig `json:"global_store"`
	SharedLoad   flow.ServerConfig `json:"shared_load"`
	SharedStore  flow.ServerConfig `json:"shared_store"`
	Issue        flow.ServerConfig `json:"issue"`
	LinkCapacity int               `json:"link_capacity"`
	Resources    ResourceConfig    `json:"resources"`
}

// DefaultConfig sizes the queues asymmetrically: loads outnumber stores.
func DefaultConfig() Config {
	queue := func(capacity int) flow.ServerConfig {
		return flow.ServerConfig{
			BaseLatency:   0,
			BytesPerCycle: 1024,
			QueueCapacity: capacity,
		}
	}
	return Config{
		Enabled:     true,
		GlobalLoad:  queue(8),
		GlobalStore: queue(4),
		SharedLoad:  queue(4),
		SharedStore: queue(2),
		Issue: flow.ServerConfig{
			BaseLatency:         1,
			BytesPerCycle:       1024,
			QueueCapacity:       1,
			CompletionsPerCycle: 1,
		},
		LinkCapacity: 8,
		Resources:    DefaultResourceConfig(),
	}
}

func (c Config) queueConfig(kind QueueKind) flow.ServerConfig {
	switch kind {
	case GlobalLoad:
		return c.GlobalLoad
	case GlobalStore:
		return c.GlobalStore
	case SharedLoad:
		return c.SharedLoad
	default:
		return c.SharedStore
	}
}

// Validate checks every queue and the issue port.
func (c Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	for _, kind := range Kinds() {
		if err := c.queueConfig(kind).Validate(); err != nil {
			return fmt.Errorf("lsu %s queue: %w", kind, err)
		}
	}
	if err := c.Issue.Validate(); err != nil {
		return fmt.Errorf("lsu issue port: %w", err)
	}
	if c.LinkCapacity <= 0 {
		return fmt.Errorf("lsu link_capacity must be > 0, got %d", c.LinkCapacity)
	}
	if c.Resources.Address <= 0 || c.Resources.StoreData <= 0 || c.Resources.LoadData <= 0 {
		return fmt.Errorf("lsu resources must all be > 0, got %+v", c.Resources)
	}
	return nil
}

// Request is one memory instruction awaiting dispatch.
type Request struct {
	ID          uint64
	Warp        int
	Kind        QueueKind
	Addr        uint64
	Bytes       uint32
	ActiveLanes uint32
	LaneAddrs   []uint64
}

// Dispatch is one request leaving the issue port, ready for the
// shared- or global-memory subsystem.
type Dispatch struct {
	Request     Request
	ReadyAt     flow.Cycle
	CompletedAt flow.Cycle
}

// QueueStats counts one admission queue's activity.
type QueueStats struct {
	Issued           uint64
	QueueFullRejects uint64
	BusyRejects      uint64
}

// Stats aggregates per-queue and overall counters.
type Stats struct {
	Queues    [4]QueueStats
	Issued    uint64
	Completed uint64
}

// Queue returns the counters for one admission queue.
func (s Stats) Queue(kind QueueKind) QueueStats { return s.Queues[kind] }

type resources struct {
	cfg       ResourceConfig
	address   int
	storeData int
	loadData  int
}

func (r *resources) reserve(kind QueueKind) bool {
	if r.address >= r.cfg.Address {
		return false
	}
	if kind.IsLoad() {
		if r.loadData >= r.cfg.LoadData {
			return false
		}
	} else if r.storeData >= r.cfg.StoreData {
		return false
	}
	r.address++
	if kind.IsLoad() {
		r.loadData++
	} else {
		r.storeData++
	}
	return true
}

func (r *resources) release(kind QueueKind) {
	if r.address > 0 {
		r.address--
	}
	if kind.IsLoad() {
		if r.loadData > 0 {
			r.loadData--
		}
	} else if r.storeData > 0 {
		r.storeData--
	}
}

// LSU is the load-store dispatch stage.
type LSU struct {
	cfg   Config
	graph *flow.Graph[Request]

	queueNodes [numQueues]flow.NodeID
	issueNode  flow.NodeID

	res         resources
	dispatches  []Dispatch
	passthrough []Dispatch
	nextID      uint64
	stats       Stats
}

// New builds the dispatch graph.
func New(cfg Config) *LSU {
	l := &LSU{cfg: cfg, res: resources{cfg: cfg.Resources}}
	if !cfg.Enabled {
		return l
	}

	g := flow.NewGraph[Request]()
	l.graph = g
	l.issueNode = -1

	for _, kind := range Kinds() {
		l.queueNodes[kind] = g.AddNode(flow.NewServerNode(
			fmt.Sprintf("lsu_%s", kind),
			flow.NewServer[Request](cfg.queueConfig(kind))))
	}
	l.issueNode = g.AddNode(flow.NewServerNode(
		"lsu_issue", flow.NewServer[Request](cfg.Issue)))

	// Edge creation order is arbitration priority: the issue port
	// admits one request per cycle and edges deliver in order.
	for _, kind := range Kinds() {
		g.Connect(l.queueNodes[kind], l.issueNode,
			fmt.Sprintf("lsu_%s->issue", kind),
			flow.NewLink[Request](cfg.LinkCapacity))
	}
	return l
}

// Config returns the stage configuration.
func (l *LSU) Config() Config { return l.cfg }

// Enqueue classifies and admits one memory instruction.
func (l *LSU) Enqueue(now flow.Cycle, req Request) (flow.Ticket, *flow.Reject) {
	if req.ID == 0 {
		l.nextID++
		req.ID = l.nextID
	}

	if !l.cfg.Enabled {
		l.stats.Queues[req.Kind].Issued++
		l.stats.Issued++
		l.passthrough = append(l.passthrough, Dispatch{
			Request: req, ReadyAt: now, CompletedAt: now,
		})
		return flow.SyntheticTicket(now, now, req.Bytes), nil
	}

	if !l.res.reserve(req.Kind) {
		l.stats.Queues[req.Kind].QueueFullRejects++
		return flow.Ticket{}, &flow.Reject{
			Reason:  flow.QueueFull,
			RetryAt: now + 1,
		}
	}

	ticket, rej := l.graph.TryPut(l.queueNodes[req.Kind], now, req, req.Bytes)
	if rej != nil {
		l.res.release(req.Kind)
		switch rej.Reason {
		case flow.QueueFull:
			l.stats.Queues[req.Kind].QueueFullRejects++
		case flow.Busy:
			l.stats.Queues[req.Kind].BusyRejects++
		}
		rej.RetryAt = flow.NormalizeRetry(now, rej.RetryAt)
		return flow.Ticket{}, rej
	}

	l.stats.Queues[req.Kind].Issued++
	l.stats.Issued++
	return ticket, nil
}

// Tick advances the graph and collects dispatches from the issue port.
func (l *LSU) Tick(now flow.Cycle) {
	if !l.cfg.Enabled {
		l.dispatches = append(l.dispatches, l.passthrough...)
		l.stats.Completed += uint64(len(l.passthrough))
		l.passthrough = l.passthrough[:0]
		return
	}

	l.graph.Tick(now)
	l.graph.WithNode(l.issueNode, func(n flow.Node[Request]) {
		for {
			result, ok := n.TakeReady(now)
			if !ok {
				return
			}
			l.stats.Completed++
			l.dispatches = append(l.dispatches, Dispatch{
				Request:     result.Payload,
				ReadyAt:  result.Ticket.ReadyAt(),
				CompletedAt: now,
			})
		}
	})
}

// ConsumeDispatches returns and clears the requests that cleared the
// issue port this tick. The caller forwards them to SMEM or GMEM and
// releases the resources once the target accepts the work.
func (l *LSU) ConsumeDispatches() []Dispatch {
	out := l.dispatches
	l.dispatches = nil
	return out
}

// Release frees the register resources held by one dispatched request.
func (l *LSU) Release(kind QueueKind) {
	if !l.cfg.Enabled {
		return
	}
	l.res.release(kind)
}

// Outstanding counts requests still inside the dispatch stage.
func (l *LSU) Outstanding() int {
	if !l.cfg.Enabled {
		return len(l.passthrough)
	}
	return l.graph.Outstanding() + len(l.dispatches)
}

// Stats returns the accumulated counters.
func (l *LSU) Stats() Stats { return l.stats }
