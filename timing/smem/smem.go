// Package smem models the shared-memory subsystem: a banked, subbanked
// storage array reached through a per-lane ingress and a crossbar. Lane
// accesses that collide on the same (bank, subbank) pair serialize; the
// conflict shape of every instruction is sampled for statistics before
// the accesses are issued.
package smem

import (
	"fmt"

	"github.com/hansungk/cyclotron/timing/flow"
)

// Config describes the shared-memory topology and per-stage timing.
type Config struct {
	Enabled        bool `json:"enabled"`
	NumLanes       int  `json:"num_lanes"`
	NumBanks       int  `json:"num_banks"`
	NumSubbanks    int  `json:"num_subbanks"`
	// WordBytes is the bank interleave granule.
	WordBytes uint32 `json:"word_bytes"`
	// DualPort doubles the effective throughput of every bank and
	// subbank (queue capacity, bytes per cycle, completions per
	// cycle), modeling a second access port on the same array.
	DualPort bool `json:"dual_port"`
	// SerializeCores forces all traffic through one shared
	// serialization stage between the crossbar and the subbanks.
	SerializeCores bool `json:"serialize_cores"`
	// LinkCapacity bounds every inter-stage buffer.
	LinkCapacity int `json:"link_capacity"`

	Lane     flow.ServerConfig `json:"lane"`
	Crossbar flow.ServerConfig `json:"crossbar"`
	Serial   flow.ServerConfig `json:"serial"`
	Subbank  flow.ServerConfig `json:"subbank"`
	Bank     flow.ServerConfig `json:"bank"`
}

// DefaultConfig returns a small banked array.
func DefaultConfig() Config {
	return Config{
		Enabled:      true,
		NumLanes:     4,
		NumBanks:     4,
		NumSubbanks:  2,
		WordBytes:    4,
		LinkCapacity: 32,
		Lane: flow.ServerConfig{
			BaseLatency: 0, BytesPerCycle: 64, QueueCapacity: 8,
		},
		Crossbar: flow.ServerConfig{
			BaseLatency: 1, BytesPerCycle: 32, QueueCapacity: 32,
		},
		Serial: flow.ServerConfig{
			BaseLatency: 0, BytesPerCycle: 64, QueueCapacity: 1,
			CompletionsPerCycle: 1,
		},
		Subbank: flow.ServerConfig{
			BaseLatency: 0, BytesPerCycle: 64, QueueCapacity: 16,
			CompletionsPerCycle: 1,
		},
		Bank: flow.ServerConfig{
			BaseLatency: 2, BytesPerCycle: 64, QueueCapacity: 32,
			CompletionsPerCycle: 1,
		},
	}
}

// Validate checks topology and per-stage configurations.
func (c Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.NumLanes <= 0 {
		return fmt.Errorf("num_lanes must be > 0, got %d", c.NumLanes)
	}
	if c.NumBanks <= 0 {
		return fmt.Errorf("num_banks must be > 0, got %d", c.NumBanks)
	}
	if c.NumSubbanks <= 0 {
		return fmt.Errorf("num_subbanks must be > 0, got %d", c.NumSubbanks)
	}
	if c.WordBytes == 0 {
		return fmt.Errorf("word_bytes must be > 0")
	}
	if c.LinkCapacity <= 0 {
		return fmt.Errorf("link_capacity must be > 0, got %d", c.LinkCapacity)
	}
	stages := map[string]flow.ServerConfig{
		"lane": c.Lane, "crossbar": c.Crossbar, "serial": c.Serial,
		"subbank": c.Subbank, "bank": c.Bank,
	}
	for name, stage := range stages {
		if err := stage.Validate(); err != nil {
			return fmt.Errorf("smem %s: %w", name, err)
		}
	}
	return nil
}

// Ports is the number of access ports on each bank and subbank.
func (c Config) Ports() int {
	if c.DualPort {
		return 2
	}
	return 1
}

func (c Config) portScaled(base flow.ServerConfig) flow.ServerConfig {
	if !c.DualPort {
		return base
	}
	base.QueueCapacity *= 2
	base.BytesPerCycle *= 2
	if base.CompletionsPerCycle > 0 {
		base.CompletionsPerCycle *= 2
	}
	return base
}

// Request is one shared-memory access, either a whole instruction (with
// LaneAddrs populated) or one (bank, subbank) group after splitting.
type Request struct {
	ID          uint64
	Warp        int
	Addr        uint64
	Bytes       uint32
	ActiveLanes uint32
	IsStore     bool
	Bank        int
	Subbank     int
	LaneAddrs   []uint64
}

// NewRequest builds a single-group request.
func NewRequest(warp int, bytes, activeLanes uint32, isStore bool, bank int) Request {
	return Request{
		Warp:        warp,
		Bytes:       bytes,
		ActiveLanes: activeLanes,
		IsStore:     isStore,
		Bank:        bank,
	}
}

// Completion is one request leaving its bank.
type Completion struct {
	Request       Request
	TicketReadyAt flow.Cycle
	CompletedAt   flow.Cycle
}

// Issue records one accepted request.
type Issue struct {
	RequestID uint64
	Ticket    flow.Ticket
}

// ConflictSample is the per-instruction bank-conflict shape.
type ConflictSample struct {
	ActiveLanes    uint32
	UniqueBanks    uint32
	UniqueSubbanks uint32
	ConflictLanes  uint32
}

// ConflictSummary accumulates samples across instructions.
type ConflictSummary struct {
	Instructions   uint64
	ActiveLanes    uint64
	ConflictLanes  uint64
	UniqueBanks    uint64
	UniqueSubbanks uint64
}

func (s *ConflictSummary) add(sample ConflictSample) {
	s.Instructions++
	s.ActiveLanes += uint64(sample.ActiveLanes)
	s.ConflictLanes += uint64(sample.ConflictLanes)
	s.UniqueBanks += uint64(sample.UniqueBanks)
	s.UniqueSubbanks += uint64(sample.UniqueSubbanks)
}

// UtilSummary accumulates per-cycle occupancy samples.
type UtilSummary struct {
	BankBusySum uint64
	BankTotal   uint64
	LaneBusySum uint64
	LaneTotal   uint64
}

// Stats counts shared-memory activity.
type Stats struct {
	Issued           uint64
	Completed        uint64
	ReadIssued       uint64
	ReadCompleted    uint64
	WriteIssued      uint64
	WriteCompleted   uint64
	QueueFullRejects uint64
	BusyRejects      uint64
	BytesIssued      uint64
	BytesCompleted   uint64
	Inflight         uint64
	MaxInflight      uint64
	Conflicts        ConflictSummary
	Util             UtilSummary
}

// Smem is the shared-memory timing stage.
type Smem struct {
	cfg   Config
	graph *flow.Graph[Request]

	laneNodes    []flow.NodeID
	crossbar     flow.NodeID
	serial       flow.NodeID
	hasSerial    bool
	serialCap    int
	subbankNodes [][]flow.NodeID
	bankNodes    []flow.NodeID

	completions []Completion
	passthrough []Completion
	nextID      uint64
	stats       Stats
}

// New builds the subsystem graph from its configuration.
func New(cfg Config) *Smem {
	s := &Smem{cfg: cfg}
	if !cfg.Enabled {
		return s
	}

	g := flow.NewGraph[Request]()
	s.graph = g

	for lane := 0; lane < cfg.NumLanes; lane++ {
		id := g.AddNode(flow.NewServerNode(
			fmt.Sprintf("smem_lane_%d", lane),
			flow.NewServer[Request](cfg.Lane)))
		s.laneNodes = append(s.laneNodes, id)
	}

	s.crossbar = g.AddNode(flow.NewServerNode(
		"smem_crossbar", flow.NewServer[Request](cfg.Crossbar)))
	for _, lane := range s.laneNodes {
		g.Connect(lane, s.crossbar, "smem_lane->xbar",
			flow.NewLink[Request](cfg.LinkCapacity))
	}

	fanoutSrc := s.crossbar
	if cfg.SerializeCores {
		s.serial = g.AddNode(flow.NewServerNode(
			"smem_serial", flow.NewServer[Request](cfg.Serial)))
		s.hasSerial = true
		s.serialCap = cfg.Serial.QueueCapacity
		g.Connect(s.crossbar, s.serial, "smem_xbar->serial",
			flow.NewLink[Request](cfg.LinkCapacity))
		fanoutSrc = s.serial
	}

	subbankCfg := cfg.portScaled(cfg.Subbank)
	bankCfg := cfg.portScaled(cfg.Bank)

	s.subbankNodes = make([][]flow.NodeID, cfg.NumBanks)
	for bank := 0; bank < cfg.NumBanks; bank++ {
		bankNode := g.AddNode(flow.NewServerNode(
			fmt.Sprintf("smem_bank_%d", bank),
			flow.NewServer[Request](bankCfg)))
		s.bankNodes = append(s.bankNodes, bankNode)

		for sub := 0; sub < cfg.NumSubbanks; sub++ {
			subNode := g.AddNode(flow.NewServerNode(
				fmt.Sprintf("smem_subbank_%d_%d", bank, sub),
				flow.NewServer[Request](subbankCfg)))
			s.subbankNodes[bank] = append(s.subbankNodes[bank], subNode)

			bankIdx, subIdx := bank, sub
			numBanks, numSubs := cfg.NumBanks, cfg.NumSubbanks
			g.ConnectFiltered(fanoutSrc, subNode,
				fmt.Sprintf("smem->subbank_%d_%d", bank, sub),
				flow.NewLink[Request](cfg.LinkCapacity),
				func(req *Request) bool {
					return req.Bank%numBanks == bankIdx &&
						req.Subbank%numSubs == subIdx
				})
			g.Connect(subNode, bankNode,
				fmt.Sprintf("smem_subbank_%d_%d->bank", bank, sub),
				flow.NewLink[Request](cfg.LinkCapacity))
		}
	}

	return s
}

// Config returns the subsystem configuration.
func (s *Smem) Config() Config { return s.cfg }

func (s *Smem) assignID(req *Request) {
	if req.ID == 0 {
		s.nextID++
		req.ID = s.nextID
	} else if req.ID > s.nextID {
		s.nextID = req.ID
	}
}

// Issue admits one (already split) request at its lane ingress.
func (s *Smem) Issue(now flow.Cycle, req Request) (Issue, *flow.Reject) {
	s.assignID(&req)

	if !s.cfg.Enabled {
		ticket := flow.SyntheticTicket(now, now, req.Bytes)
		s.recordIssue(req)
		s.passthrough = append(s.passthrough, Completion{
			Request:       req,
			TicketReadyAt: now,
			CompletedAt:   now,
		})
		return Issue{RequestID: req.ID, Ticket: ticket}, nil
	}

	// The serialization stage is an admission gate: once its queue is
	// full, upstream traffic must not pile into the lanes.
	if s.hasSerial {
		var outstanding int
		s.graph.WithNode(s.serial, func(n flow.Node[Request]) {
			outstanding = n.Outstanding()
		})
		if outstanding >= s.serialCap {
			s.stats.QueueFullRejects++
			return Issue{}, &flow.Reject{
				Reason:   flow.QueueFull,
				RetryAt:  now + 1,
				Capacity: s.serialCap,
			}
		}
	}

	lane := s.laneNodes[absInt(req.Warp)%len(s.laneNodes)]
	ticket, rej := s.graph.TryPut(lane, now, req, req.Bytes)
	if rej != nil {
		switch rej.Reason {
		case flow.QueueFull:
			s.stats.QueueFullRejects++
		case flow.Busy:
			s.stats.BusyRejects++
		}
		rej.RetryAt = flow.NormalizeRetry(now, rej.RetryAt)
		return Issue{}, rej
	}

	s.recordIssue(req)
	return Issue{RequestID: req.ID, Ticket: ticket}, nil
}

func (s *Smem) recordIssue(req Request) {
	s.stats.Issued++
	s.stats.BytesIssued += uint64(req.Bytes)
	if req.IsStore {
		s.stats.WriteIssued++
	} else {
		s.stats.ReadIssued++
	}
	s.stats.Inflight++
	if s.stats.Inflight > s.stats.MaxInflight {
		s.stats.MaxInflight = s.stats.Inflight
	}
}

// RecordConflict folds one instruction's conflict sample into the
// summary. Call once per instruction, before issuing its split groups.
func (s *Smem) RecordConflict(sample ConflictSample) {
	s.stats.Conflicts.add(sample)
}

// Tick advances the internal graph and collects completions from the
// bank nodes.
func (s *Smem) Tick(now flow.Cycle) {
	if !s.cfg.Enabled {
		for _, done := range s.passthrough {
			s.recordComplete(done)
			s.completions = append(s.completions, done)
		}
		s.passthrough = s.passthrough[:0]
		return
	}

	s.graph.Tick(now)
	for _, bankNode := range s.bankNodes {
		s.graph.WithNode(bankNode, func(n flow.Node[Request]) {
			for {
				result, ok := n.TakeReady(now)
				if !ok {
					return
				}
				done := Completion{
					Request:       result.Payload,
					TicketReadyAt: result.Ticket.ReadyAt(),
					CompletedAt:   now,
				}
				s.recordComplete(done)
				s.completions = append(s.completions, done)
			}
		})
	}
}

func (s *Smem) recordComplete(done Completion) {
	s.stats.Completed++
	s.stats.BytesCompleted += uint64(done.Request.Bytes)
	if done.Request.IsStore {
		s.stats.WriteCompleted++
	} else {
		s.stats.ReadCompleted++
	}
	if s.stats.Inflight > 0 {
		s.stats.Inflight--
	}
}

// SampleUtilization records one cycle's occupancy snapshot.
func (s *Smem) SampleUtilization() {
	if !s.cfg.Enabled {
		return
	}
	ports := uint64(s.cfg.Ports())
	for _, bankNode := range s.bankNodes {
		s.graph.WithNode(bankNode, func(n flow.Node[Request]) {
			busy := uint64(n.Outstanding())
			if busy > ports {
				busy = ports
			}
			s.stats.Util.BankBusySum += busy
		})
	}
	s.stats.Util.BankTotal += uint64(s.cfg.NumBanks) * ports
	for _, laneNode := range s.laneNodes {
		s.graph.WithNode(laneNode, func(n flow.Node[Request]) {
			if n.Outstanding() > 0 {
				s.stats.Util.LaneBusySum++
			}
		})
	}
	s.stats.Util.LaneTotal += uint64(s.cfg.NumLanes)
}

// Completions exposes the drained completion list; callers consume and
// truncate it.
func (s *Smem) Completions() []Completion { return s.completions }

// ConsumeCompletions returns and clears the pending completions.
func (s *Smem) ConsumeCompletions() []Completion {
	done := s.completions
	s.completions = nil
	return done
}

// Outstanding counts requests still inside the subsystem.
func (s *Smem) Outstanding() int {
	if !s.cfg.Enabled {
		return len(s.passthrough)
	}
	return s.graph.Outstanding()
}

// Stats returns the accumulated counters.
func (s *Smem) Stats() Stats { return s.stats }

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
