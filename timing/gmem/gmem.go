// Package gmem models the global-memory hierarchy: an L0 per core in
// front of a banked L1 and L2, with MSHR-based miss coalescing at every
// level and a DRAM node at the bottom. Requests traverse a flow graph
// whose per-level hit and writeback fields, assigned at issue, steer
// them down the hit or miss path.
package gmem

import (
	"fmt"

	"github.com/hansungk/cyclotron/timing/flow"
	"github.com/hansungk/cyclotron/timing/prob"
)

// NodeConfig holds the service parameters of every stage in the
// hierarchy graph.
type NodeConfig struct {
	Coalescer   flow.ServerConfig `json:"coalescer"`
	L0FlushGate flow.ServerConfig `json:"l0_flush_gate"`
	L0Tag       flow.ServerConfig `json:"l0_tag"`
	L0Data      flow.ServerConfig `json:"l0_data"`
	L0Mshr      flow.ServerConfig `json:"l0_mshr"`
	L1FlushGate flow.ServerConfig `json:"l1_flush_gate"`
	L1Tag       flow.ServerConfig `json:"l1_tag"`
	L1Data      flow.ServerConfig `json:"l1_data"`
	L1Mshr      flow.ServerConfig `json:"l1_mshr"`
	L1Refill    flow.ServerConfig `json:"l1_refill"`
	L1Writeback flow.ServerConfig `json:"l1_writeback"`
	L2Tag       flow.ServerConfig `json:"l2_tag"`
	L2Data      flow.ServerConfig `json:"l2_data"`
	L2Mshr      flow.ServerConfig `json:"l2_mshr"`
	L2Refill    flow.ServerConfig `json:"l2_refill"`
	L2Writeback flow.ServerConfig `json:"l2_writeback"`
	Dram        flow.ServerConfig `json:"dram"`
	ReturnPath  flow.ServerConfig `json:"return_path"`
}

// DefaultNodeConfig mirrors a short-pipeline L0, a slower banked L1/L2,
// and a high-latency DRAM with one fill completing per cycle.
func DefaultNodeConfig() NodeConfig {
	return NodeConfig{
		Coalescer:   flow.ServerConfig{BaseLatency: 1, BytesPerCycle: 8, QueueCapacity: 16},
		L0FlushGate: flow.ServerConfig{BaseLatency: 0, BytesPerCycle: 64, QueueCapacity: 8},
		L0Tag:       flow.ServerConfig{BaseLatency: 1, BytesPerCycle: 64, QueueCapacity: 8, CompletionsPerCycle: 2},
		L0Data:      flow.ServerConfig{BaseLatency: 2, BytesPerCycle: 64, QueueCapacity: 8, CompletionsPerCycle: 2},
		L0Mshr:      flow.ServerConfig{BaseLatency: 1, BytesPerCycle: 64, QueueCapacity: 8},
		L1FlushGate: flow.ServerConfig{BaseLatency: 0, BytesPerCycle: 64, QueueCapacity: 8},
		L1Tag:       flow.ServerConfig{BaseLatency: 2, BytesPerCycle: 64, QueueCapacity: 16, CompletionsPerCycle: 2},
		L1Data:      flow.ServerConfig{BaseLatency: 6, BytesPerCycle: 64, QueueCapacity: 16, CompletionsPerCycle: 2},
		L1Mshr:      flow.ServerConfig{BaseLatency: 1, BytesPerCycle: 64, QueueCapacity: 8},
		L1Refill:    flow.ServerConfig{BaseLatency: 4, BytesPerCycle: 32, QueueCapacity: 16},
		L1Writeback: flow.ServerConfig{BaseLatency: 2, BytesPerCycle: 32, QueueCapacity: 8},
		L2Tag:       flow.ServerConfig{BaseLatency: 4, BytesPerCycle: 64, QueueCapacity: 16, CompletionsPerCycle: 2},
		L2Data:      flow.ServerConfig{BaseLatency: 6, BytesPerCycle: 64, QueueCapacity: 16, CompletionsPerCycle: 2},
		L2Mshr:      flow.ServerConfig{BaseLatency: 1, BytesPerCycle: 64, QueueCapacity: 16},
		L2Refill:    flow.ServerConfig{BaseLatency: 8, BytesPerCycle: 32, QueueCapacity: 16},
		L2Writeback: flow.ServerConfig{BaseLatency: 4, BytesPerCycle: 32, QueueCapacity: 8},
		Dram:        flow.ServerConfig{BaseLatency: 200, BytesPerCycle: 32, QueueCapacity: 64, CompletionsPerCycle: 1},
		ReturnPath:  flow.ServerConfig{BaseLatency: 0, BytesPerCycle: 1024, QueueCapacity: 128},
	}
}

// ZeroedNodeConfig is a compact, near-zero-latency shape used by tests
// that care about routing and conservation rather than timing.
func ZeroedNodeConfig() NodeConfig {
	cfg := DefaultNodeConfig()
	servers := []*flow.ServerConfig{
		&cfg.Coalescer, &cfg.L0FlushGate, &cfg.L0Tag, &cfg.L0Data,
		&cfg.L0Mshr, &cfg.L1FlushGate, &cfg.L1Tag, &cfg.L1Data,
		&cfg.L1Mshr, &cfg.L1Refill, &cfg.L1Writeback, &cfg.L2Tag,
		&cfg.L2Data, &cfg.L2Mshr, &cfg.L2Refill, &cfg.L2Writeback,
		&cfg.Dram, &cfg.ReturnPath,
	}
	for _, sc := range servers {
		sc.BaseLatency = 0
		sc.BytesPerCycle = 1024
		sc.QueueCapacity = 8
		sc.CompletionsPerCycle = 0
	}
	return cfg
}

// Config configures the hierarchy.
type Config struct {
	Enabled     bool         `json:"enabled"`
	LinkEntries int          `json:"link_entries"`
	Nodes       NodeConfig   `json:"nodes"`
	Policy      PolicyConfig `json:"policy"`
}

// DefaultConfig returns the full default hierarchy.
func DefaultConfig() Config {
	return Config{
		Enabled:     true,
		LinkEntries: 16,
		Nodes:       DefaultNodeConfig(),
		Policy:      DefaultPolicyConfig(),
	}
}

// Validate checks every node and the policy.
func (c Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.LinkEntries <= 0 {
		return fmt.Errorf("gmem: link_entries must be positive, got %d", c.LinkEntries)
	}
	servers := []struct {
		name string
		cfg  flow.ServerConfig
	}{
		{"coalescer", c.Nodes.Coalescer},
		{"l0_flush_gate", c.Nodes.L0FlushGate},
		{"l0_tag", c.Nodes.L0Tag},
		{"l0_data", c.Nodes.L0Data},
		{"l0_mshr", c.Nodes.L0Mshr},
		{"l1_flush_gate", c.Nodes.L1FlushGate},
		{"l1_tag", c.Nodes.L1Tag},
		{"l1_data", c.Nodes.L1Data},
		{"l1_mshr", c.Nodes.L1Mshr},
		{"l1_refill", c.Nodes.L1Refill},
		{"l1_writeback", c.Nodes.L1Writeback},
		{"l2_tag", c.Nodes.L2Tag},
		{"l2_data", c.Nodes.L2Data},
		{"l2_mshr", c.Nodes.L2Mshr},
		{"l2_refill", c.Nodes.L2Refill},
		{"l2_writeback", c.Nodes.L2Writeback},
		{"dram", c.Nodes.Dram},
		{"return_path", c.Nodes.ReturnPath},
	}
	for _, s := range servers {
		if err := s.cfg.Validate(); err != nil {
			return fmt.Errorf("gmem: node %s: %w", s.name, err)
		}
	}
	return c.Policy.Validate()
}

// Gmem is the per-core view of the global-memory hierarchy.
type Gmem struct {
	cfg   Config
	graph *flow.Graph[Request]

	ingress    flow.NodeID
	returnNode flow.NodeID

	l0Tags *tagArray
	l1Tags *tagArray
	l2Tags *tagArray

	l0Mshr  *mshrTable
	l1Mshrs []*mshrTable
	l2Mshrs []*mshrTable

	nextID      uint64
	completions []Completion
	stats       Stats
}

// New builds the hierarchy graph.
func New(cfg Config) *Gmem {
	g := &Gmem{cfg: cfg, graph: flow.NewGraph[Request]()}
	if !cfg.Enabled {
		return g
	}
	policy := cfg.Policy
	if policy.AddressMode {
		g.l0Tags = newTagArray(policy.L0Sets, policy.L0Ways, policy.L0LineBytes)
		g.l1Tags = newTagArray(policy.L1Sets, policy.L1Ways, policy.L1LineBytes)
		g.l2Tags = newTagArray(policy.L2Sets, policy.L2Ways, policy.L2LineBytes)
	}

	g.l0Mshr = newMshrTable(cfg.Nodes.L0Mshr.QueueCapacity)
	for bank := 0; bank < policy.L1Banks; bank++ {
		g.l1Mshrs = append(g.l1Mshrs, newMshrTable(cfg.Nodes.L1Mshr.QueueCapacity))
	}
	for bank := 0; bank < policy.L2Banks; bank++ {
		g.l2Mshrs = append(g.l2Mshrs, newMshrTable(cfg.Nodes.L2Mshr.QueueCapacity))
	}

	g.build()
	return g
}

func (g *Gmem) build() {
	nodes := g.cfg.Nodes
	add := func(name string, sc flow.ServerConfig) flow.NodeID {
		return g.graph.AddNode(flow.NewServerNode(name, flow.NewServer[Request](sc)))
	}
	link := func() *flow.Link[Request] {
		return flow.NewLink[Request](g.cfg.LinkEntries)
	}

	g.ingress = add("coalescer", nodes.Coalescer)
	l0Flush := add("l0_flush_gate", nodes.L0FlushGate)
	l0Tag := add("l0_tag", nodes.L0Tag)
	l0Data := add("l0_data", nodes.L0Data)
	l0Mshr := add("l0_mshr", nodes.L0Mshr)
	l1Flush := add("l1_flush_gate", nodes.L1FlushGate)

	l1Banks := g.cfg.Policy.L1Banks
	l2Banks := g.cfg.Policy.L2Banks
	l1Tag := make([]flow.NodeID, l1Banks)
	l1Data := make([]flow.NodeID, l1Banks)
	l1Mshr := make([]flow.NodeID, l1Banks)
	l1Refill := make([]flow.NodeID, l1Banks)
	l1Wb := make([]flow.NodeID, l1Banks)
	for b := 0; b < l1Banks; b++ {
		l1Tag[b] = add(fmt.Sprintf("l1_tag_%d", b), nodes.L1Tag)
		l1Data[b] = add(fmt.Sprintf("l1_data_%d", b), nodes.L1Data)
		l1Mshr[b] = add(fmt.Sprintf("l1_mshr_%d", b), nodes.L1Mshr)
		l1Refill[b] = add(fmt.Sprintf("l1_refill_%d", b), nodes.L1Refill)
		l1Wb[b] = add(fmt.Sprintf("l1_wb_%d", b), nodes.L1Writeback)
	}
	l2Tag := make([]flow.NodeID, l2Banks)
	l2Data := make([]flow.NodeID, l2Banks)
	l2Mshr := make([]flow.NodeID, l2Banks)
	l2Refill := make([]flow.NodeID, l2Banks)
	l2Wb := make([]flow.NodeID, l2Banks)
	for b := 0; b < l2Banks; b++ {
		l2Tag[b] = add(fmt.Sprintf("l2_tag_%d", b), nodes.L2Tag)
		l2Data[b] = add(fmt.Sprintf("l2_data_%d", b), nodes.L2Data)
		l2Mshr[b] = add(fmt.Sprintf("l2_mshr_%d", b), nodes.L2Mshr)
		l2Refill[b] = add(fmt.Sprintf("l2_refill_%d", b), nodes.L2Refill)
		l2Wb[b] = add(fmt.Sprintf("l2_wb_%d", b), nodes.L2Writeback)
	}
	dram := add("dram", nodes.Dram)
	g.returnNode = add("return_path", nodes.ReturnPath)

	g.graph.Connect(g.ingress, l0Flush, "coalescer->l0_flush", link())

	g.graph.ConnectFiltered(l0Flush, g.returnNode, "l0_flush->return", link(),
		func(r *Request) bool { return r.Kind == FlushL0 })
	g.graph.ConnectFiltered(l0Flush, l1Flush, "l0_flush->l1_flush", link(),
		func(r *Request) bool { return r.Kind == FlushL1 })
	g.graph.ConnectFiltered(l0Flush, l0Tag, "l0_flush->l0_tag", link(),
		func(r *Request) bool { return r.Kind.IsMem() })

	g.graph.ConnectFiltered(l0Tag, l0Data, "l0_tag->l0_hit", link(),
		func(r *Request) bool { return r.L0Hit })
	g.graph.ConnectFiltered(l0Tag, l0Mshr, "l0_tag->l0_mshr", link(),
		func(r *Request) bool { return !r.L0Hit })
	g.graph.Connect(l0Data, g.returnNode, "l0_hit->return", link())
	g.graph.Connect(l0Mshr, l1Flush, "l0_mshr->l1_flush", link())

	g.graph.ConnectFiltered(l1Flush, g.returnNode, "l1_flush->return", link(),
		func(r *Request) bool { return r.Kind == FlushL1 })
	for b := 0; b < l1Banks; b++ {
		bank := b
		g.graph.ConnectFiltered(l1Flush, l1Tag[b],
			fmt.Sprintf("l1_flush->l1_tag_%d", b), link(),
			func(r *Request) bool { return r.Kind.IsMem() && r.L1Bank == bank })

		g.graph.ConnectFiltered(l1Tag[b], l1Data[b],
			fmt.Sprintf("l1_tag_%d->l1_hit_%d", b, b), link(),
			func(r *Request) bool { return r.L1Hit })
		g.graph.ConnectFiltered(l1Tag[b], l1Mshr[b],
			fmt.Sprintf("l1_tag_%d->l1_mshr_%d", b, b), link(),
			func(r *Request) bool { return !r.L1Hit })
		g.graph.Connect(l1Data[b], g.returnNode,
			fmt.Sprintf("l1_hit_%d->return", b), link())

		g.graph.ConnectFiltered(l1Mshr[b], l1Wb[b],
			fmt.Sprintf("l1_mshr_%d->l1_wb_%d", b, b), link(),
			func(r *Request) bool { return r.L1Writeback })
		for c := 0; c < l2Banks; c++ {
			l2bank := c
			g.graph.ConnectFiltered(l1Mshr[b], l2Tag[c],
				fmt.Sprintf("l1_mshr_%d->l2_tag_%d", b, c), link(),
				func(r *Request) bool { return !r.L1Writeback && r.L2Bank == l2bank })
			g.graph.ConnectFiltered(l1Wb[b], l2Tag[c],
				fmt.Sprintf("l1_wb_%d->l2_tag_%d", b, c), link(),
				func(r *Request) bool { return r.L2Bank == l2bank })
		}
		g.graph.Connect(l1Refill[b], g.returnNode,
			fmt.Sprintf("l1_refill_%d->return", b), link())
	}

	for c := 0; c < l2Banks; c++ {
		g.graph.ConnectFiltered(l2Tag[c], l2Data[c],
			fmt.Sprintf("l2_tag_%d->l2_hit_%d", c, c), link(),
			func(r *Request) bool { return r.L2Hit })
		g.graph.ConnectFiltered(l2Tag[c], l2Mshr[c],
			fmt.Sprintf("l2_tag_%d->l2_mshr_%d", c, c), link(),
			func(r *Request) bool { return !r.L2Hit })

		g.graph.ConnectFiltered(l2Mshr[c], l2Wb[c],
			fmt.Sprintf("l2_mshr_%d->l2_wb_%d", c, c), link(),
			func(r *Request) bool { return r.L2Writeback })
		g.graph.ConnectFiltered(l2Mshr[c], dram,
			fmt.Sprintf("l2_mshr_%d->dram", c), link(),
			func(r *Request) bool { return !r.L2Writeback })
		g.graph.Connect(l2Wb[c], dram,
			fmt.Sprintf("l2_wb_%d->dram", c), link())

		for b := 0; b < l1Banks; b++ {
			bank := b
			g.graph.ConnectFiltered(l2Data[c], l1Refill[b],
				fmt.Sprintf("l2_hit_%d->l1_refill_%d", c, b), link(),
				func(r *Request) bool { return r.L1Bank == bank })
			g.graph.ConnectFiltered(l2Refill[c], l1Refill[b],
				fmt.Sprintf("l2_refill_%d->l1_refill_%d", c, b), link(),
				func(r *Request) bool { return r.L1Bank == bank })
		}
	}

	for c := 0; c < l2Banks; c++ {
		l2bank := c
		g.graph.ConnectFiltered(dram, l2Refill[c],
			fmt.Sprintf("dram->l2_refill_%d", c), link(),
			func(r *Request) bool { return r.L2Bank == l2bank })
	}
}

// classify fills in the per-level hit, writeback, and bank fields.
func (g *Gmem) classify(req *Request) {
	policy := g.cfg.Policy
	l0Line := policy.l0Line(req.Addr)
	l1Line := policy.l1Line(req.Addr)
	l2Line := policy.l2Line(req.Addr)

	req.LineAddr = l2Line
	req.L1Bank = policy.l1BankOf(l1Line)
	req.L2Bank = policy.l2BankOf(l2Line)

	if policy.AddressMode {
		req.L0Hit = g.l0Tags.probe(l0Line)
		if !req.L0Hit {
			req.L1Hit = g.l1Tags.probe(l1Line)
			if !req.L1Hit {
				req.L2Hit = g.l2Tags.probe(l2Line)
			}
		}
	} else {
		req.L0Hit = prob.Decide(policy.L0HitRate, l0Line^policy.Seed^l0HitSalt)
		if !req.L0Hit {
			req.L1Hit = prob.Decide(policy.L1HitRate, l1Line^policy.Seed^l1HitSalt)
			if !req.L1Hit {
				req.L2Hit = prob.Decide(policy.L2HitRate, l2Line^policy.Seed^l2HitSalt)
			}
		}
	}

	if !req.L0Hit && !req.L1Hit {
		req.L1Writeback = prob.Decide(policy.L1WritebackRate, l1Line^policy.Seed^l1WritebackSalt)
		if !req.L2Hit {
			req.L2Writeback = prob.Decide(policy.L2WritebackRate, l2Line^policy.Seed^l2WritebackSalt)
		}
	}

	g.stats.L0.Accesses++
	if req.L0Hit {
		g.stats.L0.Hits++
		return
	}
	g.stats.L1.Accesses++
	if req.L1Hit {
		g.stats.L1.Hits++
		return
	}
	g.stats.L2.Accesses++
	if req.L2Hit {
		g.stats.L2.Hits++
	}
	if req.L1Writeback {
		g.stats.Writebacks++
	}
	if req.L2Writeback {
		g.stats.Writebacks++
	}
}

func (g *Gmem) assignID(req *Request) {
	if req.ID == 0 {
		g.nextID++
		req.ID = g.nextID
	} else if req.ID > g.nextID {
		g.nextID = req.ID
	}
}

func (g *Gmem) mshrReject(now flow.Cycle) *flow.Reject {
	g.stats.QueueFullRejects++
	g.stats.MshrRejects++
	return &flow.Reject{Reason: flow.QueueFull, RetryAt: now + 1}
}

func (g *Gmem) issueToGraph(now flow.Cycle, req Request) (Issue, *flow.Reject) {
	ticket, rej := g.graph.TryPut(g.ingress, now, req, req.Bytes)
	if rej != nil {
		rej.RetryAt = flow.NormalizeRetry(now, rej.RetryAt)
		switch rej.Reason {
		case flow.QueueFull:
			g.stats.QueueFullRejects++
		case flow.Busy:
			g.stats.BusyRejects++
		}
		return Issue{}, rej
	}
	g.stats.recordIssue(req.Bytes)
	return Issue{RequestID: req.ID, Ticket: ticket}, nil
}

func (g *Gmem) issueMerge(now, readyAt flow.Cycle, req Request) Issue {
	g.stats.recordIssue(req.Bytes)
	g.stats.MshrMerges++
	return Issue{
		RequestID: req.ID,
		Ticket:    flow.SyntheticTicket(now, readyAt, req.Bytes),
	}
}

// Issue admits one request into the hierarchy. Misses allocate or join
// an MSHR entry at the deepest missing level before entering the graph;
// a merged request gets a synthetic ticket tied to the tracked fill and
// completes when that fill drains. Any rejection rolls back MSHR
// entries created on the way.
func (g *Gmem) Issue(now flow.Cycle, req Request) (Issue, *flow.Reject) {
	g.assignID(&req)
	req.IssuedAt = now

	if !g.cfg.Enabled {
		g.stats.recordIssue(req.Bytes)
		g.stats.recordCompletion(req.Bytes, now, 0)
		g.completions = append(g.completions, Completion{
			Request: req, TicketReadyAt: now, CompletedAt: now,
		})
		return Issue{RequestID: req.ID, Ticket: flow.SyntheticTicket(now, now, req.Bytes)}, nil
	}

	if !req.Kind.IsMem() {
		req.Bytes = g.cfg.Policy.FlushBytes
		req.L0Hit, req.L1Hit, req.L2Hit = false, false, false
		req.L1Writeback, req.L2Writeback = false, false
		req.L1Bank, req.L2Bank = 0, 0
		req.LineAddr = 0
		g.stats.Flushes++
		return g.issueToGraph(now, req)
	}

	g.classify(&req)

	policy := g.cfg.Policy
	l0Line := policy.l0Line(req.Addr)
	l1Line := policy.l1Line(req.Addr)
	l2Line := policy.l2Line(req.Addr)
	level := levelOf(&req)
	meta := metaOf(&req)

	var l0New, l1New, l2New bool
	l1Table := g.l1Mshrs[req.L1Bank]
	l2Table := g.l2Mshrs[req.L2Bank]

	rollback := func() {
		if l0New {
			g.l0Mshr.remove(l0Line)
		}
		if l1New {
			l1Table.remove(l1Line)
		}
		if l2New {
			l2Table.remove(l2Line)
		}
	}

	switch level {
	case missNone:

	case missL0:
		if g.l0Mshr.hasEntry(l0Line) {
			readyAt, has, _ := g.l0Mshr.merge(l0Line, req)
			if !has {
				readyAt = now + 1
			}
			return g.issueMerge(now, readyAt, req), nil
		}
		if !g.l0Mshr.canAllocate(l0Line) {
			return Issue{}, g.mshrReject(now)
		}
		l0New, _ = g.l0Mshr.ensureEntry(l0Line, meta)
		g.stats.MshrAllocations++

	case missL1:
		if !g.l0Mshr.hasEntry(l0Line) {
			created, ok := g.l0Mshr.ensureEntry(l0Line, meta)
			if !ok {
				return Issue{}, g.mshrReject(now)
			}
			l0New = created
		}
		if l1Table.hasEntry(l1Line) {
			readyAt, has, _ := l1Table.merge(l1Line, req)
			if !has {
				readyAt = now + 1
			}
			g.l0Mshr.setReadyAt(l0Line, readyAt)
			return g.issueMerge(now, readyAt, req), nil
		}
		if !l1Table.canAllocate(l1Line) {
			rollback()
			return Issue{}, g.mshrReject(now)
		}
		l1New, _ = l1Table.ensureEntry(l1Line, meta)
		g.stats.MshrAllocations++

	case missL2:
		if !g.l0Mshr.hasEntry(l0Line) {
			created, ok := g.l0Mshr.ensureEntry(l0Line, meta)
			if !ok {
				return Issue{}, g.mshrReject(now)
			}
			l0New = created
		}
		if !l1Table.hasEntry(l1Line) {
			created, ok := l1Table.ensureEntry(l1Line, meta)
			if !ok {
				rollback()
				return Issue{}, g.mshrReject(now)
			}
			l1New = created
		}
		if l2Table.hasEntry(l2Line) {
			readyAt, has, _ := l2Table.merge(l2Line, req)
			if !has {
				readyAt = now + 1
			}
			g.l0Mshr.setReadyAt(l0Line, readyAt)
			l1Table.setReadyAt(l1Line, readyAt)
			return g.issueMerge(now, readyAt, req), nil
		}
		if !l2Table.canAllocate(l2Line) {
			rollback()
			return Issue{}, g.mshrReject(now)
		}
		l2New, _ = l2Table.ensureEntry(l2Line, meta)
		g.stats.MshrAllocations++
	}

	issue, rej := g.issueToGraph(now, req)
	if rej != nil {
		rollback()
		return Issue{}, rej
	}

	readyAt := issue.Ticket.ReadyAt()
	switch level {
	case missL0:
		g.l0Mshr.setReadyAt(l0Line, readyAt)
	case missL1:
		g.l0Mshr.setReadyAt(l0Line, readyAt)
		l1Table.setReadyAt(l1Line, readyAt)
	case missL2:
		g.l0Mshr.setReadyAt(l0Line, readyAt)
		l1Table.setReadyAt(l1Line, readyAt)
		l2Table.setReadyAt(l2Line, readyAt)
	}
	return issue, nil
}

// Tick advances the graph and drains the return path, releasing every
// MSHR waiter coalesced onto a drained fill in the same cycle.
func (g *Gmem) Tick(now flow.Cycle) {
	if !g.cfg.Enabled {
		return
	}
	g.graph.Tick(now)

	type drained struct {
		req     Request
		readyAt flow.Cycle
	}
	var results []drained
	g.graph.WithNode(g.returnNode, func(node flow.Node[Request]) {
		for {
			result, ok := node.TakeReady(now)
			if !ok {
				return
			}
			results = append(results, drained{
				req:     result.Payload,
				readyAt: result.Ticket.ReadyAt(),
			})
		}
	})

	for _, d := range results {
		g.pushCompletion(d.req, d.readyAt, now)
		g.applyCompletionEffects(&d.req)
		for _, merged := range g.drainMshrMerges(&d.req) {
			g.pushCompletion(merged, d.readyAt, now)
			g.applyCompletionEffects(&merged)
		}
	}
}

func (g *Gmem) pushCompletion(req Request, readyAt, now flow.Cycle) {
	g.stats.recordCompletion(req.Bytes, now, uint64(now-req.IssuedAt))
	g.completions = append(g.completions, Completion{
		Request:       req,
		TicketReadyAt: readyAt,
		CompletedAt:   now,
	})
}

func (g *Gmem) applyCompletionEffects(req *Request) {
	policy := g.cfg.Policy
	switch req.Kind {
	case FlushL0:
		if g.l0Tags != nil {
			g.l0Tags.invalidateAll()
		}
		return
	case FlushL1:
		if g.l1Tags != nil {
			g.l1Tags.invalidateAll()
		}
		return
	}
	if req.Kind != Load || !policy.AddressMode {
		return
	}
	if !req.L0Hit {
		g.l0Tags.fill(policy.l0Line(req.Addr))
	}
	if !req.L0Hit && !req.L1Hit {
		g.l1Tags.fill(policy.l1Line(req.Addr))
	}
	if !req.L0Hit && !req.L1Hit && !req.L2Hit {
		g.l2Tags.fill(policy.l2Line(req.Addr))
	}
}

// drainMshrMerges releases the waiters tracked by the filled line's
// entries, including the shallower-level entries covering the same
// fill.
func (g *Gmem) drainMshrMerges(req *Request) []Request {
	if !req.Kind.IsMem() {
		return nil
	}
	level := levelOf(req)
	if level == missNone {
		return nil
	}
	policy := g.cfg.Policy
	l0Line := policy.l0Line(req.Addr)
	l1Line := policy.l1Line(req.Addr)
	l2Line := policy.l2Line(req.Addr)

	switch level {
	case missL0:
		merged, _ := g.l0Mshr.remove(l0Line)
		return merged

	case missL1:
		merged, _ := g.l1Mshrs[req.L1Bank].remove(l1Line)
		g.l0Mshr.remove(l0Line)
		for i := range merged {
			g.l0Mshr.remove(policy.l0Line(merged[i].Addr))
		}
		return merged

	default:
		merged, _ := g.l2Mshrs[req.L2Bank].remove(l2Line)
		g.l0Mshr.remove(l0Line)
		g.l1Mshrs[req.L1Bank].remove(l1Line)
		for i := range merged {
			g.l0Mshr.remove(policy.l0Line(merged[i].Addr))
			bank := merged[i].L1Bank
			if bank >= 0 && bank < len(g.l1Mshrs) {
				g.l1Mshrs[bank].remove(policy.l1Line(merged[i].Addr))
			}
		}
		return merged
	}
}

// ConsumeCompletions returns and clears the drained completions.
func (g *Gmem) ConsumeCompletions() []Completion {
	out := g.completions
	g.completions = nil
	return out
}

// Outstanding counts requests still in the graph or waiting on a fill.
func (g *Gmem) Outstanding() int {
	if !g.cfg.Enabled {
		return 0
	}
	total := g.graph.Outstanding()
	total += g.l0Mshr.waiters()
	for _, t := range g.l1Mshrs {
		total += t.waiters()
	}
	for _, t := range g.l2Mshrs {
		total += t.waiters()
	}
	return total
}

// Stats returns the accumulated counters.
func (g *Gmem) Stats() Stats { return g.stats }
