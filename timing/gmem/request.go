package gmem

import "github.com/hansungk/cyclotron/timing/flow"

// Kind classifies a global-memory request.
type Kind int

const (
	Load Kind = iota
	Store
	FlushL0
	FlushL1
)

func (k Kind) String() string {
	switch k {
	case Load:
		return "load"
	case Store:
		return "store"
	case FlushL0:
		return "flush_l0"
	case FlushL1:
		return "flush_l1"
	default:
		return "unknown"
	}
}

// IsMem reports whether the request carries data traffic.
func (k Kind) IsMem() bool { return k == Load || k == Store }

// Request is one warp-level global-memory access flowing through the
// hierarchy. The per-level hit, writeback, and bank fields are filled in
// at issue time and steer the request through the graph.
type Request struct {
	ID                uint64
	Warp              int
	Addr              uint64
	LineAddr          uint64
	LaneAddrs         []uint64
	CoalescedLines    []uint64
	Bytes             uint32
	ActiveLanes       uint32
	Kind              Kind
	StallOnCompletion bool
	IssuedAt          flow.Cycle

	L0Hit       bool
	L1Hit       bool
	L2Hit       bool
	L1Writeback bool
	L2Writeback bool
	L1Bank      int
	L2Bank      int
}

// NewRequest builds a load or store.
func NewRequest(warp int, bytes, activeLanes uint32, isLoad bool) Request {
	kind := Store
	if isLoad {
		kind = Load
	}
	return Request{
		Warp:              warp,
		Bytes:             bytes,
		ActiveLanes:       activeLanes,
		Kind:              kind,
		StallOnCompletion: isLoad,
	}
}

// NewFlushL0 builds an L0 invalidation request.
func NewFlushL0(warp int) Request {
	return Request{Warp: warp, Kind: FlushL0, StallOnCompletion: true}
}

// NewFlushL1 builds an L1 invalidation request.
func NewFlushL1(warp int) Request {
	return Request{Warp: warp, Kind: FlushL1, StallOnCompletion: true}
}

// SplitByLine coalesces a request's lane addresses into one child
// request per distinct L0 line, in first-touch order. Lanes landing on
// the same line share one child, which is the memory-side coalescing
// the MSHR merge path models. A request without lane addresses returns
// itself unchanged.
func (c PolicyConfig) SplitByLine(req Request) []Request {
	if !req.Kind.IsMem() || len(req.LaneAddrs) == 0 {
		return []Request{req}
	}
	bytesPerLane := req.Bytes
	if req.ActiveLanes > 0 {
		bytesPerLane = req.Bytes / req.ActiveLanes
		if bytesPerLane == 0 {
			bytesPerLane = 1
		}
	}

	lanesPerLine := make(map[uint64]uint32)
	var order []uint64
	for _, addr := range req.LaneAddrs {
		line := c.l0Line(addr)
		if _, seen := lanesPerLine[line]; !seen {
			order = append(order, line)
		}
		lanesPerLine[line]++
	}

	children := make([]Request, 0, len(order))
	for _, line := range order {
		lanes := lanesPerLine[line]
		child := req
		child.Addr = line * uint64(c.L0LineBytes)
		child.LaneAddrs = nil
		child.CoalescedLines = order
		child.ActiveLanes = lanes
		child.Bytes = bytesPerLane * lanes
		children = append(children, child)
	}
	return children
}

// Issue is the accepted-admission receipt for one request.
type Issue struct {
	RequestID uint64
	Ticket    flow.Ticket
}

// Completion is one request that finished the hierarchy traversal.
type Completion struct {
	Request       Request
	TicketReadyAt flow.Cycle
	CompletedAt   flow.Cycle
}
