package flow

// NodeID identifies a node within one Graph.
type NodeID = int

// LinkID identifies an edge within one Graph.
type LinkID = int

// LinkConfig bounds the buffer of one edge.
type LinkConfig struct {
	// Entries is the maximum buffered request count.
	Entries int `json:"entries"`
	// Bytes optionally bounds the total buffered bytes. Zero disables
	// the byte limit.
	Bytes uint32 `json:"bytes"`
}

type linkEntry[T any] struct {
	result Result[T]
}

func (e linkEntry[T]) sizeBytes() uint32 { return e.result.Ticket.SizeBytes() }

// Link is a bounded buffer between two nodes.
type Link[T any] struct {
	entriesCapacity int
	bytesCapacity   uint32
	bytesInUse      uint32
	queue           []linkEntry[T]
}

// NewLink creates a link bounded by entry count only.
func NewLink[T any](entries int) *Link[T] {
	return NewLinkWithByteLimit[T](entries, 0)
}

// NewLinkWithByteLimit creates a link bounded by entries and, when bytes
// is nonzero, by total buffered bytes.
func NewLinkWithByteLimit[T any](entries int, bytes uint32) *Link[T] {
	if entries <= 0 {
		panic("link capacity must be > 0")
	}
	return &Link[T]{entriesCapacity: entries, bytesCapacity: bytes}
}

// Len is the number of buffered entries.
func (l *Link[T]) Len() int { return len(l.queue) }

func (l *Link[T]) canAccept(sizeBytes uint32) bool {
	if len(l.queue) >= l.entriesCapacity {
		return false
	}
	if l.bytesCapacity > 0 && l.bytesInUse+sizeBytes > l.bytesCapacity {
		return false
	}
	return true
}

func (l *Link[T]) push(result Result[T]) {
	l.queue = append(l.queue, linkEntry[T]{result: result})
	l.bytesInUse += result.Ticket.SizeBytes()
}

func (l *Link[T]) popFront() (linkEntry[T], bool) {
	if len(l.queue) == 0 {
		var zero linkEntry[T]
		return zero, false
	}
	entry := l.queue[0]
	l.queue = l.queue[1:]
	l.bytesInUse -= entry.sizeBytes()
	return entry, true
}

func (l *Link[T]) pushFront(entry linkEntry[T]) {
	l.queue = append([]linkEntry[T]{entry}, l.queue...)
	l.bytesInUse += entry.sizeBytes()
}

// EdgeStats counts traffic and backpressure on one edge.
type EdgeStats struct {
	EntriesPushed          uint64
	EntriesDelivered       uint64
	DownstreamBackpressure uint64
	LastDeliveryCycle      Cycle
	Delivered              bool
}

// RejectEvent describes one delivery rejection on an edge, for the
// optional diagnostic event stream.
type RejectEvent struct {
	Edge    string
	Src     string
	Dst     string
	Reason  RejectReason
	Cycle   Cycle
	RetryAt Cycle
}

type edge[T any] struct {
	name           string
	buffer         *Link[T]
	src            NodeID
	dst            NodeID
	outputIdx      int
	stats          EdgeStats
	nextRetryCycle Cycle
	predicate      func(*T) bool
}

type graphNode[T any] struct {
	name    string
	node    Node[T]
	outputs []LinkID
	inputs  []LinkID
	routeFn func(*T) int
}

// Graph wires nodes together with bounded links and moves completed
// requests downstream each cycle, restoring them on backpressure.
type Graph[T any] struct {
	nodes []graphNode[T]
	edges []edge[T]

	// OnReject, when set, receives every delivery rejection.
	OnReject func(RejectEvent)
}

// NewGraph creates an empty graph.
func NewGraph[T any]() *Graph[T] {
	return &Graph[T]{}
}

// AddNode registers a node and returns its id.
func (g *Graph[T]) AddNode(node Node[T]) NodeID {
	id := len(g.nodes)
	g.nodes = append(g.nodes, graphNode[T]{name: node.Name(), node: node})
	return id
}

func (g *Graph[T]) connect(src, dst NodeID, name string, buffer *Link[T], pred func(*T) bool) LinkID {
	if src < 0 || src >= len(g.nodes) {
		panic("invalid src node")
	}
	if dst < 0 || dst >= len(g.nodes) {
		panic("invalid dst node")
	}
	id := len(g.edges)
	outputIdx := len(g.nodes[src].outputs)
	g.edges = append(g.edges, edge[T]{
		name:      name,
		buffer:    buffer,
		src:       src,
		dst:       dst,
		outputIdx: outputIdx,
		predicate: pred,
	})
	g.nodes[src].outputs = append(g.nodes[src].outputs, id)
	g.nodes[dst].inputs = append(g.nodes[dst].inputs, id)
	return id
}

// Connect adds an unconditional edge from src to dst.
func (g *Graph[T]) Connect(src, dst NodeID, name string, buffer *Link[T]) LinkID {
	return g.connect(src, dst, name, buffer, nil)
}

// ConnectFiltered adds an edge that only carries payloads matching the
// predicate.
func (g *Graph[T]) ConnectFiltered(
	src, dst NodeID,
	name string,
	buffer *Link[T],
	predicate func(*T) bool,
) LinkID {
	return g.connect(src, dst, name, buffer, predicate)
}

// SetRouteFn installs a routing function on a node. When set, each ready
// payload goes to the output whose index the function returns, taking
// precedence over edge predicates.
func (g *Graph[T]) SetRouteFn(nodeID NodeID, routeFn func(*T) int) {
	if nodeID >= 0 && nodeID < len(g.nodes) {
		g.nodes[nodeID].routeFn = routeFn
	}
}

// TryPut attempts admission into the identified node.
func (g *Graph[T]) TryPut(nodeID NodeID, now Cycle, payload T, sizeBytes uint32) (Ticket, *Reject) {
	return g.nodes[nodeID].node.TryPut(now, payload, sizeBytes)
}

// Tick advances one cycle: every node ticks, ready results move into
// edge buffers, and buffered results are delivered downstream. Delivery
// rejections restore the entry at the buffer front and set a retry cycle
// for the edge, so nothing is dropped.
func (g *Graph[T]) Tick(now Cycle) {
	for i := range g.nodes {
		g.nodes[i].node.Tick(now)
	}

	for edgeID := range g.edges {
		src := g.edges[edgeID].src
		for {
			result, ok := g.nodes[src].node.PeekReady(now)
			if !ok {
				break
			}

			shouldRoute := true
			if routeFn := g.nodes[src].routeFn; routeFn != nil {
				shouldRoute = routeFn(&result.Payload) == g.edges[edgeID].outputIdx
			} else if pred := g.edges[edgeID].predicate; pred != nil {
				shouldRoute = pred(&result.Payload)
			}
			if !shouldRoute {
				break
			}
			if !g.edges[edgeID].buffer.canAccept(result.Ticket.SizeBytes()) {
				break
			}

			taken, ok := g.nodes[src].node.TakeReady(now)
			if !ok {
				break
			}
			g.edges[edgeID].buffer.push(taken)
			g.edges[edgeID].stats.EntriesPushed++
		}
	}

	for edgeID := range g.edges {
		if now < g.edges[edgeID].nextRetryCycle {
			continue
		}
		dst := g.edges[edgeID].dst
		for {
			entry, ok := g.edges[edgeID].buffer.popFront()
			if !ok {
				g.edges[edgeID].nextRetryCycle = now
				break
			}

			_, rej := g.nodes[dst].node.TryPut(
				now, entry.result.Payload, entry.sizeBytes())
			if rej == nil {
				g.edges[edgeID].stats.EntriesDelivered++
				g.edges[edgeID].stats.LastDeliveryCycle = now
				g.edges[edgeID].stats.Delivered = true
				g.edges[edgeID].nextRetryCycle = now
				continue
			}

			retryAt := NormalizeRetry(now, rej.RetryAt)
			g.edges[edgeID].buffer.pushFront(entry)
			g.edges[edgeID].stats.DownstreamBackpressure++
			g.edges[edgeID].nextRetryCycle = retryAt
			if g.OnReject != nil {
				g.OnReject(RejectEvent{
					Edge:    g.edges[edgeID].name,
					Src:     g.nodes[g.edges[edgeID].src].name,
					Dst:     g.nodes[dst].name,
					Reason:  rej.Reason,
					Cycle:   now,
					RetryAt: retryAt,
				})
			}
			break
		}
	}
}

// WithNode runs f against the identified node.
func (g *Graph[T]) WithNode(nodeID NodeID, f func(Node[T])) {
	f(g.nodes[nodeID].node)
}

// NodeName returns the registered name of a node.
func (g *Graph[T]) NodeName(nodeID NodeID) string {
	return g.nodes[nodeID].name
}

// EdgeStats returns the counters of one edge.
func (g *Graph[T]) EdgeStats(linkID LinkID) EdgeStats {
	return g.edges[linkID].stats
}

// Outstanding sums queued requests across all nodes and edge buffers.
func (g *Graph[T]) Outstanding() int {
	total := 0
	for i := range g.nodes {
		total += g.nodes[i].node.Outstanding()
	}
	for i := range g.edges {
		total += g.edges[i].buffer.Len()
	}
	return total
}
