package flow

// Node is one processing stage in a Graph. Implementations own a bounded
// queue and decide admission per the service law they model.
type Node[T any] interface {
	Name() string
	TryPut(now Cycle, payload T, sizeBytes uint32) (Ticket, *Reject)
	Tick(now Cycle)
	PeekReady(now Cycle) (*Result[T], bool)
	TakeReady(now Cycle) (Result[T], bool)
	Outstanding() int
}

// ServerNode adapts a Server to the Node interface.
type ServerNode[T any] struct {
	name   string
	server *Server[T]
}

// NewServerNode wraps a server for use in a graph.
func NewServerNode[T any](name string, server *Server[T]) *ServerNode[T] {
	return &ServerNode[T]{name: name, server: server}
}

func (n *ServerNode[T]) Name() string { return n.name }

func (n *ServerNode[T]) TryPut(now Cycle, payload T, sizeBytes uint32) (Ticket, *Reject) {
	return n.server.TryEnqueue(now, payload, sizeBytes)
}

func (n *ServerNode[T]) Tick(now Cycle) {
	n.server.AdvanceReady(now)
}

func (n *ServerNode[T]) PeekReady(now Cycle) (*Result[T], bool) {
	return n.server.PeekReady(now)
}

func (n *ServerNode[T]) TakeReady(now Cycle) (Result[T], bool) {
	return n.server.PopReady(now)
}

func (n *ServerNode[T]) Outstanding() int {
	return n.server.Outstanding()
}

// Server exposes the wrapped server, for direct stat inspection.
func (n *ServerNode[T]) Server() *Server[T] { return n.server }
