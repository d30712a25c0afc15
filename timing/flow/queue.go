package flow

// QueueConfig configures a Queue.
type QueueConfig struct {
	// Enabled gates the timing model. A disabled queue accepts
	// everything immediately with a synthetic ticket.
	Enabled bool         `json:"enabled"`
	Server  ServerConfig `json:"server"`
}

// Validate checks the underlying server configuration when enabled.
func (c QueueConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	return c.Server.Validate()
}

// Queue is a single timed server with an enabled/passthrough switch,
// used for stages that stand alone rather than inside a Graph.
type Queue[T any] struct {
	enabled bool
	server  *Server[T]
}

// NewQueue builds a queue from its configuration.
func NewQueue[T any](cfg QueueConfig) *Queue[T] {
	return &Queue[T]{
		enabled: cfg.Enabled,
		server:  NewServer[T](cfg.Server),
	}
}

// Enabled reports whether the timing model is active.
func (q *Queue[T]) Enabled() bool { return q.enabled }

// TryIssue admits a request. Disabled queues complete it in the same
// cycle with a synthetic ticket; the payload is returned to the caller
// on the next Drain.
func (q *Queue[T]) TryIssue(now Cycle, payload T, sizeBytes uint32) (Ticket, *Reject) {
	if !q.enabled {
		ticket := SyntheticTicket(now, now, sizeBytes)
		// Hold the payload so Drain still yields it in order.
		q.server.queue = append(q.server.queue, inflight[T]{payload: payload, ticket: ticket})
		return ticket, nil
	}
	ticket, rej := q.server.TryEnqueue(now, payload, sizeBytes)
	if rej != nil {
		rej.RetryAt = NormalizeRetry(now, rej.RetryAt)
	}
	return ticket, rej
}

// Tick rolls the per-cycle drain budget forward.
func (q *Queue[T]) Tick(now Cycle) {
	q.server.AdvanceReady(now)
}

// Drain pops every result completed by now, subject to the per-cycle
// completion budget.
func (q *Queue[T]) Drain(now Cycle, callback func(Result[T])) {
	for {
		result, ok := q.server.PopReady(now)
		if !ok {
			return
		}
		callback(result)
	}
}

// Outstanding is the number of queued requests.
func (q *Queue[T]) Outstanding() int { return q.server.Outstanding() }

// AvailableAt is when the underlying server next frees up.
func (q *Queue[T]) AvailableAt() Cycle { return q.server.AvailableAt() }
