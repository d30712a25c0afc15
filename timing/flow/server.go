// Package flow provides the timing primitives for the performance model:
// a latency/bandwidth-enforcing server and a graph of such servers
// connected by bounded links.
//
// Each shared resource is wrapped by a Server, which enforces a service
// law: a base latency plus a throughput component expressed in
// bytes-per-cycle. When the server cannot immediately accept more work it
// returns a Reject, which lets the caller propagate the stall reason back
// to the warp or unit that produced the request. Accepted requests yield
// a Ticket describing when the service will complete.
package flow

import (
	"fmt"
	"math"
)

// Cycle is a simulated clock cycle count.
type Cycle = uint64

// RejectReason classifies why a server turned a request away.
type RejectReason int

const (
	// QueueFull means the bounded FIFO had no free slot.
	QueueFull RejectReason = iota
	// Busy means the server had room but cannot start new work this
	// cycle (warm-up or an in-progress service window with nothing
	// queued behind it).
	Busy
)

func (r RejectReason) String() string {
	switch r {
	case QueueFull:
		return "queue_full"
	case Busy:
		return "busy"
	default:
		return "unknown"
	}
}

// Reject reports a failed admission. The caller keeps ownership of the
// payload and is expected to retry at RetryAt or later.
type Reject struct {
	Reason RejectReason
	// RetryAt is the earliest cycle at which a retry can succeed.
	// Always strictly after the cycle of the rejected attempt.
	RetryAt Cycle
	// Capacity is the queue capacity, set for QueueFull.
	Capacity int
	// AvailableAt is when the server frees up, set for Busy.
	AvailableAt Cycle
}

// Ticket describes when an accepted request completes.
type Ticket struct {
	issuedAt  Cycle
	readyAt   Cycle
	sizeBytes uint32
}

// SyntheticTicket builds a ticket for work that never occupied a server,
// such as a request merged into an already-outstanding miss.
func SyntheticTicket(issuedAt, readyAt Cycle, sizeBytes uint32) Ticket {
	return Ticket{issuedAt: issuedAt, readyAt: readyAt, sizeBytes: sizeBytes}
}

// IssuedAt is the cycle at which the request entered the server.
func (t Ticket) IssuedAt() Cycle { return t.issuedAt }

// ReadyAt is the cycle at which the payload becomes available downstream.
func (t Ticket) ReadyAt() Cycle { return t.readyAt }

// SizeBytes is the request size used for the throughput component.
func (t Ticket) SizeBytes() uint32 { return t.sizeBytes }

// IsReady reports whether the ticket has matured at the given cycle.
func (t Ticket) IsReady(now Cycle) bool { return now >= t.readyAt }

// RemainingCycles returns the cycles until ready, zero if already ready.
func (t Ticket) RemainingCycles(now Cycle) Cycle {
	if now >= t.readyAt {
		return 0
	}
	return t.readyAt - now
}

// ServerConfig sets the service law for one Server.
type ServerConfig struct {
	// BaseLatency is a fixed latency added to every request.
	BaseLatency Cycle `json:"base_latency"`
	// BytesPerCycle is the throughput of the server.
	BytesPerCycle uint32 `json:"bytes_per_cycle"`
	// QueueCapacity is the maximum number of outstanding requests.
	QueueCapacity int `json:"queue_capacity"`
	// CompletionsPerCycle caps how many requests may drain in one
	// cycle. Zero means unlimited.
	CompletionsPerCycle int `json:"completions_per_cycle"`
	// WarmupLatency keeps the server busy for the first cycles of the
	// run, modeling pipeline fill.
	WarmupLatency Cycle `json:"warmup_latency"`
}

// DefaultServerConfig returns a unit-latency, single-entry server.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		BaseLatency:   0,
		BytesPerCycle: 1,
		QueueCapacity: 1,
	}
}

// Validate fails fast on configurations that cannot simulate.
func (c ServerConfig) Validate() error {
	if c.QueueCapacity <= 0 {
		return fmt.Errorf("queue_capacity must be > 0, got %d", c.QueueCapacity)
	}
	if c.BytesPerCycle == 0 {
		return fmt.Errorf("bytes_per_cycle must be > 0")
	}
	if c.CompletionsPerCycle < 0 {
		return fmt.Errorf("completions_per_cycle must be >= 0, got %d", c.CompletionsPerCycle)
	}
	return nil
}

// Result pairs a serviced payload with its ticket.
type Result[T any] struct {
	Payload T
	Ticket  Ticket
}

type inflight[T any] struct {
	payload T
	ticket  Ticket
}

// Server is a single resource that enforces the configured
// latency/throughput budget and tracks outstanding work in a FIFO.
//
// Admission follows the start-of-cycle rule: an accepted request
// completes at admit + base_latency + ceil(size / bytes_per_cycle).
// Throughput contention is enforced by the completions-per-cycle
// budget, which bounds both new starts and drains within one cycle.
type Server[T any] struct {
	cfg   ServerConfig
	queue []inflight[T]
	// warmupUntil models pipeline fill at the start of the run.
	warmupUntil Cycle

	admitCycle Cycle
	admitCount int

	drainCycle   Cycle
	drainedCount int
}

// NewServer creates a server. The configuration must be valid; use
// ServerConfig.Validate before constructing.
func NewServer[T any](cfg ServerConfig) *Server[T] {
	return &Server[T]{
		cfg:         cfg,
		warmupUntil: cfg.WarmupLatency,
	}
}

// Config returns the server configuration.
func (s *Server[T]) Config() ServerConfig { return s.cfg }

// TryEnqueue attempts to admit a request at the given cycle. On success
// the returned ticket states when the request completes. On failure the
// reject names the structural hazard; the request is not retained.
func (s *Server[T]) TryEnqueue(now Cycle, payload T, sizeBytes uint32) (Ticket, *Reject) {
	if len(s.queue) >= s.cfg.QueueCapacity {
		retry := now + 1
		if oldest, ok := s.OldestTicket(); ok && oldest.readyAt > retry {
			retry = oldest.readyAt
		}
		return Ticket{}, &Reject{
			Reason:   QueueFull,
			RetryAt:  retry,
			Capacity: s.cfg.QueueCapacity,
		}
	}

	if s.warmupUntil > now {
		return Ticket{}, &Reject{
			Reason:      Busy,
			RetryAt:     s.warmupUntil,
			AvailableAt: s.warmupUntil,
		}
	}

	if s.cfg.CompletionsPerCycle > 0 {
		if now == s.admitCycle && s.admitCount >= s.cfg.CompletionsPerCycle {
			return Ticket{}, &Reject{
				Reason:      Busy,
				RetryAt:     satAdd(now, 1),
				AvailableAt: satAdd(now, 1),
			}
		}
		if now != s.admitCycle {
			s.admitCycle = now
			s.admitCount = 0
		}
		s.admitCount++
	}

	readyAt := s.nextReadyCycle(now, sizeBytes)
	ticket := Ticket{issuedAt: now, readyAt: readyAt, sizeBytes: sizeBytes}
	s.queue = append(s.queue, inflight[T]{payload: payload, ticket: ticket})
	return ticket, nil
}

func (s *Server[T]) nextReadyCycle(start Cycle, sizeBytes uint32) Cycle {
	service := ceilDiv(uint64(sizeBytes), uint64(s.cfg.BytesPerCycle))
	return satAdd(satAdd(start, s.cfg.BaseLatency), service)
}

// AdvanceReady rolls the per-cycle drain budget forward. Call once at the
// start of every cycle before draining.
func (s *Server[T]) AdvanceReady(now Cycle) {
	if now != s.drainCycle {
		s.drainCycle = now
		s.drainedCount = 0
	}
}

func (s *Server[T]) canDrain(now Cycle) bool {
	if len(s.queue) == 0 {
		return false
	}
	if !s.queue[0].ticket.IsReady(now) {
		return false
	}
	if s.cfg.CompletionsPerCycle > 0 && now == s.drainCycle &&
		s.drainedCount >= s.cfg.CompletionsPerCycle {
		return false
	}
	return true
}

// PeekReady returns the front result if it can drain this cycle.
func (s *Server[T]) PeekReady(now Cycle) (*Result[T], bool) {
	if !s.canDrain(now) {
		return nil, false
	}
	front := &s.queue[0]
	return &Result[T]{Payload: front.payload, Ticket: front.ticket}, true
}

// PopReady removes and returns the front result if it can drain this
// cycle, counting it against the per-cycle completion budget.
func (s *Server[T]) PopReady(now Cycle) (Result[T], bool) {
	if !s.canDrain(now) {
		var zero Result[T]
		return zero, false
	}
	front := s.queue[0]
	s.queue = s.queue[1:]
	if now != s.drainCycle {
		s.drainCycle = now
		s.drainedCount = 0
	}
	s.drainedCount++
	return Result[T]{Payload: front.payload, Ticket: front.ticket}, true
}

// ServiceReady drains every request completed by now, honoring the
// per-cycle completion budget, and invokes the callback for each.
func (s *Server[T]) ServiceReady(now Cycle, callback func(Result[T])) {
	s.AdvanceReady(now)
	for {
		result, ok := s.PopReady(now)
		if !ok {
			return
		}
		callback(result)
	}
}

// AvailableAt is the cycle at which the warm-up window ends.
func (s *Server[T]) AvailableAt() Cycle { return s.warmupUntil }

// OldestTicket returns the ticket at the head of the FIFO.
func (s *Server[T]) OldestTicket() (Ticket, bool) {
	if len(s.queue) == 0 {
		return Ticket{}, false
	}
	return s.queue[0].ticket, true
}

// Outstanding is the number of queued requests.
func (s *Server[T]) Outstanding() int { return len(s.queue) }

// NormalizeRetry clamps a retry target so it is strictly in the future.
func NormalizeRetry(now, target Cycle) Cycle {
	if target <= now {
		return satAdd(now, 1)
	}
	return target
}

func ceilDiv(nom, denom uint64) Cycle {
	return (nom + denom - 1) / denom
}

func satAdd(a, b Cycle) Cycle {
	if a > math.MaxUint64-b {
		return math.MaxUint64
	}
	return a + b
}
