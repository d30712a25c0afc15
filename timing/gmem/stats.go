package gmem

import "github.com/hansungk/cyclotron/timing/flow"

// latencyBucketBounds are the exclusive upper edges of the histogram
// buckets; latencies of 64 cycles and above land in the last bucket.
var latencyBucketBounds = [5]uint64{4, 8, 16, 32, 64}

// LatencyHistogram buckets end-to-end request latencies.
type LatencyHistogram struct {
	Buckets [6]uint64
}

// Record adds one observed latency.
func (h *LatencyHistogram) Record(latency uint64) {
	for i, bound := range latencyBucketBounds {
		if latency < bound {
			h.Buckets[i]++
			return
		}
	}
	h.Buckets[len(h.Buckets)-1]++
}

// Total is the number of recorded latencies.
func (h *LatencyHistogram) Total() uint64 {
	var total uint64
	for _, b := range h.Buckets {
		total += b
	}
	return total
}

// BucketLabels names the histogram buckets in order.
func BucketLabels() []string {
	return []string{"0-3", "4-7", "8-15", "16-31", "32-63", "64+"}
}

// LevelStats counts accesses and hits at one cache level.
type LevelStats struct {
	Accesses uint64
	Hits     uint64
}

// Stats accumulates hierarchy counters for one core.
type Stats struct {
	Issued           uint64
	Completed        uint64
	QueueFullRejects uint64
	BusyRejects      uint64
	BytesIssued      uint64
	BytesCompleted   uint64

	L0 LevelStats
	L1 LevelStats
	L2 LevelStats

	MshrAllocations uint64
	MshrMerges      uint64
	MshrRejects     uint64
	Writebacks      uint64
	Flushes         uint64

	Inflight            uint64
	MaxInflight         uint64
	LastCompletionCycle flow.Cycle

	Latency LatencyHistogram
}

func (s *Stats) recordIssue(bytes uint32) {
	s.Issued++
	s.BytesIssued += uint64(bytes)
	s.Inflight++
	if s.Inflight > s.MaxInflight {
		s.MaxInflight = s.Inflight
	}
}

func (s *Stats) recordCompletion(bytes uint32, now flow.Cycle, latency uint64) {
	s.Completed++
	s.BytesCompleted += uint64(bytes)
	if s.Inflight > 0 {
		s.Inflight--
	}
	s.LastCompletionCycle = now
	s.Latency.Record(latency)
}
