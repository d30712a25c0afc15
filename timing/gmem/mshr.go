package gmem

import "github.com/hansungk/cyclotron/timing/flow"

// missLevel is the deepest level a request misses to, which decides
// which MSHR table tracks its fill.
type missLevel int

const (
	missNone missLevel = iota
	missL0
	missL1
	missL2
)

func levelOf(req *Request) missLevel {
	switch {
	case req.L0Hit:
		return missNone
	case req.L1Hit:
		return missL0
	case req.L2Hit:
		return missL1
	default:
		return missL2
	}
}

// missMeta snapshots the classification of the request that allocated
// an MSHR entry. Later requests merging into the entry adopt it so the
// whole merge group reports one consistent traversal.
type missMeta struct {
	lineAddr    uint64
	l0Hit       bool
	l1Hit       bool
	l2Hit       bool
	l1Writeback bool
	l2Writeback bool
	l1Bank      int
	l2Bank      int
}

func metaOf(req *Request) missMeta {
	return missMeta{
		lineAddr:    req.LineAddr,
		l0Hit:       req.L0Hit,
		l1Hit:       req.L1Hit,
		l2Hit:       req.L2Hit,
		l1Writeback: req.L1Writeback,
		l2Writeback: req.L2Writeback,
		l1Bank:      req.L1Bank,
		l2Bank:      req.L2Bank,
	}
}

func (m missMeta) apply(req *Request) {
	req.LineAddr = m.lineAddr
	req.L0Hit = m.l0Hit
	req.L1Hit = m.l1Hit
	req.L2Hit = m.l2Hit
	req.L1Writeback = m.l1Writeback
	req.L2Writeback = m.l2Writeback
	req.L1Bank = m.l1Bank
	req.L2Bank = m.l2Bank
}

type mshrEntry struct {
	lineAddr uint64
	meta     missMeta
	readyAt  flow.Cycle
	hasReady bool
	merged   []Request
}

// mshrTable is the bounded address-to-entry map tracking outstanding
// line fills at one level. Merged waiters share the entry and release
// together when the fill drains.
type mshrTable struct {
	capacity int
	entries  []mshrEntry
}

func newMshrTable(capacity int) *mshrTable {
	return &mshrTable{capacity: capacity}
}

func (t *mshrTable) find(lineAddr uint64) *mshrEntry {
	for i := range t.entries {
		if t.entries[i].lineAddr == lineAddr {
			return &t.entries[i]
		}
	}
	return nil
}

func (t *mshrTable) hasEntry(lineAddr uint64) bool {
	return t.find(lineAddr) != nil
}

func (t *mshrTable) canAllocate(lineAddr uint64) bool {
	return t.hasEntry(lineAddr) || len(t.entries) < t.capacity
}

// ensureEntry allocates an entry for the line if none exists. It
// reports whether a new entry was created; false with ok means an entry
// was already tracking the line.
func (t *mshrTable) ensureEntry(lineAddr uint64, meta missMeta) (created, ok bool) {
	if t.hasEntry(lineAddr) {
		return false, true
	}
	if len(t.entries) >= t.capacity {
		return false, false
	}
	t.entries = append(t.entries, mshrEntry{lineAddr: lineAddr, meta: meta})
	return true, true
}

func (t *mshrTable) setReadyAt(lineAddr uint64, readyAt flow.Cycle) {
	if entry := t.find(lineAddr); entry != nil {
		entry.readyAt = readyAt
		entry.hasReady = true
	}
}

// merge attaches a request to the entry tracking its line, adopting the
// entry's classification. It returns the fill's expected ready cycle
// when known.
func (t *mshrTable) merge(lineAddr uint64, req Request) (flow.Cycle, bool, bool) {
	entry := t.find(lineAddr)
	if entry == nil {
		return 0, false, false
	}
	entry.meta.apply(&req)
	entry.merged = append(entry.merged, req)
	return entry.readyAt, entry.hasReady, true
}

// remove releases the entry for a filled line, returning its waiters.
func (t *mshrTable) remove(lineAddr uint64) ([]Request, bool) {
	for i := range t.entries {
		if t.entries[i].lineAddr == lineAddr {
			merged := t.entries[i].merged
			t.entries = append(t.entries[:i], t.entries[i+1:]...)
			return merged, true
		}
	}
	return nil, false
}

func (t *mshrTable) waiters() int {
	total := 0
	for i := range t.entries {
		total += len(t.entries[i].merged)
	}
	return total
}
