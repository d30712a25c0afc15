package core

import (
	"github.com/hansungk/cyclotron/op"
	"github.com/hansungk/cyclotron/timing/flow"
	"github.com/hansungk/cyclotron/timing/gmem"
	"github.com/hansungk/cyclotron/timing/lsu"
	"github.com/hansungk/cyclotron/timing/sched"
	"github.com/hansungk/cyclotron/timing/smem"
)

// warpCtx is the per-warp run state: the operation stream, the fetch
// progress of the current operation, and the scheduling state.
type warpCtx struct {
	id      int
	program []op.Operation
	pc      int
	state   sched.WarpState
	retryAt flow.Cycle

	// fetchOutstanding marks an icache access in flight for the
	// current operation; fetched marks it complete. fetchAddr tells
	// the demand fetch apart from prefetch completions.
	fetchOutstanding bool
	fetched          bool
	fetchAddr        uint64

	// pendingMem counts outstanding memory children that block the
	// warp until completion (loads).
	pendingMem int
}

func (w *warpCtx) current() (op.Operation, bool) {
	if w.pc >= len(w.program) {
		return op.Operation{}, false
	}
	return w.program[w.pc], true
}

// advance consumes the current operation; the next one needs a fresh
// fetch.
func (w *warpCtx) advance() {
	w.pc++
	w.fetched = false
}

func (w *warpCtx) stall(retryAt flow.Cycle) {
	w.state = sched.StalledStructural
	w.retryAt = retryAt
}

// smemHandoff is one dispatched shared-memory instruction waiting for
// its bank children to be admitted. Children are admitted in order; a
// rejected child retries next cycle with its successors behind it.
type smemHandoff struct {
	kind     lsu.QueueKind
	warp     int
	children []smem.Request
}

// gmemHandoff is one dispatched global-memory instruction waiting for
// its per-line children to be admitted.
type gmemHandoff struct {
	kind     lsu.QueueKind
	warp     int
	children []gmem.Request
}

func queueKindOf(class op.Class) lsu.QueueKind {
	switch class {
	case op.LoadGlobal:
		return lsu.GlobalLoad
	case op.StoreGlobal:
		return lsu.GlobalStore
	case op.LoadShared:
		return lsu.SharedLoad
	default:
		return lsu.SharedStore
	}
}
