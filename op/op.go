// Package op defines the decoded-operation stream the timing core
// consumes. A functional front end (or a synthetic traffic driver)
// produces Operation values; the timing model only needs the opcode
// class, the lane mask, and the memory footprint.
package op

import "math/bits"

// Class is the timing-relevant opcode class of a decoded operation.
type Class int

const (
	Int Class = iota
	IntMul
	IntDiv
	Fp
	Sfu
	LoadGlobal
	StoreGlobal
	LoadShared
	StoreShared
	Fetch
	Barrier
	Exit
)

func (c Class) String() string {
	switch c {
	case Int:
		return "int"
	case IntMul:
		return "int_mul"
	case IntDiv:
		return "int_div"
	case Fp:
		return "fp"
	case Sfu:
		return "sfu"
	case LoadGlobal:
		return "load_global"
	case StoreGlobal:
		return "store_global"
	case LoadShared:
		return "load_shared"
	case StoreShared:
		return "store_shared"
	case Fetch:
		return "fetch"
	case Barrier:
		return "barrier"
	case Exit:
		return "exit"
	default:
		return "unknown"
	}
}

// IsMemory reports whether the class issues to the load/store unit.
func (c Class) IsMemory() bool {
	switch c {
	case LoadGlobal, StoreGlobal, LoadShared, StoreShared:
		return true
	}
	return false
}

// IsShared reports whether the class targets shared memory.
func (c Class) IsShared() bool {
	return c == LoadShared || c == StoreShared
}

// IsLoad reports whether the class reads memory.
func (c Class) IsLoad() bool {
	return c == LoadGlobal || c == LoadShared
}

// IsExecute reports whether the class occupies an execution unit.
func (c Class) IsExecute() bool {
	switch c {
	case Int, IntMul, IntDiv, Fp, Sfu:
		return true
	}
	return false
}

// Operation is one decoded instruction for one warp.
type Operation struct {
	Warp      int
	Class     Class
	PC        uint64
	LaneMask  uint64
	LaneAddrs []uint64
	Bytes     int
	BarrierID int
}

// ActiveLanes returns the population count of the lane mask.
func (o Operation) ActiveLanes() int {
	return bits.OnesCount64(o.LaneMask)
}

// FullMask returns a lane mask with the low lanes bits set.
func FullMask(lanes int) uint64 {
	if lanes >= 64 {
		return ^uint64(0)
	}
	return (uint64(1) << uint(lanes)) - 1
}
