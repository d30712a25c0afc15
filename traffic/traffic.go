// Package traffic synthesizes per-warp operation streams for driving
// the timing core without a functional front end. Patterns control the
// lane address shape, which is what the banked and cached memory
// subsystems are sensitive to.
package traffic

import (
	"fmt"

	"github.com/hansungk/cyclotron/op"
	"github.com/hansungk/cyclotron/timing/prob"
)

// Pattern names an address-generation shape.
type Pattern string

const (
	// Strided walks lanes and requests by fixed strides.
	Strided Pattern = "strided"
	// SameBank lands every lane of a request on one bank.
	SameBank Pattern = "same_bank"
	// Random draws hashed addresses from the span.
	Random Pattern = "random"
)

// Config shapes one synthetic stream.
type Config struct {
	Pattern  Pattern `json:"pattern"`
	Shared   bool    `json:"shared"`
	NumOps   int     `json:"num_ops"`
	NumLanes int     `json:"num_lanes"`
	// WordBytes is the per-lane access width.
	WordBytes uint32 `json:"word_bytes"`
	// LaneStride and WarpStride are in words.
	LaneStride uint64 `json:"lane_stride"`
	WarpStride uint64 `json:"warp_stride"`
	// NumBanks steers the same-bank pattern.
	NumBanks int    `json:"num_banks"`
	Base     uint64 `json:"base"`
	// SpanBytes wraps generated offsets.
	SpanBytes uint64 `json:"span_bytes"`
	// StoreRatio is the fraction of stores, decided per request.
	StoreRatio float64 `json:"store_ratio"`
	// ComputeEvery inserts one integer op after every n memory ops;
	// 0 disables.
	ComputeEvery int `json:"compute_every"`
	// BarrierEvery inserts a barrier after every n memory ops; 0
	// disables.
	BarrierEvery int    `json:"barrier_every"`
	Seed         uint64 `json:"seed"`
}

// DefaultConfig strides one word per lane over a 64 KiB span.
func DefaultConfig() Config {
	return Config{
		Pattern:    Strided,
		Shared:     true,
		NumOps:     64,
		NumLanes:   4,
		WordBytes:  4,
		LaneStride: 1,
		WarpStride: 1,
		NumBanks:   4,
		Base:       0x4000_0000,
		SpanBytes:  64 << 10,
		StoreRatio: 0.25,
	}
}

// Validate fails fast on shapes the generator cannot honor.
func (c Config) Validate() error {
	switch c.Pattern {
	case Strided, SameBank, Random:
	default:
		return fmt.Errorf("unknown pattern %q", c.Pattern)
	}
	if c.NumOps <= 0 {
		return fmt.Errorf("num_ops must be > 0, got %d", c.NumOps)
	}
	if c.NumLanes <= 0 || c.NumLanes > 64 {
		return fmt.Errorf("num_lanes must be in 1..64, got %d", c.NumLanes)
	}
	if c.WordBytes == 0 {
		return fmt.Errorf("word_bytes must be > 0")
	}
	if c.SpanBytes < uint64(c.WordBytes) {
		return fmt.Errorf("span_bytes must cover one word")
	}
	if c.NumBanks <= 0 {
		return fmt.Errorf("num_banks must be > 0, got %d", c.NumBanks)
	}
	if c.StoreRatio < 0 || c.StoreRatio > 1 {
		return fmt.Errorf("store_ratio must be in [0, 1], got %v", c.StoreRatio)
	}
	return nil
}

// laneOffset is the byte offset of one lane of one request, before the
// span wrap.
func (c Config) laneOffset(warp, req, lane int) uint64 {
	word := uint64(c.WordBytes)
	lanes := uint64(c.NumLanes)
	switch c.Pattern {
	case SameBank:
		// Lanes step a full bank row apart, so every lane resolves
		// to the same bank.
		stride := uint64(c.NumBanks) * word
		return (uint64(req)*c.WarpStride*lanes + uint64(lane)) * stride
	case Random:
		key := c.Seed ^ uint64(warp)<<48 ^ uint64(lane)<<32 ^ uint64(req)
		return (prob.Hash64(key) % (c.SpanBytes / word)) * word
	default:
		idx := (uint64(req)*c.WarpStride)*lanes + uint64(lane)
		return idx * c.LaneStride * word
	}
}

func (c Config) laneAddr(warp, req, lane int) uint64 {
	return c.Base + c.laneOffset(warp, req, lane)%c.SpanBytes
}

func (c Config) memClass(isStore bool) op.Class {
	switch {
	case c.Shared && isStore:
		return op.StoreShared
	case c.Shared:
		return op.LoadShared
	case isStore:
		return op.StoreGlobal
	default:
		return op.LoadGlobal
	}
}

// Program generates one warp's stream, terminated by an exit.
func (c Config) Program(warp int) []op.Operation {
	mask := op.FullMask(c.NumLanes)
	pcBase := uint64(0x1000)
	var ops []op.Operation
	next := func(class op.Class) op.Operation {
		o := op.Operation{
			Warp:     warp,
			Class:    class,
			PC:       pcBase + uint64(4*len(ops)),
			LaneMask: mask,
		}
		return o
	}

	for req := 0; req < c.NumOps; req++ {
		storeKey := c.Seed ^ 0x9E3779B97F4A7C15 ^ uint64(warp)<<32 ^ uint64(req)
		o := next(c.memClass(prob.Decide(c.StoreRatio, storeKey)))
		o.Bytes = int(c.WordBytes) * c.NumLanes
		for lane := 0; lane < c.NumLanes; lane++ {
			o.LaneAddrs = append(o.LaneAddrs, c.laneAddr(warp, req, lane))
		}
		ops = append(ops, o)

		done := req + 1
		if c.ComputeEvery > 0 && done%c.ComputeEvery == 0 {
			ops = append(ops, next(op.Int))
		}
		if c.BarrierEvery > 0 && done%c.BarrierEvery == 0 {
			o := next(op.Barrier)
			o.BarrierID = done / c.BarrierEvery
			ops = append(ops, o)
		}
	}
	ops = append(ops, next(op.Exit))
	return ops
}
