package gmem

import (
	"fmt"

	"github.com/hansungk/cyclotron/timing/prob"
)

// Bank assignment salts, one per banked level, so the two mappings
// decorrelate even for identical line addresses.
const (
	l1BankSalt = 0x1111_2222_3333_4444
	l2BankSalt = 0x5555_6666_7777_8888
)

// Per-level decision salts for the rate-based classifier and the
// writeback draws.
const (
	l0HitSalt       = 0xA1A1_A1A1_A1A1_A1A1
	l1HitSalt       = 0xB2B2_B2B2_B2B2_B2B2
	l2HitSalt       = 0xC3C3_C3C3_C3C3_C3C3
	l1WritebackSalt = 0xD4D4_D4D4_D4D4_D4D4
	l2WritebackSalt = 0xE5E5_E5E5_E5E5_E5E5
)

// PolicyConfig governs hit/miss classification, bank mapping, and the
// writeback draws. With AddressMode set, hits come from real per-level
// tag arrays instead of the seeded hit-rate draws.
type PolicyConfig struct {
	L0HitRate       float64 `json:"l0_hit_rate"`
	L1HitRate       float64 `json:"l1_hit_rate"`
	L2HitRate       float64 `json:"l2_hit_rate"`
	L1WritebackRate float64 `json:"l1_writeback_rate"`
	L2WritebackRate float64 `json:"l2_writeback_rate"`
	L0LineBytes     uint32  `json:"l0_line_bytes"`
	L1LineBytes     uint32  `json:"l1_line_bytes"`
	L2LineBytes     uint32  `json:"l2_line_bytes"`
	AddressMode     bool    `json:"address_mode"`
	L0Sets          int     `json:"l0_sets"`
	L0Ways          int     `json:"l0_ways"`
	L1Sets          int     `json:"l1_sets"`
	L1Ways          int     `json:"l1_ways"`
	L2Sets          int     `json:"l2_sets"`
	L2Ways          int     `json:"l2_ways"`
	L1Banks         int     `json:"l1_banks"`
	L2Banks         int     `json:"l2_banks"`
	FlushBytes      uint32  `json:"flush_bytes"`
	Seed            uint64  `json:"seed"`
}

// DefaultPolicyConfig models a small L0 in front of a banked L1 and a
// large L2.
func DefaultPolicyConfig() PolicyConfig {
	return PolicyConfig{
		L0HitRate:       0.4,
		L1HitRate:       0.7,
		L2HitRate:       0.9,
		L1WritebackRate: 0.1,
		L2WritebackRate: 0.1,
		L0LineBytes:     64,
		L1LineBytes:     32,
		L2LineBytes:     128,
		L0Sets:          512,
		L0Ways:          1,
		L1Sets:          512,
		L1Ways:          4,
		L2Sets:          512,
		L2Ways:          8,
		L1Banks:         2,
		L2Banks:         1,
		FlushBytes:      4096,
		Seed:            0,
	}
}

// Validate checks rates and shape parameters.
func (c PolicyConfig) Validate() error {
	rates := []struct {
		name string
		v    float64
	}{
		{"l0_hit_rate", c.L0HitRate},
		{"l1_hit_rate", c.L1HitRate},
		{"l2_hit_rate", c.L2HitRate},
		{"l1_writeback_rate", c.L1WritebackRate},
		{"l2_writeback_rate", c.L2WritebackRate},
	}
	for _, r := range rates {
		if r.v < 0 || r.v > 1 {
			return fmt.Errorf("gmem: %s must be in [0, 1], got %v", r.name, r.v)
		}
	}
	if c.L0LineBytes == 0 || c.L1LineBytes == 0 || c.L2LineBytes == 0 {
		return fmt.Errorf("gmem: line bytes must be positive")
	}
	if c.L1Banks <= 0 || c.L2Banks <= 0 {
		return fmt.Errorf("gmem: bank counts must be positive, got l1=%d l2=%d",
			c.L1Banks, c.L2Banks)
	}
	if c.AddressMode {
		if c.L0Sets <= 0 || c.L0Ways <= 0 ||
			c.L1Sets <= 0 || c.L1Ways <= 0 ||
			c.L2Sets <= 0 || c.L2Ways <= 0 {
			return fmt.Errorf("gmem: sets and ways must be positive in address mode")
		}
	}
	if c.FlushBytes == 0 {
		return fmt.Errorf("gmem: flush_bytes must be positive")
	}
	return nil
}

// LineAddr maps a byte address to its cache-line index for a level.
func LineAddr(addr uint64, lineBytes uint32) uint64 {
	if lineBytes == 0 {
		lineBytes = 1
	}
	return addr / uint64(lineBytes)
}

func (c PolicyConfig) l0Line(addr uint64) uint64 { return LineAddr(addr, c.L0LineBytes) }
func (c PolicyConfig) l1Line(addr uint64) uint64 { return LineAddr(addr, c.L1LineBytes) }
func (c PolicyConfig) l2Line(addr uint64) uint64 { return LineAddr(addr, c.L2LineBytes) }

func (c PolicyConfig) l1BankOf(l1Line uint64) int {
	return prob.BankFor(l1Line, c.L1Banks, l1BankSalt)
}

func (c PolicyConfig) l2BankOf(l2Line uint64) int {
	return prob.BankFor(l2Line, c.L2Banks, l2BankSalt)
}
