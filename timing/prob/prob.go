// Package prob provides the seeded, hash-based decision helpers used for
// reproducible hit/miss and bank assignment. Runs with the same seed and
// address stream always classify identically.
package prob

import "math"

// Hash64 is a 64-bit finalizer-style mixer.
func Hash64(x uint64) uint64 {
	x ^= x >> 33
	x *= 0xff51afd7ed558ccd
	x ^= x >> 33
	x *= 0xc4ceb9fe1a85ec53
	x ^= x >> 33
	return x
}

// Decide returns true with the given probability for the given key,
// deterministically. Rate is clamped to [0, 1].
func Decide(rate float64, key uint64) bool {
	if rate <= 0 {
		return false
	}
	if rate >= 1 {
		return true
	}
	threshold := uint64(rate * float64(math.MaxUint64))
	return Hash64(key) <= threshold
}

// BankFor maps a cache line to a bank index using a salted hash.
func BankFor(lineAddr uint64, numBanks int, salt uint64) int {
	if numBanks <= 1 {
		return 0
	}
	return int(Hash64(lineAddr^salt) % uint64(numBanks))
}
