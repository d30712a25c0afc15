package gmem

import (
	akitacache "github.com/sarchlab/akita/v4/mem/cache"
)

// tagArray is a set-associative tag store for one cache level, used in
// address mode instead of the rate-based classifier. Tags hold line
// addresses scaled back to byte addresses so the directory's set
// indexing sees the level's real line geometry.
type tagArray struct {
	directory *akitacache.DirectoryImpl
	lineBytes uint32
}

func newTagArray(sets, ways int, lineBytes uint32) *tagArray {
	if sets <= 0 {
		sets = 1
	}
	if ways <= 0 {
		ways = 1
	}
	return &tagArray{
		directory: akitacache.NewDirectory(
			sets, ways, int(lineBytes), akitacache.NewLRUVictimFinder()),
		lineBytes: lineBytes,
	}
}

func (t *tagArray) blockAddr(lineAddr uint64) uint64 {
	return lineAddr * uint64(t.lineBytes)
}

// probe reports whether the line is resident, touching LRU on a hit.
func (t *tagArray) probe(lineAddr uint64) bool {
	block := t.directory.Lookup(0, t.blockAddr(lineAddr))
	if block == nil || !block.IsValid {
		return false
	}
	t.directory.Visit(block)
	return true
}

// fill installs the line, evicting the LRU way when the set is full.
func (t *tagArray) fill(lineAddr uint64) {
	addr := t.blockAddr(lineAddr)
	if block := t.directory.Lookup(0, addr); block != nil && block.IsValid {
		t.directory.Visit(block)
		return
	}
	victim := t.directory.FindVictim(addr)
	if victim == nil {
		return
	}
	victim.Tag = addr
	victim.IsValid = true
	victim.IsDirty = false
	t.directory.Visit(victim)
}

// invalidateAll drops every resident line.
func (t *tagArray) invalidateAll() {
	t.directory.Reset()
}
