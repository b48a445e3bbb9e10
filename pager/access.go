package pager

import (
	"sync/atomic"

	"github.com/calvinalkan/pagecache/pager/internal/bitmap"
)

// usageRank is the "fixed permutation" §4.3 describes: a lookup from a
// 4-bit recency pattern to a cold→hot score. Bit 3 (the most significant)
// corresponds to the current generation, bit 0 to the oldest of the four
// tracked; by construction a single set MSB (value 8) already outranks any
// combination of the three lower bits (max 7), which is exactly the
// "most recent generation most significant" rule §4.3 calls for. No
// further reordering is needed beyond the binary value itself, so the table
// is the identity — kept as an explicit array because callers index it by
// name, not because the values are surprising.
var usageRank = [16]uint8{
	0, 1, 2, 3, 4, 5, 6, 7,
	8, 9, 10, 11, 12, 13, 14, 15,
}

// accessTracker owns the G rotating generation bitmaps (§3) and the
// request-count rotation policy that resolves §9's open question on
// rotation timing (SPEC_FULL.md MODULE ADDITIONS).
type accessTracker struct {
	generations [NumberOfAccessGenerations]*bitmap.Bitmap
	currentIdx  atomic.Uint32

	rotationPeriod  uint64
	accessesSinceUp atomic.Uint64
}

func newAccessTracker(numBlocks int, rotationPeriod uint64) *accessTracker {
	if rotationPeriod == 0 {
		rotationPeriod = defaultRotationPeriod
	}

	t := &accessTracker{rotationPeriod: rotationPeriod}
	for i := range t.generations {
		t.generations[i] = bitmap.New(numBlocks)
	}

	return t
}

// recordAccess sets block's bit in the current generation and advances the
// rotation counter, rotating generations every rotationPeriod accesses.
func (t *accessTracker) recordAccess(block int) {
	idx := t.currentIdx.Load()
	t.generations[idx].Set(block)

	if t.accessesSinceUp.Add(1)%t.rotationPeriod == 0 {
		t.rotate()
	}
}

// rotate advances the current generation index and clears the bitmap that
// becomes the new current generation, so it starts empty for fresh tracking
// (§4.3: "no bit is ever cleared except by overwriting on rotation").
func (t *accessTracker) rotate() {
	next := (t.currentIdx.Load() + 1) % NumberOfAccessGenerations
	t.generations[next].ClearAll()
	t.currentIdx.Store(next)
}

// score computes the usage score for block: lower is colder.
func (t *accessTracker) score(block int) uint8 {
	current := t.currentIdx.Load()

	var v uint8

	for i := uint32(0); i < NumberOfAccessGenerations; i++ {
		gen := (current + NumberOfAccessGenerations - i) % NumberOfAccessGenerations
		if t.generations[gen].Test(block) {
			v |= 1 << (NumberOfAccessGenerations - 1 - i)
		}
	}

	return usageRank[v]
}
