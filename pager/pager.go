// Package pager implements the file-backed page cache described in §1-§4:
// a fixed-granularity read interface over a large file, transparently
// loading fixed-size blocks on demand, sharing them among concurrent
// readers, and evicting cold blocks under memory pressure.
package pager

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/calvinalkan/pagecache/pager/internal/blockio"
	"github.com/calvinalkan/pagecache/pager/internal/lazyslot"
	"github.com/calvinalkan/pagecache/pager/internal/rwfutex"
)

// Pager is the public cache handle (§6). The zero value is not usable; use
// [Open].
type Pager struct {
	reader   *blockio.Reader
	fileSize int64

	blocks [NumberOfBlocks]lazyslot.Slot[blockio.Buffer]
	access *accessTracker

	limits   Limits
	sizeUsed atomic.Int64

	disjointMu rwfutex.RWLock
	disjoint   map[uint64]*disjointSlot

	evictMu sync.Mutex

	closed atomic.Bool

	stats stats
}

type stats struct {
	evictions    atomic.Uint64
	bytesEvicted atomic.Uint64
	blocksLoaded atomic.Uint64
}

// Stats is a point-in-time snapshot of pager usage, added per
// SPEC_FULL.md's MODULE ADDITIONS to give §8's memory-accounting
// properties an observable surface.
type Stats struct {
	SizeUsed      uint64
	BlocksLoaded  uint64
	EvictionCount uint64
	BytesEvicted  uint64
}

// Options configures Open. RotationPeriod resolves §9's generation-rotation
// open question (SPEC_FULL.md MODULE ADDITIONS); zero selects the default.
type Options struct {
	Limits         Limits
	RotationPeriod uint64
}

// Open opens path read-only and returns a ready Pager. path must already be
// sized; the pager never extends it (§6). Open rejects anything that isn't
// a regular file (checked via Fstat on the opened fd, not a pre-open stat
// of the path, to avoid a TOCTOU gap) and anything larger than
// MaxFileSize.
func Open(path string, opts Options) (*Pager, error) {
	reader, err := blockio.Open(path)
	if err != nil {
		return nil, fmt.Errorf("pager: open backing file: %w", err)
	}

	size := reader.Size()

	if size > MaxFileSize {
		_ = reader.Close()

		return nil, fmt.Errorf("%w: file exceeds MaxFileSize", ErrInvalidArgument)
	}

	p := &Pager{
		reader:   reader,
		fileSize: size,
		limits:   opts.Limits,
		access:   newAccessTracker(NumberOfBlocks, opts.RotationPeriod),
		disjoint: make(map[uint64]*disjointSlot),
	}

	return p, nil
}

// Close tears down the pager. Per §5, the caller is responsible for
// ensuring no borrow is outstanding and no load is in flight; Close does
// not forcibly reclaim blocks that are still referenced.
func (p *Pager) Close() error {
	if !p.closed.CompareAndSwap(false, true) {
		return ErrClosed
	}

	for i := range p.blocks {
		if buf, ok := p.blocks[i].Reset(); ok {
			freeBlockBuffer(buf)
		}
	}

	p.disjointMu.Lock()

	for _, slot := range p.disjoint {
		if buf, ok := slot.Reset(); ok {
			freeBlockBuffer(buf)
		}
	}

	p.disjoint = nil

	p.disjointMu.Unlock()

	return p.reader.Close()
}

// GetPage returns a borrowed view of n pages starting at page, blocking
// until the containing block (or, for a disjoint span, the straddling
// region) is loaded. The returned slice is valid until LetGo is called with
// matching arguments.
func (p *Pager) GetPage(page uint64, n int) ([]byte, error) {
	if p.closed.Load() {
		return nil, ErrClosed
	}

	if n <= 0 {
		return nil, ErrInvalidArgument
	}

	if isDisjoint(page, n) {
		return p.getDisjoint(page, n)
	}

	block := blockOf(page)
	if block >= NumberOfBlocks {
		return nil, ErrInvalidArgument
	}

	slot := &p.blocks[block]

	if slot.ShouldInit() {
		if err := p.loadBlock(block, slot); err != nil {
			return nil, err
		}
	}

	buf, err := slot.Get()
	if err != nil {
		return nil, err
	}

	p.access.recordAccess(int(block))

	start := offsetInBlock(page)
	end := start + n*PageSize

	// The backing file need not be block-aligned (§6), so the last block's
	// buffer can be shorter than BlockSize. Reject a span that would read
	// past what was actually read rather than slicing off the end of buf.
	if end > len(buf.Bytes) {
		slot.Release()

		return nil, ErrEndOfFile
	}

	return buf.Bytes[start:end], nil
}

// TryPage is the non-blocking counterpart to GetPage. found is false if the
// containing block is not yet loaded; in that case, if this call wins the
// race to load it, a background load is scheduled before returning.
func (p *Pager) TryPage(page uint64, n int) (view []byte, found bool, err error) {
	if p.closed.Load() {
		return nil, false, ErrClosed
	}

	if n <= 0 {
		return nil, false, ErrInvalidArgument
	}

	if isDisjoint(page, n) {
		return p.tryDisjoint(page, n)
	}

	block := blockOf(page)
	if block >= NumberOfBlocks {
		return nil, false, ErrInvalidArgument
	}

	slot := &p.blocks[block]

	if slot.ShouldInit() {
		err := p.loadBlock(block, slot)

		return nil, false, err
	}

	buf, ok, err := slot.TryGet()
	if !ok || err != nil {
		return nil, false, err
	}

	p.access.recordAccess(int(block))

	start := offsetInBlock(page)
	end := start + n*PageSize

	if end > len(buf.Bytes) {
		slot.Release()

		return nil, false, ErrEndOfFile
	}

	return buf.Bytes[start:end], true, nil
}

// LetGo releases one borrow of the page's containing block (or disjoint
// slot), previously obtained from a successful GetPage or TryPage with
// matching arguments.
func (p *Pager) LetGo(page uint64, n int) {
	if isDisjoint(page, n) {
		p.disjointMu.RLock()
		slot, ok := p.disjoint[page]
		p.disjointMu.RUnlock()

		if ok {
			slot.Release()
		}

		return
	}

	block := blockOf(page)
	if block >= NumberOfBlocks {
		return
	}

	p.blocks[block].Release()
}

// loadBlock is the same-block load path (§4.3): admit the block's memory
// charge, run eviction if needed, and submit the read. Called only by the
// caller that won ShouldInit on slot.
func (p *Pager) loadBlock(block uint64, slot *lazyslot.Slot[blockio.Buffer]) error {
	if err := p.admit(); err != nil {
		slot.Opps(err)

		return err
	}

	offset := int64(block) * BlockSize

	err := p.reader.Read(offset, BlockSize, blockio.CallbackFunc(
		func(buf *blockio.Buffer, err error, _ any) {
			if err != nil {
				p.sizeUsed.Add(-BlockSize)
				slot.Opps(err)

				return
			}

			p.stats.blocksLoaded.Add(1)
			slot.Init(buf)
		},
	), nil)
	if err != nil {
		p.sizeUsed.Add(-BlockSize)
		slot.Opps(err)

		return err
	}

	return nil
}

// admit charges BlockSize against size_used, running eviction if that
// crosses the soft limit, and fails with ErrOutOfMemory — refunding the
// charge — if usage is still over the hard limit afterward (§7.1).
func (p *Pager) admit() error {
	used := p.sizeUsed.Add(BlockSize)

	if uint64(used) >= p.limits.effectiveSoft() {
		p.evict(false)
	}

	if uint64(p.sizeUsed.Load()) > p.limits.effectiveHard() {
		p.sizeUsed.Add(-BlockSize)

		return ErrOutOfMemory
	}

	return nil
}

// evict runs the eviction scan described in §4.3: scan for Loaded,
// unreferenced-beyond-the-pager's-own-reservation blocks, sort coldest
// first, and reset them until usage drops below soft or candidates run out.
// force, set only by ForceEvict, walks the whole candidate list regardless
// of the soft threshold instead of stopping before the first reset — the
// admit()-triggered path always starts at or above soft already, so the
// pre-reset check there never short-circuits the way it would here.
// Eviction is serialized with evictMu purely to avoid redundant concurrent
// scans; correctness does not depend on it, since each Reset is its own
// per-slot CAS.
func (p *Pager) evict(force bool) {
	p.evictMu.Lock()
	defer p.evictMu.Unlock()

	type candidate struct {
		block int
		score uint8
	}

	var candidates []candidate

	for i := range p.blocks {
		slot := &p.blocks[i]
		if slot.HasValue() && slot.References() == 1 {
			candidates = append(candidates, candidate{i, p.access.score(i)})
		}
	}

	sort.Slice(candidates, func(a, b int) bool {
		return candidates[a].score < candidates[b].score
	})

	for _, c := range candidates {
		buf, ok := p.blocks[c.block].Reset()
		if !ok {
			continue
		}

		freeBlockBuffer(buf)

		p.sizeUsed.Add(-BlockSize)
		p.stats.evictions.Add(1)
		p.stats.bytesEvicted.Add(BlockSize)

		if !force && uint64(p.sizeUsed.Load()) < p.limits.effectiveSoft() {
			return
		}
	}
}

// ForceEvict runs an eviction pass unconditionally, independent of the soft
// threshold: every evictable candidate is reset regardless of size_used.
// Exposed for deterministic eviction tests per SPEC_FULL.md's MODULE
// ADDITIONS.
func (p *Pager) ForceEvict() {
	p.evict(true)
}

// Stats returns a snapshot of current pager usage.
func (p *Pager) Stats() Stats {
	return Stats{
		SizeUsed:      uint64(p.sizeUsed.Load()),
		BlocksLoaded:  p.stats.blocksLoaded.Load(),
		EvictionCount: p.stats.evictions.Load(),
		BytesEvicted:  p.stats.bytesEvicted.Load(),
	}
}
