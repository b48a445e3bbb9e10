package pager

import (
	"github.com/calvinalkan/pagecache/pager/internal/blockio"
	"github.com/calvinalkan/pagecache/pager/internal/lazyslot"
)

// disjointSlot is the heap-allocated lazy slot a straddling read is parked
// on (§4.3's disjoint map). It lives for the lifetime of the pager once
// created.
type disjointSlot = lazyslot.Slot[blockio.Buffer]

// getDisjoint implements §4.3's disjoint-read path: a multi-page read whose
// span crosses a block boundary, served from a page-keyed map guarded by a
// reader/writer lock rather than from the block map.
func (p *Pager) getDisjoint(page uint64, n int) ([]byte, error) {
	slot, creator := p.disjointSlotFor(page)

	if creator {
		p.submitDisjointRead(page, n, slot)
	}

	buf, err := slot.Get()
	if err != nil {
		return nil, err
	}

	// A disjoint span can land at the end of a non-block-aligned file
	// (§6); don't slice past what the read actually delivered.
	if n*PageSize > len(buf.Bytes) {
		slot.Release()

		return nil, ErrEndOfFile
	}

	return buf.Bytes[:n*PageSize], nil
}

// tryDisjoint is the non-blocking counterpart, used by TryPage. Per §9's
// design note, TryPage's disjoint handling is unified onto this same path
// rather than reusing same-block offset math, which the spec notes is
// incorrect for genuinely disjoint spans.
func (p *Pager) tryDisjoint(page uint64, n int) ([]byte, bool, error) {
	slot, creator := p.disjointSlotFor(page)

	if creator {
		p.submitDisjointRead(page, n, slot)

		return nil, false, nil
	}

	buf, found, err := slot.TryGet()
	if !found || err != nil {
		return nil, false, err
	}

	if n*PageSize > len(buf.Bytes) {
		slot.Release()

		return nil, false, ErrEndOfFile
	}

	return buf.Bytes[:n*PageSize], true, nil
}

// disjointSlotFor returns the slot for page, creating and inserting an
// Empty one under the write lock if absent. creator reports whether this
// call is the one that inserted the slot, in which case it alone is
// responsible for winning ShouldInit and submitting the read.
func (p *Pager) disjointSlotFor(page uint64) (*disjointSlot, bool) {
	p.disjointMu.RLock()
	slot, ok := p.disjoint[page]
	p.disjointMu.RUnlock()

	if ok {
		return slot, false
	}

	p.disjointMu.Lock()
	defer p.disjointMu.Unlock()

	if slot, ok = p.disjoint[page]; ok {
		return slot, false
	}

	slot = &disjointSlot{}
	p.disjoint[page] = slot

	return slot, true
}

func (p *Pager) submitDisjointRead(page uint64, n int, slot *disjointSlot) {
	if !slot.ShouldInit() {
		// Lost a race with another creator despite the map insert being
		// ours alone; should not happen given disjointSlotFor's locking,
		// but Get() below still resolves correctly either way.
		return
	}

	offset := int64(page) * PageSize
	length := n * PageSize

	err := p.reader.Read(offset, length, blockio.CallbackFunc(
		func(buf *blockio.Buffer, err error, _ any) {
			if err != nil {
				slot.Opps(err)

				return
			}

			slot.Init(buf)
		},
	), nil)
	if err != nil {
		slot.Opps(err)
	}
}
