package pager

import "github.com/calvinalkan/pagecache/pager/internal/blockio"

// blockOf returns the block number containing page.
func blockOf(page uint64) uint64 {
	return page / PagesPerBlock
}

// offsetInBlock returns the byte offset of page within its block.
func offsetInBlock(page uint64) int {
	return int(page%PagesPerBlock) * PageSize
}

// isDisjoint reports whether a span of n pages starting at page crosses a
// block boundary (§4.3).
func isDisjoint(page uint64, n int) bool {
	if n <= 0 {
		return false
	}

	return blockOf(page) != blockOf(page+uint64(n)-1)
}

// freeBlockBuffer reverses the read-only mprotect a full block read applies
// and releases the mapping. Called only after a successful Reset, so no
// other holder can observe the buffer mid-transition.
func freeBlockBuffer(buf *blockio.Buffer) {
	_ = buf.MarkWritable()
	_ = buf.Free()
}
