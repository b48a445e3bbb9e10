package blockio

import "golang.org/x/sys/unix"

// Buffer is a page-aligned, anonymously-mapped byte region used to hold the
// result of a read. Backing it with mmap rather than make([]byte, n) lets
// the reader enforce the read-only defense-in-depth mprotect call §4.2
// describes for full, page-aligned reads.
//
// Bytes may be shorter than the original mapping after a short read (the
// backing file need not be block-aligned, per §6). mapped always covers the
// full mmap region regardless of how much of it Bytes currently exposes, so
// Free unmaps everything that was mapped, not just the valid prefix.
type Buffer struct {
	Bytes  []byte
	mapped []byte
}

// newBuffer allocates an anonymous, zero-filled, read-write mapping of
// exactly n bytes.
func newBuffer(n int) (*Buffer, error) {
	b, err := unix.Mmap(-1, 0, n, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	if err != nil {
		return nil, mapErrno(err)
	}

	return &Buffer{Bytes: b, mapped: b}, nil
}

// markReadOnly mprotects the buffer PROT_READ. The only legitimate mutator
// of a fully-read buffer is the reader itself, on the next load into the
// same slot after an eviction and reset — by which point the buffer has
// already been freed and a new one allocated, so this is pure
// defense-in-depth, not a correctness dependency.
func (b *Buffer) markReadOnly() error {
	return unix.Mprotect(b.mapped, unix.PROT_READ)
}

// MarkWritable reverses markReadOnly. The pager calls this on the block a
// Reset() hands back, before Free, so the unmap itself never touches a
// read-only mapping.
func (b *Buffer) MarkWritable() error {
	return unix.Mprotect(b.mapped, unix.PROT_READ|unix.PROT_WRITE)
}

// Free releases the mapping. The buffer must not be used afterward.
func (b *Buffer) Free() error {
	return unix.Munmap(b.mapped)
}
