package pager

import (
	"errors"

	"github.com/calvinalkan/pagecache/pager/internal/blockio"
)

// Sentinel errors surfaced at the pager API (§6). The I/O-flavored ones are
// owned by the blockio package, which is what actually observes the
// underlying syscall errno, and re-exported here so callers never need to
// import an internal package to use [errors.Is].
var (
	// ErrOutOfMemory is returned by GetPage/TryPage when eviction cannot
	// bring usage under the hard limit for the block being loaded (§7.1).
	// The charge against size_used is refunded before this is returned.
	//
	// Recovery: the block's slot is left in the Failed state, so later
	// GetPage/TryPage calls for pages of that block return this error again
	// for the life of the Pager. Loads of other blocks can still succeed
	// once the caller releases borrows that eviction can then reclaim.
	ErrOutOfMemory = blockio.ErrOutOfMemory

	// ErrEndOfFile is returned when a read lands at or past the end of the
	// backing file (§7.4), including a page span that runs past the end of
	// a non-block-aligned file's last block.
	//
	// Recovery: none — the requested page range does not exist in the file.
	ErrEndOfFile = blockio.ErrEndOfFile

	// ErrInvalidFileDescriptor is returned when the backing file descriptor
	// is no longer valid (e.g. closed concurrently).
	//
	// Recovery: none — the Pager must be reopened with Open.
	ErrInvalidFileDescriptor = blockio.ErrInvalidFileDescriptor

	// ErrNotRegularFile is returned by Open when path does not name a
	// regular file (§6).
	//
	// Recovery: none — point Open at a regular file instead.
	ErrNotRegularFile = blockio.ErrNotRegularFile

	// ErrParamsOutsideAccessibleAddressSpace is returned when a read's
	// buffer or offset faults against the process address space.
	//
	// Recovery: none — this indicates a defect, not a transient condition.
	ErrParamsOutsideAccessibleAddressSpace = blockio.ErrParamsOutsideAccessibleAddrSpace

	// ErrUnexpected is returned for I/O failures that don't map to a more
	// specific domain error.
	//
	// Recovery: none — treat as fatal for the call that returned it.
	ErrUnexpected = blockio.ErrUnexpected

	// ErrClosed is returned by any operation attempted after Close.
	//
	// This is a programming error.
	ErrClosed = errors.New("pager: closed")

	// ErrInvalidArgument is returned for out-of-range page numbers, zero or
	// negative page counts, and similar caller errors.
	//
	// This is a programming error.
	ErrInvalidArgument = errors.New("pager: invalid argument")
)
