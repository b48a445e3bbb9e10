package blockio

import (
	"errors"

	"golang.org/x/sys/unix"
)

// Sentinel errors surfaced at the pager API (§6), owned here because this
// package is what actually observes the underlying OS error codes and maps
// them.
var (
	// ErrOutOfMemory indicates mmap failed with ENOMEM allocating a buffer.
	//
	// Recovery: retry after the caller frees other borrows or raises its
	// memory limits.
	ErrOutOfMemory = errors.New("blockio: out of memory")

	// ErrEndOfFile indicates a read landed at or past the end of the file.
	//
	// Recovery: none — the offset is past the data the file actually has.
	ErrEndOfFile = errors.New("blockio: end of file")

	// ErrInvalidFileDescriptor indicates the reader's fd is no longer valid,
	// e.g. closed out from under it.
	//
	// Recovery: none — the Reader must be recreated with Open.
	ErrInvalidFileDescriptor = errors.New("blockio: invalid file descriptor")

	// ErrParamsOutsideAccessibleAddrSpace indicates a read's offset or
	// buffer faulted against the process address space (EFAULT).
	//
	// Recovery: none — this is a defect in the caller's offset/length, not
	// a transient condition.
	ErrParamsOutsideAccessibleAddrSpace = errors.New("blockio: params outside accessible address space")

	// ErrUnexpected is returned for I/O failures that don't map to a more
	// specific domain error.
	//
	// Recovery: none — treat as fatal for the request that triggered it.
	ErrUnexpected = errors.New("blockio: unexpected error")

	// ErrClosed indicates Read was called after Close.
	//
	// This is a programming error.
	ErrClosed = errors.New("blockio: reader closed")

	// ErrNotRegularFile indicates the path passed to Open does not name a
	// regular file (§6: "a regular file opened read-only").
	//
	// Recovery: none — point Open at a regular file instead.
	ErrNotRegularFile = errors.New("blockio: not a regular file")
)

// mapErrno translates a raw errno from mmap/pread/etc. into the domain
// error taxonomy §6 specifies.
func mapErrno(err error) error {
	if err == nil {
		return nil
	}

	var errno unix.Errno
	if !errors.As(err, &errno) {
		return ErrUnexpected
	}

	switch errno {
	case unix.ENOMEM:
		return ErrOutOfMemory
	case unix.EBADF:
		return ErrInvalidFileDescriptor
	case unix.EFAULT:
		return ErrParamsOutsideAccessibleAddrSpace
	default:
		return ErrUnexpected
	}
}

// isTransient reports whether a submission-time error (§7: "SubmissionQueueFull,
// CompletionQueueOvercommitted, SignalInterrupt") should be retried rather
// than delivered to the caller.
func isTransient(err error) bool {
	var errno unix.Errno
	if !errors.As(err, &errno) {
		return false
	}

	return errno == unix.EINTR || errno == unix.EAGAIN
}
