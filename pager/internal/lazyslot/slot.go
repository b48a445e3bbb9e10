// Package lazyslot implements the single-producer/multi-consumer one-shot
// cell described in §4.1: a slot that coordinates first-loader-wins,
// concurrent borrowers, reference counting, error propagation, and
// sleep/wake, all through a single machine word plus one pointer.
//
// §3 specifies this as a 128-bit atomic cell (pointer, refcount, version).
// Go has no portable double-word CAS over an arbitrary struct, so this
// follows the fallback §9 explicitly allows: "a seqlock guarding a
// (ptr, refs, version) tuple, preserving the same public contract." The
// refcount+version pair is packed into one atomic uint64 (CAS'd in a single
// instruction); the value pointer is published through a second atomic
// word, written before the refcount+version CAS that exits the Loading
// state and read only after observing that exit — the standard
// publish-via-pointer ordering Go's own atomic.Value relies on. should_init
// remains a single CAS, so the one-loader invariant holds regardless.
package lazyslot

import (
	"sync/atomic"
	"unsafe"

	"github.com/calvinalkan/pagecache/pager/internal/futex"
)

// sentinelFailed marks the Failed state in the packed word's low 32 bits,
// matching §3's "sentinel marker (references = u32::MAX)".
const sentinelFailed = ^uint32(0)

// Slot is a lazy one-shot cell holding a *T, guarded by a refcount and a
// monotonic version. The zero value is an Empty slot.
type Slot[T any] struct {
	val T_ptr_holder[T]

	// state packs (version:32 | references:32): version in the high bits,
	// references in the low bits. References occupy the low bits so the
	// word itself can serve as the futex address per §4.1's "futex-wait on
	// references==0".
	state uint64

	err atomic.Pointer[error]
}

// T_ptr_holder is a tiny indirection so Slot[T] only needs one
// atomic.Pointer field regardless of T; kept unexported, it exists purely
// to give the pointer field a name distinct from the generic parameter.
type T_ptr_holder[T any] struct {
	p atomic.Pointer[T]
}

func pack(references, version uint32) uint64 {
	return uint64(version)<<32 | uint64(references)
}

func unpack(word uint64) (references, version uint32) {
	return uint32(word), uint32(word >> 32)
}

func (s *Slot[T]) stateWord() *uint32 {
	return (*uint32)(unsafe.Pointer(&s.state))
}

// ShouldInit attempts to transition Empty to Loading. Returns true exactly
// once per Empty→{Loaded,Failed} cycle, to the winning caller.
func (s *Slot[T]) ShouldInit() bool {
	old := atomic.LoadUint64(&s.state)

	refs, ver := unpack(old)
	if s.val.p.Load() != nil || ver != 0 || refs != 0 {
		return false
	}

	return atomic.CompareAndSwapUint64(&s.state, old, pack(0, 1))
}

// HasValue is a fast, possibly-stale, non-blocking snapshot of whether the
// slot currently holds a published value.
func (s *Slot[T]) HasValue() bool {
	return s.val.p.Load() != nil
}

// Init publishes ptr as the slot's value after a successful load. Must be
// called only by the caller that won ShouldInit. Wakes every waiter parked
// on Get.
func (s *Slot[T]) Init(ptr *T) {
	if ptr == nil {
		panic("lazyslot: Init called with nil pointer")
	}

	s.val.p.Store(ptr)

	for {
		old := atomic.LoadUint64(&s.state)

		_, ver := unpack(old)
		next := pack(1, ver+1)

		if atomic.CompareAndSwapUint64(&s.state, old, next) {
			break
		}
	}

	futex.WakeAll(s.stateWord())
}

// Opps publishes a load failure. Must be called only by the caller that won
// ShouldInit. Wakes every waiter parked on Get.
func (s *Slot[T]) Opps(loadErr error) {
	if loadErr == nil {
		panic("lazyslot: Opps called with nil error")
	}

	s.err.Store(&loadErr)

	for {
		old := atomic.LoadUint64(&s.state)

		_, ver := unpack(old)
		next := pack(sentinelFailed, ver+1)

		if atomic.CompareAndSwapUint64(&s.state, old, next) {
			break
		}
	}

	futex.WakeAll(s.stateWord())
}

// Get returns a new borrow of the slot's value, blocking until the slot
// leaves the Empty/Loading state. On success the caller owns one reference
// that must be released with Release. On failure, the slot's terminal error
// is returned and no reference is taken.
func (s *Slot[T]) Get() (*T, error) {
	for {
		old := atomic.LoadUint64(&s.state)

		refs, ver := unpack(old)

		if refs == sentinelFailed {
			if p := s.err.Load(); p != nil {
				return nil, *p
			}

			return nil, errUnexpected
		}

		if ver == 0 {
			// Empty: nobody has won ShouldInit yet. Park until someone
			// transitions the word away from references==0.
			futex.Wait(s.stateWord(), uint32(old))

			continue
		}

		ptr := s.val.p.Load()
		if ptr == nil {
			// Loading: a loader is in flight but hasn't published yet.
			futex.Wait(s.stateWord(), uint32(old))

			continue
		}

		next := pack(refs+1, ver+1)
		if atomic.CompareAndSwapUint64(&s.state, old, next) {
			return ptr, nil
		}
	}
}

// TryGet is the non-blocking counterpart to Get. found is false if the slot
// is still Empty or Loading; it never parks the caller.
func (s *Slot[T]) TryGet() (ptr *T, found bool, err error) {
	for {
		old := atomic.LoadUint64(&s.state)

		refs, ver := unpack(old)

		if refs == sentinelFailed {
			if p := s.err.Load(); p != nil {
				return nil, false, *p
			}

			return nil, false, errUnexpected
		}

		if ver == 0 {
			return nil, false, nil
		}

		p := s.val.p.Load()
		if p == nil {
			return nil, false, nil
		}

		next := pack(refs+1, ver+1)
		if atomic.CompareAndSwapUint64(&s.state, old, next) {
			return p, true, nil
		}
	}
}

// Release gives up one borrow previously obtained from Get. Precondition:
// the slot currently holds a value. Does not wake any waiter — nothing
// blocks on a reference count going down.
func (s *Slot[T]) Release() {
	for {
		old := atomic.LoadUint64(&s.state)

		refs, ver := unpack(old)
		if refs == 0 || refs == sentinelFailed {
			panic("lazyslot: Release called without a matching Get")
		}

		next := pack(refs-1, ver+1)
		if atomic.CompareAndSwapUint64(&s.state, old, next) {
			return
		}
	}
}

// References returns the current reference count. Zero in the Empty,
// Loading, and Failed states.
func (s *Slot[T]) References() uint32 {
	refs, _ := unpack(atomic.LoadUint64(&s.state))
	if refs == sentinelFailed {
		return 0
	}

	return refs
}

// Reset attempts to return a Loaded slot to Empty. Succeeds only if exactly
// one reference is outstanding (the caller's own reservation) and a value
// is present; used by the pager's eviction path. On success the caller
// becomes responsible for freeing the previous value; Reset itself only
// clears the pointer.
func (s *Slot[T]) Reset() (*T, bool) {
	old := atomic.LoadUint64(&s.state)

	refs, _ := unpack(old)
	if refs != 1 {
		return nil, false
	}

	ptr := s.val.p.Load()
	if ptr == nil {
		return nil, false
	}

	if !atomic.CompareAndSwapUint64(&s.state, old, pack(0, 0)) {
		return nil, false
	}

	s.val.p.Store(nil)
	s.err.Store(nil)

	return ptr, true
}

// errUnexpected is returned by Get if the slot reports Failed but no error
// was recorded (should be unreachable; defensive only).
var errUnexpected = &unexpectedErr{}

type unexpectedErr struct{}

func (*unexpectedErr) Error() string { return "lazyslot: failed with no recorded error" }
