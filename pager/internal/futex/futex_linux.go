// Package futex wraps the Linux FUTEX_WAIT/FUTEX_WAKE syscalls for sleeping
// on and waking an atomic word without a condition-variable's heap
// allocation or goroutine-park overhead.
package futex

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

// Linux does not expose these opcodes through golang.org/x/sys/unix as named
// constants; they are stable ABI values from <linux/futex.h>.
const (
	opWait        = 0
	opWake        = 1
	opPrivateFlag = 128
)

// Wait blocks while *addr == expected. Spurious wakeups are possible; callers
// must re-check their condition in a loop. Returns immediately, without
// blocking, if *addr != expected at the time of the call.
func Wait(addr *uint32, expected uint32) {
	for {
		_, _, errno := unix.Syscall6(
			unix.SYS_FUTEX,
			uintptr(unsafe.Pointer(addr)),
			uintptr(opWait|opPrivateFlag),
			uintptr(expected),
			0, 0, 0,
		)
		if errno != unix.EINTR {
			return
		}
	}
}

// Wake wakes up to n waiters parked on addr. Returns the number woken.
func Wake(addr *uint32, n int32) int {
	r1, _, _ := unix.Syscall6(
		unix.SYS_FUTEX,
		uintptr(unsafe.Pointer(addr)),
		uintptr(opWake|opPrivateFlag),
		uintptr(n),
		0, 0, 0,
	)

	return int(r1)
}

// WakeAll wakes every waiter parked on addr.
func WakeAll(addr *uint32) int {
	return Wake(addr, 1<<30)
}
