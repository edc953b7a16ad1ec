//go:build linux

package stoptoken

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

const (
	linuxFutexWait = 0 // FUTEX_WAIT
	linuxFutexWake = 1 // FUTEX_WAKE
)

// futexWait parks the calling goroutine until another goroutine calls
// futexWake on addr, or *addr no longer equals val at the instant the
// kernel checks (so a concurrent unlock racing with this call never causes
// a missed wakeup). This is the literal "futex-style wait" spec.md §4.1/§9
// asks for on the contended path of the stop-source's pointer-tagged lock
// word; the uncontended CAS fast path in lockSpin never reaches this call.
func futexWait(addr *uint32, val uint32) {
	// ETIMEDOUT/EAGAIN/EINTR are all benign: the caller always re-checks the
	// lock word itself in a loop after returning from futexWait.
	_, _, _ = unix.Syscall6(
		unix.SYS_FUTEX,
		uintptr(unsafe.Pointer(addr)),
		uintptr(linuxFutexWait),
		uintptr(val),
		0, 0, 0,
	)
}

// futexWake wakes at most one goroutine parked in futexWait on addr.
func futexWake(addr *uint32) {
	_, _, _ = unix.Syscall6(
		unix.SYS_FUTEX,
		uintptr(unsafe.Pointer(addr)),
		uintptr(linuxFutexWake),
		1,
		0, 0, 0,
	)
}
