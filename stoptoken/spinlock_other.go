//go:build !linux

package stoptoken

import "runtime"

// futexWait has no portable equivalent outside Linux; callers here fall
// back to yielding the processor and re-checking the lock word themselves
// (lockSpin's own loop), matching spec.md §9's guidance to reimplement
// language/OS-specific primitives explicitly where the exact mechanism
// (here, a real futex) isn't available.
func futexWait(addr *uint32, val uint32) {
	runtime.Gosched()
}

// futexWake is a no-op on platforms without futexWait's blocking wait:
// nothing is ever parked in a syscall, so there is nothing to wake.
func futexWake(addr *uint32) {}
