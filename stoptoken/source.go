package stoptoken

import (
	"sync/atomic"
)

const (
	lockUnlocked          uint32 = 0
	lockLockedNoWaiters   uint32 = 1
	lockLockedWithWaiters uint32 = 2
)

// callbackState mirrors clu::in_place_stop_source's not_started / started /
// completed states, tracked per callback.
type callbackState int32

const (
	cbNotStarted callbackState = iota
	cbStarted
	cbCompleted
)

// Callback is a heap-allocated, but heap-less-in-spirit, one-shot
// cancellation handler: it registers on construction and deregisters on
// Close. Its lifetime is meant to be strictly bounded by the caller's own
// scope, exactly as a stop_callback is in the spec.
type Callback struct {
	source *Source
	fn     func()

	// prev/next form the intrusive doubly-linked list node; guarded by
	// source.lock.
	prev, next *Callback

	state             atomic.Int32
	removedDuringExec bool

	// done is closed when the callback's invocation completes, so a
	// concurrent Close on another goroutine can block on it instead of a
	// futex-style wait/notify (Go has no portable futex primitive; a
	// closed channel is the idiomatic substitute, per spec.md §9's guidance
	// to reimplement intrusive-lock-free-stack ordering explicitly).
	done chan struct{}

	closeOnce atomic.Bool
}

// Close deregisters the callback. If the callback is currently executing on
// a different goroutine, Close blocks until that execution completes. If
// the callback is executing reentrantly (i.e. Close is called from within
// the callback's own function), Close returns immediately without blocking.
// Close is idempotent; calling it more than once is a safe no-op after the
// first call.
func (c *Callback) Close() {
	if c == nil || c.source == nil {
		return
	}
	if !c.closeOnce.CompareAndSwap(false, true) {
		return
	}
	c.source.detach(c)
}

// Source owns the cancellation state: a one-way "requested" flag and the
// list of registered callbacks. The zero Source is usable.
type Source struct {
	requested atomic.Bool

	// lock is the spinlock guarding head, a uint32 word kept apart from head
	// and holding one of three values: lockUnlocked, lockLockedNoWaiters,
	// lockLockedWithWaiters (spec.md §3/§4.1). The uncontended path is a
	// single CAS; the contended path parks on a real futex (Linux) or yields
	// (other platforms), see spinlock_linux.go/spinlock_other.go.
	lock uint32
	head *Callback

	// requestingG records the goroutine that is (or most recently was)
	// inside RequestStop, so detach can distinguish reentrant self-removal
	// from cross-goroutine removal.
	requestingG atomic.Uint64
}

// NewSource returns a ready-to-use Source. Using &Source{} directly is also
// valid; NewSource exists for symmetry with the rest of the package's
// constructors.
func NewSource() *Source { return &Source{} }

// Token returns a non-owning handle to the source's cancellation state.
func (s *Source) Token() Token {
	if s == nil {
		return Token{}
	}
	return Token{source: s}
}

// StopRequested reports whether RequestStop has been called and completed
// its transition.
func (s *Source) StopRequested() bool {
	return s != nil && s.requested.Load()
}

// RequestStop requests cancellation, invoking every registered callback
// exactly once, in LIFO registration order, on the calling goroutine. It
// returns true iff this call performed the not-requested -> requested
// transition; subsequent calls return false without invoking any callback.
//
// Per spec.md §4.1's request-stop protocol: the requester repeatedly detaches
// the current head, releases the lock, executes the callback, and
// reacquires to process the next one, so that callback bodies never run
// while the spinlock is held (and so a callback's own Close call can observe
// the list consistently).
func (s *Source) RequestStop() bool {
	if s.requested.Load() {
		return false
	}
	s.lockSpin()
	if s.requested.Load() {
		s.unlock()
		return false
	}
	s.requestingG.Store(getGoroutineID())
	s.requested.Store(true)
	current := s.head
	s.head = nil
	for current != nil {
		newHead := current.next
		if newHead != nil {
			newHead.prev = nil
		}
		current.state.Store(int32(cbStarted))
		s.head = newHead
		s.unlock()

		current.fn()

		if !current.removedDuringExec {
			current.state.Store(int32(cbCompleted))
			if current.done != nil {
				close(current.done)
			}
		}

		s.lockSpin()
		current = s.head
	}
	s.head = nil
	s.unlock()
	return true
}

// attach registers cb at the head of the callback list. It returns false,
// without registering, if stop has already been requested; the caller must
// then invoke the callback inline.
func (s *Source) attach(cb *Callback) bool {
	if s.requested.Load() {
		return false
	}
	s.lockSpin()
	if s.requested.Load() {
		s.unlock()
		return false
	}
	cb.next = s.head
	if s.head != nil {
		s.head.prev = cb
	}
	s.head = cb
	s.unlock()
	return true
}

// detach removes cb from the callback list, or, if cb is currently
// executing, blocks (unless called reentrantly from within cb's own
// function) until that execution completes.
func (s *Source) detach(cb *Callback) {
	s.lockSpin()
	if callbackState(cb.state.Load()) == cbNotStarted {
		if cb.next != nil {
			cb.next.prev = cb.prev
		}
		if cb.prev != nil {
			cb.prev.next = cb.next
		} else {
			s.head = cb.next
		}
		s.unlock()
		return
	}

	requestingG := s.requestingG.Load()
	s.unlock() // the list won't be touched further for this callback

	if getGoroutineID() == requestingG {
		cb.removedDuringExec = true
		return
	}
	if cb.done != nil {
		<-cb.done
	}
}

// lockSpin is the lock_and_load half of spec.md §4.1's protocol: a CAS
// uncontended fast path, falling back to marking the word
// lockLockedWithWaiters and parking on futexWait when another holder is
// already in the critical section.
func (s *Source) lockSpin() {
	if atomic.CompareAndSwapUint32(&s.lock, lockUnlocked, lockLockedNoWaiters) {
		return
	}
	for {
		cur := atomic.LoadUint32(&s.lock)
		switch cur {
		case lockUnlocked:
			if atomic.CompareAndSwapUint32(&s.lock, lockUnlocked, lockLockedNoWaiters) {
				return
			}
		case lockLockedNoWaiters:
			atomic.CompareAndSwapUint32(&s.lock, lockLockedNoWaiters, lockLockedWithWaiters)
		default: // lockLockedWithWaiters
			futexWait(&s.lock, lockLockedWithWaiters)
		}
	}
}

// unlock is store_and_unlock: it publishes lockUnlocked and wakes a parked
// waiter only if the "should notify" state (lockLockedWithWaiters) was set.
func (s *Source) unlock() {
	old := atomic.SwapUint32(&s.lock, lockUnlocked)
	if old == lockLockedWithWaiters {
		futexWake(&s.lock)
	}
}
