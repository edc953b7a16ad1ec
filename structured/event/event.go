// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

// Package event implements spec.md §4.7's asynchronous manual-reset event:
// a lock-free atomic stack of waiters, woken in FIFO order by Set.
package event

import (
	"context"
	"sync/atomic"

	"github.com/joeycumines/go-asynccore/awaitable"
	"github.com/joeycumines/go-asynccore/execution"
	"github.com/joeycumines/go-asynccore/stoptoken"
)

// waiter is one node of the intrusive LIFO stack of pending waiters. next is
// only ever read/written while it is unreachable from state (i.e. before it
// is published via CAS, or after it has been popped by Set's reversal).
type waiter struct {
	next *waiter
	done func()
}

// setSentinel is a distinguished, never-dereferenced pointer standing in
// for the original's "this" tag: state == setSentinel means "set"; state ==
// nil means "not set, no waiters"; any other value is the head of the
// waiter stack, exactly as spec.md §3 describes the single atomic<void*>.
var setSentinel = &waiter{}

// ManualResetEvent is a single atomic-pointer-backed event: Set publishes
// "set" and wakes every waiter that raced in before it; Reset returns the
// event to "not set". The zero value is a valid, initially-unset event; use
// New(true) for an initially-set one.
type ManualResetEvent struct {
	state atomic.Pointer[waiter]
}

// New constructs a ManualResetEvent, initially set iff initiallySet is true.
func New(initiallySet bool) *ManualResetEvent {
	e := &ManualResetEvent{}
	if initiallySet {
		e.state.Store(setSentinel)
	}
	return e
}

// IsSet reports whether the event is currently set.
func (e *ManualResetEvent) IsSet() bool {
	return e.state.Load() == setSentinel
}

// Set transitions the event to set and wakes every currently-registered
// waiter, in FIFO registration order (the stack, which is LIFO, is reversed
// before being drained, per spec.md §4.7). A Set on an already-set event is
// a no-op. Waiters that race in concurrently with Set either observe "set"
// directly (and complete synchronously) or are woken here; either way, the
// waiter's completion happens-after this call's publish, by the Swap's
// release and the waiter's subsequent CAS/load's acquire.
func (e *ManualResetEvent) Set() {
	old := e.state.Swap(setSentinel)
	if old == setSentinel || old == nil {
		return
	}
	var head *waiter
	for n := old; n != nil; {
		next := n.next
		n.next = head
		head = n
		n = next
	}
	for n := head; n != nil; n = n.next {
		n.done()
	}
}

// Reset transitions a set event back to unset. It is a no-op if the event
// is not set, or if waiters are already registered against it (reset only
// ever races against a concurrent Set, per spec.md §4.7's CAS(this ->
// nullptr)).
func (e *ManualResetEvent) Reset() {
	e.state.CompareAndSwap(setSentinel, nil)
}

// WaitAsync returns a sender that completes with set_value(Unit{}) once the
// event is set: synchronously, on the starting goroutine, if it is already
// set, or later, on whichever goroutine calls Set, otherwise.
func (e *ManualResetEvent) WaitAsync() execution.Sender[execution.Unit] {
	return waitSender{e: e}
}

type waitSender struct{ e *ManualResetEvent }

func (s waitSender) Connect(r execution.Receiver[execution.Unit]) execution.OperationState {
	return &waitOp{e: s.e, r: r}
}

type waitOp struct {
	e *ManualResetEvent
	r execution.Receiver[execution.Unit]
	w waiter
}

func (o *waitOp) Start() {
	o.w.done = func() { o.r.SetValue(execution.Unit{}) }
	for {
		cur := o.e.state.Load()
		if cur == setSentinel {
			o.r.SetValue(execution.Unit{})
			return
		}
		o.w.next = cur
		if o.e.state.CompareAndSwap(cur, &o.w) {
			return
		}
	}
}

// Wait blocks the calling goroutine until the event is set or ctx is
// cancelled, whichever happens first; it is a thin awaitable.AwaitChan
// wrapper over WaitAsync for call sites outside the sender/receiver world.
func (e *ManualResetEvent) Wait(ctx context.Context) error {
	_, err := awaitable.AwaitChan[execution.Unit](ctx, stoptoken.NeverStopToken, e.WaitAsync())
	return err
}
