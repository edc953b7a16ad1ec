// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

// Package mutex implements spec.md §4.8's asynchronous mutex: lock-free
// acquisition via a single atomic pointer, and single-writer FIFO draining
// of the waiter stack on unlock, giving fair (FIFO) handoff among waiters.
package mutex

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/joeycumines/go-asynccore/awaitable"
	"github.com/joeycumines/go-asynccore/execution"
	"github.com/joeycumines/go-asynccore/stoptoken"
)

type waiter struct {
	next *waiter
	done func()
}

// unlockedSentinel is the "this" tag from spec.md §3: waiting_ == sentinel
// means unlocked; waiting_ == nil means locked with no pending waiter;
// any other value is the head of the LIFO waiter stack.
var unlockedSentinel = &waiter{}

// Mutex is a lock-free, fair (FIFO-handoff) asynchronous mutual-exclusion
// lock. The zero value is NOT ready to use; construct with New.
type Mutex struct {
	waiting atomic.Pointer[waiter]

	// pending is the FIFO-ordered list drained from waiting by Unlock; it is
	// only ever touched by whichever goroutine is running Unlock at the
	// time, never concurrently, per spec.md §3/§4.8.
	pending *waiter
	mu      sync.Mutex // guards pending only, so concurrent Unlock calls (illegal, but defensive) can't corrupt it
}

// New constructs an unlocked Mutex.
func New() *Mutex {
	m := &Mutex{}
	m.waiting.Store(unlockedSentinel)
	return m
}

// TryLock attempts to acquire the mutex without waiting, returning true iff
// it succeeded.
func (m *Mutex) TryLock() bool {
	return m.waiting.CompareAndSwap(unlockedSentinel, nil)
}

// LockAsync returns a sender that completes with set_value(Unit{}) once the
// mutex has been acquired by the connected receiver's operation.
func (m *Mutex) LockAsync() execution.Sender[execution.Unit] {
	return lockSender{m: m}
}

type lockSender struct{ m *Mutex }

func (s lockSender) Connect(r execution.Receiver[execution.Unit]) execution.OperationState {
	return &lockOp{m: s.m, r: r}
}

type lockOp struct {
	m *Mutex
	r execution.Receiver[execution.Unit]
	w waiter
}

func (o *lockOp) Start() {
	o.w.done = func() { o.r.SetValue(execution.Unit{}) }
	for {
		cur := o.m.waiting.Load()
		if cur == unlockedSentinel {
			if o.m.waiting.CompareAndSwap(unlockedSentinel, nil) {
				o.r.SetValue(execution.Unit{})
				return
			}
			continue
		}
		o.w.next = cur
		if o.m.waiting.CompareAndSwap(cur, &o.w) {
			return
		}
	}
}

// Unlock releases the mutex, handing it directly off to the next waiter (in
// FIFO registration order) if any are pending, or publishing "unlocked"
// otherwise. Calling Unlock on an already-unlocked Mutex is a contract
// violation (spec.md §3's single-owner invariant) and its behaviour is
// undefined; this implementation does not attempt to detect it.
func (m *Mutex) Unlock() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pending == nil {
		if m.waiting.CompareAndSwap(nil, unlockedSentinel) {
			return
		}
		head := m.waiting.Swap(nil)
		var rev *waiter
		for n := head; n != nil; {
			next := n.next
			n.next = rev
			rev = n
			n = next
		}
		m.pending = rev
	}
	n := m.pending
	m.pending = n.next
	n.done()
}

// Lock blocks the calling goroutine until the mutex is acquired or ctx is
// cancelled.
func (m *Mutex) Lock(ctx context.Context) error {
	_, err := awaitable.AwaitChan[execution.Unit](ctx, stoptoken.NeverStopToken, m.LockAsync())
	return err
}
