// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

// Package sharedmutex implements spec.md §4.9's asynchronous readers/writer
// lock with fair, FIFO handoff: a mutex-guarded holder count plus a
// waiting/pending pair of lists, the same two-list drain-and-reverse shape
// as package mutex, generalized to also batch-resume a contiguous run of
// shared waiters in one handoff.
package sharedmutex

import (
	"context"
	"sync"

	"github.com/joeycumines/go-asynccore/awaitable"
	"github.com/joeycumines/go-asynccore/execution"
	"github.com/joeycumines/go-asynccore/stoptoken"
)

type waiter struct {
	next   *waiter
	unique bool
	done   func()
}

// SharedMutex is a fair readers/writer lock: at most one unique holder, or
// any number of concurrent shared holders, never both at once. The zero
// value is ready to use (unlike Mutex, no sentinel pointer needs seeding).
type SharedMutex struct {
	mu sync.Mutex // the spinlock from spec.md §4.9's mut_

	// holders is 0 (unheld), -1 (unique-held), or a positive shared-holder
	// count, per spec.md §3's shared_holder_.
	holders int

	waiting *waiter // LIFO, newest registration first
	pending *waiter // FIFO handoff order, drained from waiting
}

// New constructs an unheld SharedMutex.
func New() *SharedMutex { return &SharedMutex{} }

// TryLock attempts to acquire unique ownership without waiting.
func (s *SharedMutex) TryLock() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.holders == 0 {
		s.holders = -1
		return true
	}
	return false
}

// TryLockShared attempts to acquire shared ownership without waiting.
func (s *SharedMutex) TryLockShared() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.holders >= 0 && s.waiting == nil && s.pending == nil {
		s.holders++
		return true
	}
	return false
}

// LockAsync returns a sender completing once unique ownership is acquired.
func (s *SharedMutex) LockAsync() execution.Sender[execution.Unit] {
	return lockSender{s: s, unique: true}
}

// LockSharedAsync returns a sender completing once shared ownership is
// acquired.
func (s *SharedMutex) LockSharedAsync() execution.Sender[execution.Unit] {
	return lockSender{s: s, unique: false}
}

type lockSender struct {
	s      *SharedMutex
	unique bool
}

func (ls lockSender) Connect(r execution.Receiver[execution.Unit]) execution.OperationState {
	return &lockOp{s: ls.s, unique: ls.unique, r: r}
}

type lockOp struct {
	s      *SharedMutex
	unique bool
	r      execution.Receiver[execution.Unit]
	w      waiter
}

func (o *lockOp) Start() {
	s := o.s
	s.mu.Lock()
	if o.unique {
		if s.holders == 0 {
			s.holders = -1
			s.mu.Unlock()
			o.r.SetValue(execution.Unit{})
			return
		}
	} else if s.holders >= 0 && s.waiting == nil && s.pending == nil {
		s.holders++
		s.mu.Unlock()
		o.r.SetValue(execution.Unit{})
		return
	}
	o.w.unique = o.unique
	o.w.done = func() { o.r.SetValue(execution.Unit{}) }
	o.w.next = s.waiting
	s.waiting = &o.w
	s.mu.Unlock()
}

// Unlock releases unique ownership and hands off to the next waiter(s).
func (s *SharedMutex) Unlock() {
	s.mu.Lock()
	s.holders = 0
	s.handoffLocked()
}

// UnlockShared releases one shared holder's ownership; if it was the last,
// hands off to the next waiter(s).
func (s *SharedMutex) UnlockShared() {
	s.mu.Lock()
	s.holders--
	if s.holders > 0 {
		s.mu.Unlock()
		return
	}
	s.handoffLocked()
}

// handoffLocked must be called with s.mu held, and always releases it: if
// the head of the pending (FIFO) list is a unique waiter, it alone is
// resumed with exclusive ownership; otherwise every contiguous shared
// waiter at the front of the list is resumed together, incrementing the
// holder count once per resumed waiter, per spec.md §4.9.
func (s *SharedMutex) handoffLocked() {
	if s.pending == nil {
		var rev *waiter
		for n := s.waiting; n != nil; {
			next := n.next
			n.next = rev
			rev = n
			n = next
		}
		s.waiting = nil
		s.pending = rev
	}
	if s.pending == nil {
		s.mu.Unlock()
		return
	}

	head := s.pending
	if head.unique {
		s.pending = head.next
		s.holders = -1
		s.mu.Unlock()
		head.done()
		return
	}

	var toResume []*waiter
	n := s.pending
	for n != nil && !n.unique {
		toResume = append(toResume, n)
		s.holders++
		n = n.next
	}
	s.pending = n
	s.mu.Unlock()
	for _, w := range toResume {
		w.done()
	}
}

// Lock blocks the calling goroutine until unique ownership is acquired or
// ctx is cancelled.
func (s *SharedMutex) Lock(ctx context.Context) error {
	_, err := awaitable.AwaitChan[execution.Unit](ctx, stoptoken.NeverStopToken, s.LockAsync())
	return err
}

// LockShared blocks the calling goroutine until shared ownership is
// acquired or ctx is cancelled.
func (s *SharedMutex) LockShared(ctx context.Context) error {
	_, err := awaitable.AwaitChan[execution.Unit](ctx, stoptoken.NeverStopToken, s.LockSharedAsync())
	return err
}
