// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

// Package channel implements spec.md §4.12's structured-concurrency
// channel: two intrusive queues (pending senders, pending receivers) guard
// a buffer selected by capacity (zero: direct handoff only; positive: a
// bounded ring; Unbounded: an ever-growing deque), with a configurable
// overflow policy for the bounded cases.
package channel

import (
	"context"
	"sync"

	"github.com/joeycumines/go-longpoll"

	"github.com/joeycumines/go-asynccore/awaitable"
	"github.com/joeycumines/go-asynccore/execution"
	"github.com/joeycumines/go-asynccore/queryenv"
	"github.com/joeycumines/go-asynccore/stoptoken"
)

// Policy selects what a bounded channel does when a send arrives and its
// buffer cannot absorb another value.
type Policy int

const (
	// Suspend blocks the sender until a slot frees up. It is the only
	// policy a zero-capacity channel may use.
	Suspend Policy = iota
	// DropOldest evicts the oldest buffered value to make room for the new
	// one; the send itself still completes.
	DropOldest
	// DropLatest silently discards the incoming value; the send itself
	// still completes.
	DropLatest
)

// Unbounded selects an ever-growing deque instead of a fixed-size ring.
const Unbounded = -1

type sendNode[T any] struct {
	value T
	r     execution.Receiver[execution.Unit]
	cb    *stoptoken.Callback
	done  bool
}

type recvNode[T any] struct {
	r    execution.Receiver[T]
	cb   *stoptoken.Callback
	done bool
}

// Channel is spec.md §4.12's channel<T, Policy>.
type Channel[T any] struct {
	mu       sync.Mutex
	policy   Policy
	capacity int
	buf      []T
	sendQ    []*sendNode[T]
	recvQ    []*recvNode[T]
}

// New constructs a channel with the given capacity (0 for a zero-capacity,
// direct-handoff-only channel; Unbounded for an ever-growing deque; any
// positive n for a fixed-size ring buffer) and overflow policy. New panics
// if capacity is 0 and policy is not Suspend, since spec.md §3/§4.12
// restricts the zero-capacity buffer to the suspend policy.
func New[T any](capacity int, policy Policy) *Channel[T] {
	if capacity == 0 && policy != Suspend {
		panic("channel: zero-capacity channel only supports the Suspend policy")
	}
	return &Channel[T]{capacity: capacity, policy: policy}
}

func (c *Channel[T]) canAbsorb() bool {
	return c.capacity == Unbounded || len(c.buf) < c.capacity
}

// SendAsync returns a sender delivering v to the channel: directly to an
// already-waiting receiver, into the buffer if it can absorb one more
// value, or (for DropOldest/DropLatest, once full) silently discarded —
// in every one of those cases the returned sender completes immediately.
// Only under the Suspend policy, once full, does it suspend until a slot or
// a waiting receiver becomes available, per spec.md §4.12's send_async
// protocol.
func (c *Channel[T]) SendAsync(v T) execution.Sender[execution.Unit] {
	return sendSender[T]{c: c, v: v}
}

type sendSender[T any] struct {
	c *Channel[T]
	v T
}

func (s sendSender[T]) Connect(r execution.Receiver[execution.Unit]) execution.OperationState {
	return &sendOp[T]{c: s.c, v: s.v, r: r}
}

type sendOp[T any] struct {
	c *Channel[T]
	v T
	r execution.Receiver[execution.Unit]
}

func (o *sendOp[T]) Start() {
	c := o.c
	c.mu.Lock()
	if len(c.recvQ) > 0 {
		rn := c.recvQ[0]
		c.recvQ = c.recvQ[1:]
		c.mu.Unlock()
		if rn.cb != nil {
			rn.cb.Close()
		}
		rn.r.SetValue(o.v)
		o.r.SetValue(execution.Unit{})
		return
	}
	if c.canAbsorb() {
		c.buf = append(c.buf, o.v)
		c.mu.Unlock()
		o.r.SetValue(execution.Unit{})
		return
	}
	switch c.policy {
	case DropOldest:
		c.buf = append(c.buf[1:], o.v)
		c.mu.Unlock()
		o.r.SetValue(execution.Unit{})
	case DropLatest:
		c.mu.Unlock()
		o.r.SetValue(execution.Unit{})
	default: // Suspend
		n := &sendNode[T]{value: o.v, r: o.r}
		c.sendQ = append(c.sendQ, n)
		c.mu.Unlock()
		tok, _ := queryenv.Lookup(o.r.Env(), queryenv.StopTokenKey)
		if tok.StopPossible() {
			n.cb = stoptoken.NewCallback(tok, func() { c.cancelSend(n) })
		}
	}
}

func (c *Channel[T]) cancelSend(n *sendNode[T]) {
	c.mu.Lock()
	if n.done {
		c.mu.Unlock()
		return
	}
	for i, x := range c.sendQ {
		if x == n {
			c.sendQ = append(c.sendQ[:i], c.sendQ[i+1:]...)
			n.done = true
			break
		}
	}
	c.mu.Unlock()
	if n.done {
		n.r.SetStopped()
	}
}

// ReceiveAsync returns a sender completing with the next value sent on the
// channel: immediately, from the buffer or a waiting sender if either has
// one, or later, once one arrives, per spec.md §4.12's receive_async
// protocol.
func (c *Channel[T]) ReceiveAsync() execution.Sender[T] {
	return recvSender[T]{c: c}
}

type recvSender[T any] struct{ c *Channel[T] }

func (s recvSender[T]) Connect(r execution.Receiver[T]) execution.OperationState {
	return &recvOp[T]{c: s.c, r: r}
}

type recvOp[T any] struct {
	c *Channel[T]
	r execution.Receiver[T]
}

func (o *recvOp[T]) Start() {
	c := o.c
	c.mu.Lock()
	if len(c.buf) > 0 {
		v := c.buf[0]
		c.buf = c.buf[1:]
		var promote *sendNode[T]
		if len(c.sendQ) > 0 {
			promote = c.sendQ[0]
			c.sendQ = c.sendQ[1:]
			c.buf = append(c.buf, promote.value)
		}
		c.mu.Unlock()
		if promote != nil {
			if promote.cb != nil {
				promote.cb.Close()
			}
			promote.r.SetValue(execution.Unit{})
		}
		o.r.SetValue(v)
		return
	}
	if len(c.sendQ) > 0 {
		sn := c.sendQ[0]
		c.sendQ = c.sendQ[1:]
		c.mu.Unlock()
		if sn.cb != nil {
			sn.cb.Close()
		}
		sn.r.SetValue(execution.Unit{})
		o.r.SetValue(sn.value)
		return
	}
	n := &recvNode[T]{r: o.r}
	c.recvQ = append(c.recvQ, n)
	c.mu.Unlock()
	tok, _ := queryenv.Lookup(o.r.Env(), queryenv.StopTokenKey)
	if tok.StopPossible() {
		n.cb = stoptoken.NewCallback(tok, func() { c.cancelRecv(n) })
	}
}

func (c *Channel[T]) cancelRecv(n *recvNode[T]) {
	c.mu.Lock()
	if n.done {
		c.mu.Unlock()
		return
	}
	for i, x := range c.recvQ {
		if x == n {
			c.recvQ = append(c.recvQ[:i], c.recvQ[i+1:]...)
			n.done = true
			break
		}
	}
	c.mu.Unlock()
	if n.done {
		n.r.SetStopped()
	}
}

// Cancel drains both the pending-sender and pending-receiver queues,
// resuming each with set_stopped, per spec.md §4.12's cancel().
func (c *Channel[T]) Cancel() {
	c.mu.Lock()
	sendQ, recvQ := c.sendQ, c.recvQ
	c.sendQ, c.recvQ = nil, nil
	for _, n := range sendQ {
		n.done = true
	}
	for _, n := range recvQ {
		n.done = true
	}
	c.mu.Unlock()

	for _, n := range sendQ {
		if n.cb != nil {
			n.cb.Close()
		}
		n.r.SetStopped()
	}
	for _, n := range recvQ {
		if n.cb != nil {
			n.cb.Close()
		}
		n.r.SetStopped()
	}
}

// Send blocks the calling goroutine until v has been handed off, buffered,
// or dropped, or ctx is cancelled.
func (c *Channel[T]) Send(ctx context.Context, v T) error {
	_, err := awaitable.AwaitChan[execution.Unit](ctx, stoptoken.NeverStopToken, c.SendAsync(v))
	return err
}

// Receive blocks the calling goroutine until a value is available or ctx is
// cancelled.
func (c *Channel[T]) Receive(ctx context.Context) (T, error) {
	return awaitable.AwaitChan[T](ctx, stoptoken.NeverStopToken, c.ReceiveAsync())
}

// ReceiveBatch repeatedly issues ReceiveAsync, assembling a batch under
// min/max-size and partial-timeout constraints, following
// github.com/joeycumines/go-longpoll's Channel helper — there operating on
// a native Go channel, here pumping this channel's ReceiveAsync into one
// internally so the same batching logic applies unchanged. Returns
// context.Canceled (wrapped by longpoll) if ctx is cancelled before the
// constraints are satisfied, and io.EOF if Cancel is called mid-drain.
func (c *Channel[T]) ReceiveBatch(ctx context.Context, cfg *longpoll.ChannelConfig, handler func(T) error) error {
	native := make(chan T)
	pumpCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		defer close(native)
		for {
			v, err := c.Receive(pumpCtx)
			if err != nil {
				return
			}
			select {
			case native <- v:
			case <-pumpCtx.Done():
				return
			}
		}
	}()
	return longpoll.Channel(ctx, cfg, native, handler)
}
