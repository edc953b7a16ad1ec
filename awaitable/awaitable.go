// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

// Package awaitable bridges senders into ordinary blocking Go calls. Go has
// no stackless coroutines to suspend, so where the original bridges a
// sender into a coroutine's await_transform (constructing a one-shot
// awaiter that resumes the coroutine frame on completion), this package
// constructs a one-shot receiver that completes a channel instead, and lets
// the calling goroutine block on it. structured/task builds its own
// goroutine-backed promise type on the same primitive (AwaitChan), which is
// the Go-native substitute for L7's coroutine-promise machinery.
package awaitable

import (
	"context"
	"errors"

	"github.com/joeycumines/go-asynccore/execution"
	"github.com/joeycumines/go-asynccore/queryenv"
	"github.com/joeycumines/go-asynccore/stoptoken"
)

// ErrStopped is returned by AwaitChan when the sender completes with
// set_stopped rather than set_value or set_error.
var ErrStopped = errors.New("awaitable: operation was cancelled")

type result[V any] struct {
	value   V
	err     error
	stopped bool
}

type chanReceiver[V any] struct {
	env queryenv.Env
	ch  chan result[V]
}

func (r *chanReceiver[V]) SetValue(v V)       { r.ch <- result[V]{value: v} }
func (r *chanReceiver[V]) SetError(err error) { r.ch <- result[V]{err: err} }
func (r *chanReceiver[V]) SetStopped()        { r.ch <- result[V]{stopped: true} }
func (r *chanReceiver[V]) Env() queryenv.Env  { return r.env }

// AwaitChan connects and starts s, then blocks the calling goroutine until
// it completes, translating the completion into a (value, error) pair:
// set_value yields (value, nil); set_error yields (zero, err); set_stopped
// yields (zero, ErrStopped). tok is installed into the connected receiver's
// environment as the stop token s will observe (queryenv.StopTokenKey).
//
// If ctx is cancelled before s completes, AwaitChan returns (zero,
// ctx.Err()) immediately without waiting further — the same ctx.Done()
// fallback race the teacher's event loop runs in Promisify — without
// requesting that s itself stop; callers that need s to actually unwind
// must arrange for tok's source to observe ctx's cancellation (for example
// by deriving tok from ctx up front) so the two don't merely race.
func AwaitChan[V any](ctx context.Context, tok stoptoken.Token, s execution.Sender[V]) (V, error) {
	var zero V

	env := queryenv.New(queryenv.KV(queryenv.StopTokenKey, tok))
	recv := &chanReceiver[V]{env: env, ch: make(chan result[V], 1)}

	op := execution.Connect[V](s, recv)
	execution.Start(op)

	select {
	case r := <-recv.ch:
		if r.stopped {
			return zero, ErrStopped
		}
		if r.err != nil {
			return zero, r.err
		}
		return r.value, nil
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}
