// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

// Package syncwait implements spec.md §4.13's sync_wait: the blocking
// bridge from the sender/receiver world into an ordinary function call,
// used at the top of a call stack (typically main, or a test) to drive a
// sender to completion.
package syncwait

import (
	"context"

	"github.com/joeycumines/go-asynccore/awaitable"
	"github.com/joeycumines/go-asynccore/execution"
	"github.com/joeycumines/go-asynccore/stoptoken"
)

// SyncWait connects and starts s on the calling goroutine, blocking until it
// completes. The three-valued return mirrors spec.md §4.13's
// optional<tuple<...>> result: (value, nil, true) on set_value, (zero, err,
// false) on set_error, and (zero, nil, false) on set_stopped — ok is true
// iff a value was actually produced.
func SyncWait[V any](s execution.Sender[V]) (V, error, bool) {
	v, err := awaitable.AwaitChan[V](context.Background(), stoptoken.NeverStopToken, s)
	if err == nil {
		return v, nil, true
	}
	if err == awaitable.ErrStopped {
		var zero V
		return zero, nil, false
	}
	var zero V
	return zero, err, false
}

// SyncWaitContext is SyncWait, but also completes early with ctx.Err() (ok
// false) if ctx is cancelled before s completes, without itself requesting
// that s stop — see awaitable.AwaitChan's doc comment for the same caveat.
func SyncWaitContext[V any](ctx context.Context, s execution.Sender[V]) (V, error, bool) {
	v, err := awaitable.AwaitChan[V](ctx, stoptoken.NeverStopToken, s)
	if err == nil {
		return v, nil, true
	}
	if err == awaitable.ErrStopped {
		var zero V
		return zero, nil, false
	}
	var zero V
	return zero, err, false
}
