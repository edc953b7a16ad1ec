// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

// Package task implements spec.md §4.10's task coroutine as a goroutine-
// backed promise: Go has no stackless coroutines to suspend and resume, so
// where the original awaits senders inline inside a coroutine frame, a
// Task's function runs on its own goroutine and awaits senders with
// package awaitable's AwaitChan, the Go-native realization of the "sender-
// awaiter" bridge spec.md §4.3 describes.
//
// Stop-token propagation collapses spec.md §4.10's three cases into one:
// whatever stop token the connecting receiver's environment exposes (an
// in-place one, a different kind, or none at all — Token is a plain, cheap
// handle regardless, so there is no "zero-cost special case" to carve out
// the way the original does for its in_place_stop_token) is bridged, via a
// one-shot callback, into a local stop source whose token is what the
// task's function actually observes; requesting stop on the parent cancels
// the child's context, so any AwaitChan call inside fn unblocks promptly.
package task

import (
	"context"
	"errors"
	"fmt"

	"github.com/joeycumines/go-asynccore/awaitable"
	"github.com/joeycumines/go-asynccore/execution"
	"github.com/joeycumines/go-asynccore/queryenv"
	"github.com/joeycumines/go-asynccore/stoptoken"
)

// Func is the body of a Task: given a context that is cancelled when stop
// is requested and the task's own stop token, it computes a V or reports an
// error. Returning an error satisfying errors.Is(err, awaitable.ErrStopped)
// (as AwaitChan itself does, when the sender it awaited was cancelled)
// delivers set_stopped instead of set_error — the natural way a task body
// that merely propagates an awaited sender's cancellation ends up
// reporting the same signal outward.
type Func[V any] func(ctx context.Context, tok stoptoken.Token) (V, error)

// Task is a lazy, single-shot coroutine analogue: connecting it materializes
// an operation state that, once started, spawns exactly one goroutine
// running Fn.
type Task[V any] struct {
	Fn Func[V]
}

// New constructs a Task running fn once started.
func New[V any](fn Func[V]) *Task[V] {
	return &Task[V]{Fn: fn}
}

// Connect implements execution.Sender[V].
func (t *Task[V]) Connect(r execution.Receiver[V]) execution.OperationState {
	return &taskOp[V]{t: t, r: r}
}

type taskOp[V any] struct {
	t *Task[V]
	r execution.Receiver[V]
}

func (o *taskOp[V]) Start() {
	parentTok, _ := queryenv.Lookup(o.r.Env(), queryenv.StopTokenKey)
	childSrc := stoptoken.NewSource()

	var parentCb *stoptoken.Callback
	if parentTok.StopPossible() {
		parentCb = stoptoken.NewCallback(parentTok, func() { childSrc.RequestStop() })
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancelCb := stoptoken.NewCallback(childSrc.Token(), cancel)

	go func() {
		defer cancelCb.Close()
		defer cancel()
		if parentCb != nil {
			defer parentCb.Close()
		}
		defer func() {
			if rec := recover(); rec != nil {
				o.r.SetError(fmt.Errorf("task: panic: %v", rec))
			}
		}()

		v, err := o.t.Fn(ctx, childSrc.Token())
		switch {
		case errors.Is(err, awaitable.ErrStopped):
			o.r.SetStopped()
		case err != nil:
			o.r.SetError(err)
		default:
			o.r.SetValue(v)
		}
	}()
}
