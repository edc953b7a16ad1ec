// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

// Package execution implements the sender/receiver customization protocol
// (spec.md §4.2): Sender[V] describes an operation that, once connected to a
// Receiver[V] and started, completes exactly once by calling SetValue,
// SetError, or SetStopped. There is no ADL in Go, so the customization
// points that in the original are free functions dispatched by argument-
// dependent lookup are here plain generic functions that call the
// corresponding interface method; this package exists mainly to give the
// protocol one place to live and to host the package-level documentation of
// its contract.
package execution

import "github.com/joeycumines/go-asynccore/queryenv"

// Receiver consumes exactly one completion signal from a connected
// operation: SetValue on success, SetError on failure, or SetStopped on
// cancellation. set_error and set_stopped are mandated not to panic
// (spec.md's noexcept requirement); a Receiver implementation that panics
// from either violates the contract and its behaviour is undefined.
//
// Env returns the receiver's queryable environment, consulted by senders and
// operation states for the ambient stop token, scheduler, and allocator
// (queryenv.StopTokenKey, SchedulerKey, AllocatorKey).
type Receiver[V any] interface {
	SetValue(value V)
	SetError(err error)
	SetStopped()
	Env() queryenv.Env
}

// OperationState is the immovable (by convention: never copied after
// Connect returns) object that Connect produces. Start transitions it from
// constructed to started; Start itself must never panic, and must
// eventually, exactly once, call one of the connected receiver's completion
// methods (spec.md §4.2's completion contract).
type OperationState interface {
	Start()
}

// Sender describes an asynchronous operation that produces a single value
// of type V, or an error, or a cancellation. Connect must not begin any
// work; it only materializes the OperationState that Start will later
// launch.
type Sender[V any] interface {
	Connect(r Receiver[V]) OperationState
}

// Connect is the connect CPO: it materializes an OperationState bound to r
// without starting it.
func Connect[V any](s Sender[V], r Receiver[V]) OperationState {
	return s.Connect(r)
}

// Start is the start CPO: it begins executing op, which must go on to
// deliver exactly one completion signal to the receiver it was connected
// with.
func Start(op OperationState) {
	op.Start()
}

// GetEnv is the get_env CPO: it returns the environment a receiver exposes
// for queries made by the sender it is connected to.
func GetEnv[V any](r Receiver[V]) queryenv.Env {
	return r.Env()
}

// Unit stands in for C++'s void completion: senders that complete with "no
// value" are modelled as Sender[Unit], completing with the zero Unit value.
type Unit struct{}

// Scheduler is the schedule CPO's target: anything that can produce a
// trivial Sender[Unit] completing on its associated execution context.
// The run loop and thread pool schedulers implement this; the timer loop
// does not, and offers ScheduleAfter instead.
type Scheduler interface {
	Schedule() Sender[Unit]
}

// funcOperationState adapts a plain func() into an OperationState, for
// senders whose Connect can fully describe Start as a closure.
type funcOperationState func()

func (f funcOperationState) Start() { f() }

// OperationStateFunc returns an OperationState whose Start calls fn.
func OperationStateFunc(fn func()) OperationState {
	return funcOperationState(fn)
}
