// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

// Package senders implements spec.md §4.2/§5's basic sender algorithms: Just,
// Schedule, Then, LetValue, On, WhenAll (plus fixed-arity typed helpers),
// Race, and StoppedAsOptional.
//
// Go has no variadic-arity generics, so where the original's when_all takes
// an arbitrary pack of senders of arbitrary value types, this package
// provides one untyped engine, WhenAll(...Sender[any]) Sender[[]any], and
// builds WhenAll2/WhenAll3 on top of it by boxing each typed child sender
// into a Sender[any] with Then and unboxing the result tuple afterwards —
// the same "papering over missing variadic generics with small fixed-arity
// helpers" idiom common in the Go ecosystem (e.g. errgroup callers writing
// their own WaitN wrappers).
package senders

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/joeycumines/go-asynccore/execution"
	"github.com/joeycumines/go-asynccore/queryenv"
	"github.com/joeycumines/go-asynccore/receiveradapt"
	"github.com/joeycumines/go-asynccore/stoptoken"
)

// Just returns a sender that completes synchronously, on whichever goroutine
// starts it, with set_value(v).
func Just[V any](v V) execution.Sender[V] {
	return justSender[V]{v: v}
}

type justSender[V any] struct{ v V }

func (s justSender[V]) Connect(r execution.Receiver[V]) execution.OperationState {
	return execution.OperationStateFunc(func() { r.SetValue(s.v) })
}

// Schedule is the schedule CPO, spelled as a plain function for symmetry
// with the rest of this package: it returns sch's trivial completion
// sender.
func Schedule(sch execution.Scheduler) execution.Sender[execution.Unit] {
	return sch.Schedule()
}

func recoverToError(rec any) error {
	if err, ok := rec.(error); ok {
		return fmt.Errorf("senders: panic: %w", err)
	}
	return fmt.Errorf("senders: panic: %v", rec)
}

// Then returns a sender that, once s completes with set_value(v), invokes f
// and forwards its result: f's value return becomes the adaptor's
// set_value, f's error return (or a recovered panic) becomes set_error.
// set_error and set_stopped from s pass straight through without invoking
// f, per spec.md §4.2's "downstream operators that chain on value are
// skipped" propagation policy.
func Then[V, W any](s execution.Sender[V], f func(V) (W, error)) execution.Sender[W] {
	return thenSender[V, W]{s: s, f: f}
}

type thenSender[V, W any] struct {
	s execution.Sender[V]
	f func(V) (W, error)
}

func (t thenSender[V, W]) Connect(r execution.Receiver[W]) execution.OperationState {
	return execution.Connect[V](t.s, &thenReceiver[V, W]{f: t.f, next: r})
}

type thenReceiver[V, W any] struct {
	f    func(V) (W, error)
	next execution.Receiver[W]
}

func (r *thenReceiver[V, W]) SetValue(v V) {
	w, err := r.call(v)
	if err != nil {
		r.next.SetError(err)
		return
	}
	r.next.SetValue(w)
}

func (r *thenReceiver[V, W]) call(v V) (w W, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = recoverToError(rec)
		}
	}()
	return r.f(v)
}

func (r *thenReceiver[V, W]) SetError(err error)  { r.next.SetError(err) }
func (r *thenReceiver[V, W]) SetStopped()         { r.next.SetStopped() }
func (r *thenReceiver[V, W]) Env() queryenv.Env   { return r.next.Env() }

// LetValue returns a sender that, once s completes with set_value(v), calls
// f(v) to produce a continuation sender and connects it directly to the
// adaptor's own downstream receiver, so the continuation's completion
// becomes the whole pipeline's completion (including whatever scheduler it
// finally runs on).
func LetValue[V, W any](s execution.Sender[V], f func(V) execution.Sender[W]) execution.Sender[W] {
	return letValueSender[V, W]{s: s, f: f}
}

type letValueSender[V, W any] struct {
	s execution.Sender[V]
	f func(V) execution.Sender[W]
}

func (l letValueSender[V, W]) Connect(r execution.Receiver[W]) execution.OperationState {
	return execution.Connect[V](l.s, &letValueReceiver[V, W]{f: l.f, next: r})
}

type letValueReceiver[V, W any] struct {
	f    func(V) execution.Sender[W]
	next execution.Receiver[W]
}

func (r *letValueReceiver[V, W]) SetValue(v V) {
	s2, err := r.call(v)
	if err != nil {
		r.next.SetError(err)
		return
	}
	execution.Start(execution.Connect[W](s2, r.next))
}

func (r *letValueReceiver[V, W]) call(v V) (s execution.Sender[W], err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = recoverToError(rec)
		}
	}()
	return r.f(v), nil
}

func (r *letValueReceiver[V, W]) SetError(err error) { r.next.SetError(err) }
func (r *letValueReceiver[V, W]) SetStopped()        { r.next.SetStopped() }
func (r *letValueReceiver[V, W]) Env() queryenv.Env  { return r.next.Env() }

// On returns a sender that first schedules onto sch, then connects and
// starts s, forwarding its completion straight through; the downstream
// receiver's environment observes sch as the (forwarding) SchedulerKey
// query for the duration of s, matching spec.md §8 scenario 2's
// "downstream observes sch2 as the completion scheduler" (s may itself hop
// again, e.g. via its own Schedule/Then pair, which is what actually
// decides where any nested work runs).
func On[V any](sch execution.Scheduler, s execution.Sender[V]) execution.Sender[V] {
	return onSender[V]{sch: sch, s: s}
}

type onSender[V any] struct {
	sch execution.Scheduler
	s   execution.Sender[V]
}

func (o onSender[V]) Connect(r execution.Receiver[V]) execution.OperationState {
	env := queryenv.Adapt(r.Env(), queryenv.KV(queryenv.SchedulerKey, any(o.sch)))
	wrapped := envReceiver[V]{Base: receiveradapt.Base[V]{Next: r}, env: env}
	hop := &onHopReceiver[V]{inner: o.s, next: wrapped}
	return execution.Connect[execution.Unit](o.sch.Schedule(), hop)
}

// envReceiver overrides only Env, forwarding every completion method to Next
// via the embedded receiveradapt.Base.
type envReceiver[V any] struct {
	receiveradapt.Base[V]
	env queryenv.Env
}

func (e envReceiver[V]) Env() queryenv.Env { return e.env }

type onHopReceiver[V any] struct {
	inner execution.Sender[V]
	next  execution.Receiver[V]
}

func (h *onHopReceiver[V]) SetValue(execution.Unit) {
	execution.Start(execution.Connect[V](h.inner, h.next))
}
func (h *onHopReceiver[V]) SetError(err error) { h.next.SetError(err) }
func (h *onHopReceiver[V]) SetStopped()        { h.next.SetStopped() }
func (h *onHopReceiver[V]) Env() queryenv.Env  { return h.next.Env() }

// whenAllOp is the shared N-child join engine behind WhenAll and the typed
// WhenAll2/WhenAll3 helpers built on top of it. It completes with
// set_value(results) iff every child completes with set_value; the first
// error or stopped signal observed cancels the rest (via a scope-local stop
// source bridged from the parent's token) and is forwarded once every child
// has finished unwinding, per spec.md §5/§8's when_all properties.
type whenAllOp struct {
	senders []execution.Sender[any]
	r       execution.Receiver[[]any]

	mu        sync.Mutex
	remaining int
	results   []any
	err       error
	stopped   bool

	stopSrc *stoptoken.Source
	cb      *stoptoken.Callback
}

func (o *whenAllOp) Start() {
	n := len(o.senders)
	o.remaining = n
	o.results = make([]any, n)
	o.stopSrc = stoptoken.NewSource()

	parentTok, _ := queryenv.Lookup(o.r.Env(), queryenv.StopTokenKey)
	if parentTok.StopPossible() {
		o.cb = stoptoken.NewCallback(parentTok, func() { o.stopSrc.RequestStop() })
	}
	if n == 0 {
		if o.cb != nil {
			o.cb.Close()
		}
		o.r.SetValue(nil)
		return
	}

	childEnv := queryenv.Adapt(o.r.Env(), queryenv.KV(queryenv.StopTokenKey, o.stopSrc.Token()))
	for i, s := range o.senders {
		rc := &whenAllChildRecv{op: o, idx: i, env: childEnv}
		execution.Start(execution.Connect[any](s, rc))
	}
}

// completeChild folds a single child's outcome (applied by update, under
// the lock) into the shared state and, once every child has reported,
// delivers exactly one completion to the downstream receiver.
func (o *whenAllOp) completeChild(update func()) {
	o.mu.Lock()
	update()
	o.remaining--
	done := o.remaining == 0
	results, err, stopped := o.results, o.err, o.stopped
	o.mu.Unlock()

	if !done {
		return
	}
	if o.cb != nil {
		o.cb.Close()
	}
	switch {
	case err != nil:
		o.r.SetError(err)
	case stopped:
		o.r.SetStopped()
	default:
		o.r.SetValue(results)
	}
}

func (o *whenAllOp) recordFailure(err error) {
	o.mu.Lock()
	if o.err == nil && !o.stopped {
		if err != nil {
			o.err = err
		} else {
			o.stopped = true
		}
	}
	o.mu.Unlock()
	o.stopSrc.RequestStop()
}

type whenAllChildRecv struct {
	op  *whenAllOp
	idx int
	env queryenv.Env
}

func (r *whenAllChildRecv) SetValue(v any) {
	r.op.completeChild(func() { r.op.results[r.idx] = v })
}
func (r *whenAllChildRecv) SetError(err error) {
	r.op.recordFailure(err)
	r.op.completeChild(func() {})
}
func (r *whenAllChildRecv) SetStopped() {
	r.op.recordFailure(nil)
	r.op.completeChild(func() {})
}
func (r *whenAllChildRecv) Env() queryenv.Env { return r.env }

type whenAllSender struct{ senders []execution.Sender[any] }

func (s whenAllSender) Connect(r execution.Receiver[[]any]) execution.OperationState {
	return &whenAllOp{senders: s.senders, r: r}
}

// WhenAll starts every sender in senders concurrently and completes with
// set_value of their results in argument order once all have completed with
// set_value, per spec.md §8's when_all property.
func WhenAll(senders ...execution.Sender[any]) execution.Sender[[]any] {
	return whenAllSender{senders: append([]execution.Sender[any]{}, senders...)}
}

func boxSender[V any](s execution.Sender[V]) execution.Sender[any] {
	return Then(s, func(v V) (any, error) { return v, nil })
}

// Pair is WhenAll2's result tuple.
type Pair[A, B any] struct {
	A A
	B B
}

// WhenAll2 is WhenAll specialised (by boxing/unboxing through Then) to two
// distinctly-typed senders, the typed convenience spec.md §4.7 calls for in
// place of the original's variadic when_all.
func WhenAll2[A, B any](sa execution.Sender[A], sb execution.Sender[B]) execution.Sender[Pair[A, B]] {
	return Then(WhenAll(boxSender(sa), boxSender(sb)), func(vs []any) (Pair[A, B], error) {
		return Pair[A, B]{A: vs[0].(A), B: vs[1].(B)}, nil
	})
}

// Triple is WhenAll3's result tuple.
type Triple[A, B, C any] struct {
	A A
	B B
	C C
}

// WhenAll3 is the three-sender analogue of WhenAll2.
func WhenAll3[A, B, C any](sa execution.Sender[A], sb execution.Sender[B], sc execution.Sender[C]) execution.Sender[Triple[A, B, C]] {
	return Then(WhenAll(boxSender(sa), boxSender(sb), boxSender(sc)), func(vs []any) (Triple[A, B, C], error) {
		return Triple[A, B, C]{A: vs[0].(A), B: vs[1].(B), C: vs[2].(C)}, nil
	})
}

// raceOp races a fixed set of same-typed senders: the first to complete
// (with any of set_value/set_error/set_stopped) wins, and every other child
// is cancelled via a scope-local stop source, its eventual completion
// discarded, per spec.md §5's race/stopped_as_optional alternative property.
type raceOp[V any] struct {
	senders []execution.Sender[V]
	r       execution.Receiver[V]

	won     atomic.Bool
	stopSrc *stoptoken.Source
	cb      *stoptoken.Callback
}

func (o *raceOp[V]) Start() {
	o.stopSrc = stoptoken.NewSource()
	parentTok, _ := queryenv.Lookup(o.r.Env(), queryenv.StopTokenKey)
	if parentTok.StopPossible() {
		o.cb = stoptoken.NewCallback(parentTok, func() { o.stopSrc.RequestStop() })
	}
	if len(o.senders) == 0 {
		o.r.SetStopped()
		return
	}
	childEnv := queryenv.Adapt(o.r.Env(), queryenv.KV(queryenv.StopTokenKey, o.stopSrc.Token()))
	for _, s := range o.senders {
		rc := &raceChildRecv[V]{op: o, env: childEnv}
		execution.Start(execution.Connect[V](s, rc))
	}
}

func (o *raceOp[V]) win(deliver func()) {
	if !o.won.CompareAndSwap(false, true) {
		return
	}
	o.stopSrc.RequestStop()
	if o.cb != nil {
		o.cb.Close()
	}
	deliver()
}

type raceChildRecv[V any] struct {
	op  *raceOp[V]
	env queryenv.Env
}

func (r *raceChildRecv[V]) SetValue(v V)      { r.op.win(func() { r.op.r.SetValue(v) }) }
func (r *raceChildRecv[V]) SetError(err error) { r.op.win(func() { r.op.r.SetError(err) }) }
func (r *raceChildRecv[V]) SetStopped()        { r.op.win(func() { r.op.r.SetStopped() }) }
func (r *raceChildRecv[V]) Env() queryenv.Env  { return r.env }

type raceSender[V any] struct{ senders []execution.Sender[V] }

func (s raceSender[V]) Connect(r execution.Receiver[V]) execution.OperationState {
	return &raceOp[V]{senders: s.senders, r: r}
}

// Race starts every sender in senders concurrently; the first to complete
// wins and every other is cancelled, its eventual completion discarded.
// Racing zero senders completes with set_stopped.
func Race[V any](senders ...execution.Sender[V]) execution.Sender[V] {
	return raceSender[V]{senders: append([]execution.Sender[V]{}, senders...)}
}

// Optional is StoppedAsOptional's result: Valid is false iff s completed
// with set_stopped.
type Optional[V any] struct {
	Value V
	Valid bool
}

// StoppedAsOptional adapts s so that set_stopped becomes
// set_value(Optional{}) (Valid false) instead of a cancellation signal,
// per spec.md §8 scenario 3 ("stopped_as_optional... yields nullopt, not
// throws"). set_value(v) becomes set_value(Optional{v, true}); set_error
// passes through unchanged.
func StoppedAsOptional[V any](s execution.Sender[V]) execution.Sender[Optional[V]] {
	return stoppedAsOptionalSender[V]{s: s}
}

type stoppedAsOptionalSender[V any] struct{ s execution.Sender[V] }

func (sa stoppedAsOptionalSender[V]) Connect(r execution.Receiver[Optional[V]]) execution.OperationState {
	return execution.Connect[V](sa.s, &stoppedAsOptionalRecv[V]{next: r})
}

type stoppedAsOptionalRecv[V any] struct {
	next execution.Receiver[Optional[V]]
}

func (r *stoppedAsOptionalRecv[V]) SetValue(v V) {
	r.next.SetValue(Optional[V]{Value: v, Valid: true})
}
func (r *stoppedAsOptionalRecv[V]) SetError(err error) { r.next.SetError(err) }
func (r *stoppedAsOptionalRecv[V]) SetStopped()        { r.next.SetValue(Optional[V]{}) }
func (r *stoppedAsOptionalRecv[V]) Env() queryenv.Env  { return r.next.Env() }
