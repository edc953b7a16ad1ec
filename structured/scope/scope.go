// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

// Package scope implements spec.md §4.11's async scope: an outstanding-work
// counter plus a manual-reset event that tracks "counter is zero", and a
// stop source every sender spawned into the scope observes through its
// environment.
//
// Go has a garbage collector, so there is no allocator to thread through
// spawn and no operation-state wrapper to "delete itself" on completion —
// the receiver Spawn connects simply becomes unreachable once it has
// completed. What the original's wrapper actually does (decrement the
// counter, set the event at zero, and treat set_error as fatal) is
// preserved exactly.
package scope

import (
	"context"
	"sync"

	"github.com/joeycumines/go-asynccore/execution"
	"github.com/joeycumines/go-asynccore/glue"
	"github.com/joeycumines/go-asynccore/queryenv"
	"github.com/joeycumines/go-asynccore/stoptoken"
	"github.com/joeycumines/go-asynccore/structured/event"
)

// Scope is spec.md §4.11's async_scope: the structured-concurrency root
// that tracks outstanding spawned work and forwards stop requests to
// everything spawned into it.
type Scope struct {
	logger *glue.Logger
	src    *stoptoken.Source
	evt    *event.ManualResetEvent // set iff outstanding == 0

	mu          sync.Mutex
	outstanding int
}

// Option configures a Scope at construction.
type Option func(*Scope)

// WithLogger installs the structured logger a Scope uses to report spawned
// work that completed with set_error — spec.md §4.11 treats that as fatal,
// and the logger is given a chance to record the failure before the
// program terminates.
func WithLogger(logger *glue.Logger) Option {
	return func(s *Scope) { s.logger = logger }
}

// New constructs an empty Scope (outstanding count zero, depleted event
// already set).
func New(opts ...Option) *Scope {
	s := &Scope{
		logger: glue.NopLogger(),
		src:    stoptoken.NewSource(),
		evt:    event.New(true),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Token returns the stop token every sender spawned into this scope
// observes through its environment.
func (s *Scope) Token() stoptoken.Token { return s.src.Token() }

// RequestStop forwards to the scope's stop source; every sender spawned
// into this scope, past or future, observes the request through its
// environment's stop token, per spec.md §4.11.
func (s *Scope) RequestStop() bool { return s.src.RequestStop() }

// Spawn increments the outstanding-work counter, resets the depleted event,
// connects and starts sndr with a receiver whose environment exposes this
// scope's stop token, and decrements the counter (re-setting the event if
// it reaches zero) on any completion.
//
// set_error on a spawned sender is fatal, per spec.md §4.11 — spawned work
// must handle its own errors — so SetError logs the failure and panics,
// the Go analogue of the original's terminate() call; there is no
// recovering from a programmer contract violation.
func (s *Scope) Spawn(sndr execution.Sender[execution.Unit]) {
	s.mu.Lock()
	s.outstanding++
	s.evt.Reset()
	s.mu.Unlock()

	r := &spawnReceiver{s: s, env: queryenv.New(queryenv.KV(queryenv.StopTokenKey, s.src.Token()))}
	execution.Start(execution.Connect[execution.Unit](sndr, r))
}

type spawnReceiver struct {
	s   *Scope
	env queryenv.Env
}

func (r *spawnReceiver) SetValue(execution.Unit) { r.s.complete() }

func (r *spawnReceiver) SetError(err error) {
	r.s.logger.Err().Err(err).Log("scope: spawned sender completed with set_error, terminating")
	r.s.complete()
	panic(err)
}

func (r *spawnReceiver) SetStopped() { r.s.complete() }

func (r *spawnReceiver) Env() queryenv.Env { return r.env }

func (s *Scope) complete() {
	s.mu.Lock()
	s.outstanding--
	if s.outstanding == 0 {
		s.evt.Set()
	}
	s.mu.Unlock()
}

// DepleteAsync returns a sender completing once the outstanding-work
// counter reaches zero. Its result is meaningless if more work is spawned
// concurrently with awaiting it; callers are expected to stop spawning
// before depleting, per spec.md §4.11's destructor-invariant discipline.
func (s *Scope) DepleteAsync() execution.Sender[execution.Unit] {
	return s.evt.WaitAsync()
}

// Deplete blocks the calling goroutine until the outstanding-work counter
// reaches zero or ctx is cancelled.
func (s *Scope) Deplete(ctx context.Context) error {
	return s.evt.Wait(ctx)
}

// spawnFuture implements spec.md §4.11's spawn_future: an eager sender
// whose result may become available before any receiver connects. The
// original's atomic<void*> three-state handoff (nullptr / self / receiver)
// is realized here with a small state machine guarded by a plain mutex,
// since Go's GC makes a raw untyped pointer CAS handoff both unnecessary
// and unsafe to express directly.
type spawnFuture[V any] struct {
	mu      sync.Mutex
	ready   bool
	value   V
	err     error
	stopped bool
	recv    execution.Receiver[V]
}

// SpawnFuture runs sndr to completion immediately, on its own goroutine,
// independent of whether or when a receiver is ever connected to the
// returned sender, and is tracked against the scope's outstanding-work
// counter exactly like Spawn. Connecting the returned sender delivers the
// (possibly already-computed) result to whatever receiver attaches,
// whichever arrives second — eager production or receiver attachment.
func SpawnFuture[V any](s *Scope, sndr execution.Sender[V]) execution.Sender[V] {
	f := &spawnFuture[V]{}

	s.mu.Lock()
	s.outstanding++
	s.evt.Reset()
	s.mu.Unlock()

	env := queryenv.New(queryenv.KV(queryenv.StopTokenKey, s.src.Token()))
	op := execution.Connect[V](sndr, &futureProducer[V]{f: f, env: env, s: s})
	go execution.Start(op)

	return futureSender[V]{f: f}
}

type futureProducer[V any] struct {
	f   *spawnFuture[V]
	env queryenv.Env
	s   *Scope
}

func (p *futureProducer[V]) deliver(set func(execution.Receiver[V])) {
	p.f.mu.Lock()
	r := p.f.recv
	if r == nil {
		set(nil)
		p.f.ready = true
		p.f.mu.Unlock()
	} else {
		p.f.mu.Unlock()
		set(r)
	}
	p.s.complete()
}

func (p *futureProducer[V]) SetValue(v V) {
	p.deliver(func(r execution.Receiver[V]) {
		if r == nil {
			p.f.value = v
		} else {
			r.SetValue(v)
		}
	})
}

func (p *futureProducer[V]) SetError(err error) {
	p.deliver(func(r execution.Receiver[V]) {
		if r == nil {
			p.f.err = err
		} else {
			r.SetError(err)
		}
	})
}

func (p *futureProducer[V]) SetStopped() {
	p.deliver(func(r execution.Receiver[V]) {
		if r == nil {
			p.f.stopped = true
		} else {
			r.SetStopped()
		}
	})
}

func (p *futureProducer[V]) Env() queryenv.Env { return p.env }

type futureSender[V any] struct{ f *spawnFuture[V] }

func (fs futureSender[V]) Connect(r execution.Receiver[V]) execution.OperationState {
	return &futureOp[V]{f: fs.f, r: r}
}

type futureOp[V any] struct {
	f *spawnFuture[V]
	r execution.Receiver[V]
}

func (o *futureOp[V]) Start() {
	o.f.mu.Lock()
	if o.f.ready {
		o.f.mu.Unlock()
		o.deliverReady()
		return
	}
	o.f.recv = o.r
	o.f.mu.Unlock()
}

func (o *futureOp[V]) deliverReady() {
	switch {
	case o.f.stopped:
		o.r.SetStopped()
	case o.f.err != nil:
		o.r.SetError(o.f.err)
	default:
		o.r.SetValue(o.f.value)
	}
}
