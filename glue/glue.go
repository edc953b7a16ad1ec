// Package glue holds the L8 "glue" layer from spec.md §2: a name for the
// type-erased scheduler, and the ambient structured-logging seam every
// execution context and structured primitive in this module accepts.
//
// Go interface values are already type erasure, so unlike the original's
// std::execution (which needs an explicit vtable-based any_scheduler to
// store heterogeneous scheduler types in one container), this package's
// Scheduler is a plain alias of execution.Scheduler: no wrapper or adapter
// is built around it.
package glue

import (
	"github.com/joeycumines/izerolog"
	"github.com/joeycumines/logiface"
	"github.com/rs/zerolog"

	"github.com/joeycumines/go-asynccore/execution"
)

// Scheduler type-erases a concrete execution.Scheduler so it can be stored
// alongside others of different concrete type, e.g. a run-loop and a
// thread-pool scheduler in one slice. It is just an alias:
// any execution.Scheduler value already satisfies it.
type Scheduler = execution.Scheduler

// Logger is the ambient structured-logging seam (spec.md §2's expansion):
// every execution context and structured primitive in this module accepts
// one, following the teacher's eventloop/logging.go's package-level
// swappable Logger, but threaded explicitly per instance instead of through
// a package global, so independent run loops/pools/scopes in the same
// process can be configured independently.
//
// The event type parameter is pinned to *izerolog.Event rather than left
// generic over logiface.Event: Go generics are invariant, and every logger
// this package constructs — NopLogger included — is ultimately backed by
// izerolog, so every context in this module agrees on one concrete Logger
// type instead of each needing its own type parameter.
type Logger = logiface.Logger[*izerolog.Event]

// NopLogger returns a Logger with no writer backend configured: it never
// actually logs, so it is a safe, low-overhead default for execution
// contexts and structured primitives that are not given an explicit one.
func NopLogger() *Logger {
	return izerolog.L.New()
}

// NewZerologLogger returns a Logger backed by zl, at the given minimum
// level, using github.com/joeycumines/izerolog exactly the way the
// teacher's sibling logiface-zerolog integration is used in its own test
// suite (izerolog.L.New(izerolog.L.WithZerolog(zl), ...)).
func NewZerologLogger(zl zerolog.Logger, level logiface.Level) *Logger {
	return izerolog.L.New(
		izerolog.L.WithZerolog(zl),
		logiface.WithLevel[*izerolog.Event](level),
	)
}
