// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

// Package receiveradapt provides Base[V], an embeddable receiver that
// forwards every completion method and Env to an inner receiver unchanged.
// An adaptor receiver embeds Base[V] and overrides only the one or two
// methods it needs to change (in package senders, On's environment-
// overriding receiver does this; the other adaptors there implement
// execution.Receiver directly), the same way the original's adaptor receiver types derive from a
// CRTP base to inherit the pass-through behaviour for everything they don't
// customize.
package receiveradapt

import (
	"github.com/joeycumines/go-asynccore/execution"
	"github.com/joeycumines/go-asynccore/queryenv"
)

// Base forwards SetValue, SetError, SetStopped, and Env to Next. Embed it by
// value in a receiver struct and override whichever methods need different
// behaviour; the embedded promoted methods cover the rest.
type Base[V any] struct {
	Next execution.Receiver[V]
}

func (b Base[V]) SetValue(value V) { b.Next.SetValue(value) }

func (b Base[V]) SetError(err error) { b.Next.SetError(err) }

func (b Base[V]) SetStopped() { b.Next.SetStopped() }

func (b Base[V]) Env() queryenv.Env { return b.Next.Env() }
