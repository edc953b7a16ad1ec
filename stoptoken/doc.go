// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

// Package stoptoken implements in-place (no heap allocation beyond the
// source and callback objects themselves), thread-safe cooperative
// cancellation: a Source owns the "stop requested" flag and an intrusive
// doubly-linked list of registered Callbacks, guarded by a spinlock held in
// a separate 32-bit word. A Token is a cheap, comparable, non-owning handle to a Source
// (or the zero Token, which can never be stopped).
//
// The design is the Go-native analogue of the in_place_stop_source /
// in_place_stop_token / in_place_stop_callback family: a callback registered
// before a stop request is guaranteed to run exactly once; a callback
// registered after a stop request has already completed runs inline, at
// registration time; and closing a callback that races a concurrent stop
// request either unlinks it before it runs, or blocks the closer until the
// callback's invocation completes on the requesting goroutine.
package stoptoken
