// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

// Package queryenv implements typed attribute lookup on receivers and
// senders: a record, built at run time, mapping query keys to values, per spec.md
// §3 "Environment". The root Env is empty; Adapt produces a new Env that
// overrides named queries and forwards all queries tagged "forwarding" to
// the base environment. Non-forwarding queries do not propagate through
// adaptors, matching spec.md's forwarding-query rule.
package queryenv
