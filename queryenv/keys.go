package queryenv

import (
	"reflect"
	"sync"

	"github.com/joeycumines/go-asynccore/stoptoken"
)

// StopTokenKey retrieves the stop token associated with an operation's
// environment. It is a forwarding query: adaptors that don't explicitly
// override it pass it through to their base environment, matching spec.md's
// get_stop_token CPO.
var StopTokenKey = NewKey[stoptoken.Token]("stop_token", true)

// SchedulerKey retrieves the "current" scheduler. senders.On sets it for the
// sender it wraps; no sender in this module reads it to decide where to run.
// Forwarding, per spec.md's get_scheduler CPO.
var SchedulerKey = NewKey[any]("scheduler", true)

// AllocatorKey retrieves an optional pool/allocator hook, the Go analogue of
// the C++ allocator customization point: a func() any returning a pooled
// buffer. No package in this module consults it. Forwarding.
var AllocatorKey = NewKey[func() any]("allocator", true)

var (
	completionSchedulerKeysMu sync.Mutex
	completionSchedulerKeys   = map[reflect.Type]Key[any]{}
)

// CompletionSchedulerKey returns a key identifying the scheduler on which a
// sender is known to complete for the completion channel tagged by Tag (a
// distinct empty type per channel, e.g. a local "valueChannel" type). Each
// Tag gets its own, memoized key identity, matching spec.md's
// get_completion_scheduler CPO family, one per completion-signature tag.
//
// Non-forwarding: this information describes one specific sender's wiring
// and must not leak through unrelated adaptors.
func CompletionSchedulerKey[Tag any]() Key[any] {
	t := reflect.TypeOf((*Tag)(nil)).Elem()

	completionSchedulerKeysMu.Lock()
	defer completionSchedulerKeysMu.Unlock()

	if k, ok := completionSchedulerKeys[t]; ok {
		return k
	}
	k := NewKey[any]("completion_scheduler:"+t.String(), false)
	completionSchedulerKeys[t] = k
	return k
}
