package queryenv

// keyID is the identity of a query. Two Key[T] values constructed from the
// same NewKey call (or aliases of the same variable) share a keyID and
// therefore refer to the same query.
type keyID struct {
	name       string
	forwarding bool
}

// Key is a typed handle to a single query, e.g. "the stop token" or "the
// scheduler". Keys are comparable for identity (two distinct NewKey calls,
// even with the same name, are different queries).
type Key[T any] struct {
	id *keyID
}

// NewKey creates a new, distinct query key. forwarding marks whether the
// query should propagate through an Adapt call that does not explicitly
// override it (spec.md §3's "forwarding query").
func NewKey[T any](name string, forwarding bool) Key[T] {
	return Key[T]{id: &keyID{name: name, forwarding: forwarding}}
}

// Name returns the human-readable name the key was created with.
func (k Key[T]) Name() string { return k.id.name }

// Forwarding reports whether this query propagates through non-overriding
// adaptors.
func (k Key[T]) Forwarding() bool { return k.id.forwarding }

// Entry binds a Key to a value, for use with New and Adapt.
type Entry struct {
	key   *keyID
	value any
}

// KV binds key to val, producing an Entry suitable for New or Adapt.
func KV[T any](key Key[T], val T) Entry {
	return Entry{key: key.id, value: val}
}

// Env is a queryable bag of attributes attached to a receiver or sender, per
// spec.md §3. The zero Env is the empty root environment.
type Env struct {
	entries map[*keyID]any
	base    *Env
}

// New constructs a root environment (no base) from the given entries.
func New(entries ...Entry) Env {
	if len(entries) == 0 {
		return Env{}
	}
	m := make(map[*keyID]any, len(entries))
	for _, e := range entries {
		m[e.key] = e.value
	}
	return Env{entries: m}
}

// Adapt produces a new environment that overrides the named queries and
// forwards every forwarding query (one not named in overrides) to base.
// Non-forwarding queries that are not overridden are not visible through
// the adapted environment, even if base has a value for them.
func Adapt(base Env, overrides ...Entry) Env {
	e := New(overrides...)
	b := base
	e.base = &b
	return e
}

// Lookup retrieves the value bound to key, searching this environment and,
// for forwarding queries not overridden here, its base chain.
func Lookup[T any](env Env, key Key[T]) (T, bool) {
	var zero T
	cur := &env
	for cur != nil {
		if cur.entries != nil {
			if v, ok := cur.entries[key.id]; ok {
				if t, ok2 := v.(T); ok2 {
					return t, true
				}
				return zero, false
			}
		}
		if !key.id.forwarding {
			return zero, false
		}
		cur = cur.base
	}
	return zero, false
}
