package queryenv_test

import (
	"testing"

	"github.com/joeycumines/go-asynccore/queryenv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLookupEmptyEnv(t *testing.T) {
	key := queryenv.NewKey[int]("n", true)
	_, ok := queryenv.Lookup(queryenv.Env{}, key)
	assert.False(t, ok)
}

func TestLookupDirect(t *testing.T) {
	key := queryenv.NewKey[string]("name", true)
	env := queryenv.New(queryenv.KV(key, "alice"))
	v, ok := queryenv.Lookup(env, key)
	require.True(t, ok)
	assert.Equal(t, "alice", v)
}

func TestAdaptOverrides(t *testing.T) {
	key := queryenv.NewKey[int]("n", true)
	base := queryenv.New(queryenv.KV(key, 1))
	adapted := queryenv.Adapt(base, queryenv.KV(key, 2))

	v, ok := queryenv.Lookup(adapted, key)
	require.True(t, ok)
	assert.Equal(t, 2, v)
}

func TestAdaptForwardsUnoverriddenForwardingQuery(t *testing.T) {
	key := queryenv.NewKey[int]("n", true)
	base := queryenv.New(queryenv.KV(key, 42))
	adapted := queryenv.Adapt(base)

	v, ok := queryenv.Lookup(adapted, key)
	require.True(t, ok)
	assert.Equal(t, 42, v)
}

func TestAdaptDoesNotForwardNonForwardingQuery(t *testing.T) {
	key := queryenv.NewKey[int]("n", false)
	base := queryenv.New(queryenv.KV(key, 42))
	adapted := queryenv.Adapt(base)

	_, ok := queryenv.Lookup(adapted, key)
	assert.False(t, ok)
}

func TestAdaptChainForwardsThroughMultipleLevels(t *testing.T) {
	key := queryenv.NewKey[int]("n", true)
	root := queryenv.New(queryenv.KV(key, 7))
	mid := queryenv.Adapt(root)
	leaf := queryenv.Adapt(mid)

	v, ok := queryenv.Lookup(leaf, key)
	require.True(t, ok)
	assert.Equal(t, 7, v)
}

func TestDistinctKeysWithSameNameAreIndependent(t *testing.T) {
	a := queryenv.NewKey[int]("dup", true)
	b := queryenv.NewKey[int]("dup", true)
	env := queryenv.New(queryenv.KV(a, 1))

	_, ok := queryenv.Lookup(env, b)
	assert.False(t, ok)
}

func TestCompletionSchedulerKeyMemoizedPerTag(t *testing.T) {
	type valueTag struct{}
	type errorTag struct{}

	k1 := queryenv.CompletionSchedulerKey[valueTag]()
	k2 := queryenv.CompletionSchedulerKey[valueTag]()
	k3 := queryenv.CompletionSchedulerKey[errorTag]()

	assert.Equal(t, k1, k2)
	assert.NotEqual(t, k1, k3)
	assert.False(t, k1.Forwarding())
}
