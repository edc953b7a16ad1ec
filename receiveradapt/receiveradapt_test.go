package receiveradapt_test

import (
	"errors"
	"testing"

	"github.com/joeycumines/go-asynccore/execution"
	"github.com/joeycumines/go-asynccore/queryenv"
	"github.com/joeycumines/go-asynccore/receiveradapt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recording struct {
	env     queryenv.Env
	value   int
	err     error
	stopped bool
}

func (r *recording) SetValue(v int)       { r.value = v }
func (r *recording) SetError(err error)   { r.err = err }
func (r *recording) SetStopped()          { r.stopped = true }
func (r *recording) Env() queryenv.Env    { return r.env }

// doublingReceiver overrides only SetValue; everything else comes from the
// embedded Base.
type doublingReceiver struct {
	receiveradapt.Base[int]
}

func (d doublingReceiver) SetValue(v int) { d.Next.SetValue(v * 2) }

func TestBaseForwardsOverriddenValue(t *testing.T) {
	inner := &recording{}
	var r execution.Receiver[int] = doublingReceiver{Base: receiveradapt.Base[int]{Next: inner}}
	r.SetValue(21)
	assert.Equal(t, 42, inner.value)
}

func TestBaseForwardsUnoverriddenMethods(t *testing.T) {
	inner := &recording{env: queryenv.New()}
	var r execution.Receiver[int] = doublingReceiver{Base: receiveradapt.Base[int]{Next: inner}}

	boom := errors.New("boom")
	r.SetError(boom)
	assert.Equal(t, boom, inner.err)

	r.SetStopped()
	assert.True(t, inner.stopped)

	require.Equal(t, inner.env, r.Env())
}
