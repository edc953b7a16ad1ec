package threadpool

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/joeycumines/go-asynccore/execution"
	"github.com/joeycumines/go-asynccore/queryenv"
)

type countingReceiver struct {
	env   queryenv.Env
	done  chan struct{}
	value atomic.Int32
}

func (r *countingReceiver) SetValue(execution.Unit) { r.value.Store(1); close(r.done) }
func (r *countingReceiver) SetError(error)          { close(r.done) }
func (r *countingReceiver) SetStopped()             { close(r.done) }
func (r *countingReceiver) Env() queryenv.Env       { return r.env }

func TestPool_ScheduleRunsOnAWorker(t *testing.T) {
	p := New(4)
	defer p.Finish()

	recv := &countingReceiver{done: make(chan struct{})}
	op := execution.Connect[execution.Unit](p.Scheduler().Schedule(), recv)
	execution.Start(op)

	select {
	case <-recv.done:
		require.Equal(t, int32(1), recv.value.Load())
	case <-time.After(time.Second):
		t.Fatal("timed out")
	}
}

func TestPool_ManyConcurrentSubmissions(t *testing.T) {
	p := New(8)
	defer p.Finish()

	const n = 500
	var wg sync.WaitGroup
	var counter atomic.Int64
	wg.Add(n)
	for i := 0; i < n; i++ {
		err := p.Enqueue(execution.OperationStateFunc(func() {
			counter.Add(1)
			wg.Done()
		}))
		require.NoError(t, err)
	}
	wg.Wait()
	require.Equal(t, int64(n), counter.Load())
}

func TestPool_EnqueueAfterFinishFails(t *testing.T) {
	p := New(2)
	p.Finish()
	err := p.Enqueue(execution.OperationStateFunc(func() {}))
	require.ErrorIs(t, err, ErrClosed)
}

func TestPool_PanicInTaskIsRecovered(t *testing.T) {
	p := New(1)
	defer p.Finish()

	done := make(chan struct{})
	_ = p.Enqueue(execution.OperationStateFunc(func() {
		defer close(done)
		panic("boom")
	}))
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timed out")
	}

	// worker should still be alive and able to process further work
	recv := &countingReceiver{done: make(chan struct{})}
	op := execution.Connect[execution.Unit](p.Scheduler().Schedule(), recv)
	execution.Start(op)
	select {
	case <-recv.done:
	case <-time.After(time.Second):
		t.Fatal("worker did not recover from panic")
	}
}
