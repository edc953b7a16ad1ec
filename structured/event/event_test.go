package event_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joeycumines/go-asynccore/execution"
	"github.com/joeycumines/go-asynccore/queryenv"
	"github.com/joeycumines/go-asynccore/structured/event"
)

type valueReceiver struct {
	ch chan struct{}
}

func (r *valueReceiver) SetValue(execution.Unit)  { close(r.ch) }
func (r *valueReceiver) SetError(error)           {}
func (r *valueReceiver) SetStopped()              {}
func (r *valueReceiver) Env() queryenv.Env        { return queryenv.Env{} }

func TestWaitAsyncCompletesSynchronouslyWhenAlreadySet(t *testing.T) {
	e := event.New(true)
	recv := &valueReceiver{ch: make(chan struct{})}
	execution.Start(execution.Connect[execution.Unit](e.WaitAsync(), recv))
	select {
	case <-recv.ch:
	default:
		t.Fatal("expected synchronous completion")
	}
}

func TestSetWakesWaiters(t *testing.T) {
	e := event.New(false)
	const n = 8
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			require.NoError(t, e.Wait(ctx))
		}()
	}
	time.Sleep(10 * time.Millisecond)
	e.Set()
	wg.Wait()
}

func TestResetThenSetAgain(t *testing.T) {
	e := event.New(true)
	e.Reset()
	assert.False(t, e.IsSet())

	done := make(chan struct{})
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = e.Wait(ctx)
		close(done)
	}()
	time.Sleep(5 * time.Millisecond)
	select {
	case <-done:
		t.Fatal("wait completed before Set")
	default:
	}
	e.Set()
	<-done
}

// TestManualResetEventCrossThreadHandoff is spec.md §8 scenario 4: a write
// performed before Set, on the setting goroutine, must be visible to the
// waiter's continuation once it observes completion.
func TestManualResetEventCrossThreadHandoff(t *testing.T) {
	e := event.New(false)
	var shared int
	done := make(chan struct{})
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		require.NoError(t, e.Wait(ctx))
		assert.Equal(t, 42, shared)
		close(done)
	}()
	time.Sleep(5 * time.Millisecond)
	shared = 42
	e.Set()
	<-done
}
