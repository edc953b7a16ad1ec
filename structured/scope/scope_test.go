package scope_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joeycumines/go-asynccore/execution"
	"github.com/joeycumines/go-asynccore/queryenv"
	"github.com/joeycumines/go-asynccore/senders"
	"github.com/joeycumines/go-asynccore/structured/scope"
)

func unitSender(fn func()) execution.Sender[execution.Unit] {
	return senders.Then(senders.Just(execution.Unit{}), func(execution.Unit) (execution.Unit, error) {
		fn()
		return execution.Unit{}, nil
	})
}

func TestScopeInitiallyDepleted(t *testing.T) {
	s := scope.New()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, s.Deplete(ctx))
}

func TestScopeSpawnThenDeplete(t *testing.T) {
	s := scope.New()
	done := make(chan struct{})
	s.Spawn(unitSender(func() { close(done) }))

	<-done
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, s.Deplete(ctx))
}

func TestScopeDepleteBlocksWhileWorkOutstanding(t *testing.T) {
	s := scope.New()
	release := make(chan struct{})
	spawnedRunning := make(chan struct{})
	s.Spawn(unitSender(func() {
		close(spawnedRunning)
		<-release
	}))
	<-spawnedRunning

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := s.Deplete(ctx)
	require.Error(t, err)

	close(release)
	ctx2, cancel2 := context.WithTimeout(context.Background(), time.Second)
	defer cancel2()
	require.NoError(t, s.Deplete(ctx2))
}

func TestScopeRequestStopReachesScopeToken(t *testing.T) {
	s := scope.New()
	tok := s.Token()
	require.False(t, tok.StopRequested())
	s.RequestStop()
	require.True(t, tok.StopRequested())
}

func TestScopeSpawnPanicsOnSpawnedError(t *testing.T) {
	s := scope.New()
	boom := errors.New("spawned task failed")
	errSender := senders.Then(senders.Just(execution.Unit{}), func(execution.Unit) (execution.Unit, error) {
		return execution.Unit{}, boom
	})

	panicked := make(chan any, 1)
	func() {
		defer func() { panicked <- recover() }()
		s.Spawn(errSender)
	}()
	assert.NotNil(t, <-panicked)
}

type valueReceiver[V any] struct {
	env  queryenv.Env
	ch   chan V
	errs chan error
}

func newValueReceiver[V any]() *valueReceiver[V] {
	return &valueReceiver[V]{env: queryenv.New(), ch: make(chan V, 1), errs: make(chan error, 1)}
}

func (r *valueReceiver[V]) SetValue(v V)       { r.ch <- v }
func (r *valueReceiver[V]) SetError(err error) { r.errs <- err }
func (r *valueReceiver[V]) SetStopped()        { r.errs <- errors.New("stopped") }
func (r *valueReceiver[V]) Env() queryenv.Env  { return r.env }

func TestSpawnFutureDeliversToLateReceiver(t *testing.T) {
	s := scope.New()
	produced := make(chan struct{})
	fut := scope.SpawnFuture[int](s, senders.Then(senders.Just(execution.Unit{}), func(execution.Unit) (int, error) {
		defer close(produced)
		return 7, nil
	}))
	<-produced
	time.Sleep(10 * time.Millisecond)

	r := newValueReceiver[int]()
	execution.Start(execution.Connect[int](fut, r))
	select {
	case v := <-r.ch:
		assert.Equal(t, 7, v)
	case err := <-r.errs:
		t.Fatalf("unexpected error: %v", err)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for future result")
	}
}

func TestSpawnFutureDeliversToEarlyReceiver(t *testing.T) {
	s := scope.New()
	gate := make(chan struct{})
	fut := scope.SpawnFuture[int](s, senders.Then(senders.Just(execution.Unit{}), func(execution.Unit) (int, error) {
		<-gate
		return 9, nil
	}))

	r := newValueReceiver[int]()
	execution.Start(execution.Connect[int](fut, r))
	close(gate)

	select {
	case v := <-r.ch:
		assert.Equal(t, 9, v)
	case err := <-r.errs:
		t.Fatalf("unexpected error: %v", err)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for future result")
	}
}
