package stoptoken

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestStopSingleAdmission(t *testing.T) {
	src := NewSource()
	require.True(t, src.RequestStop())
	require.False(t, src.RequestStop())
	require.True(t, src.StopRequested())
}

func TestCallbackRunsOnceOnRequest(t *testing.T) {
	src := NewSource()
	tok := src.Token()
	var n atomic.Int32
	cb := NewCallback(tok, func() { n.Add(1) })
	defer cb.Close()

	require.True(t, src.RequestStop())
	assert.EqualValues(t, 1, n.Load())

	src.RequestStop()
	assert.EqualValues(t, 1, n.Load())
}

func TestCallbackRegisteredAfterStopRunsInline(t *testing.T) {
	src := NewSource()
	src.RequestStop()

	var ran bool
	cb := NewCallback(src.Token(), func() { ran = true })
	defer cb.Close()
	assert.True(t, ran)
}

func TestNeverStopToken(t *testing.T) {
	assert.False(t, NeverStopToken.StopPossible())
	assert.False(t, NeverStopToken.StopRequested())

	var ran bool
	cb := NewCallback(NeverStopToken, func() { ran = true })
	cb.Close()
	assert.False(t, ran)
}

func TestCloseBeforeRequestUnregisters(t *testing.T) {
	src := NewSource()
	var n atomic.Int32
	cb := NewCallback(src.Token(), func() { n.Add(1) })
	cb.Close()

	src.RequestStop()
	assert.EqualValues(t, 0, n.Load())
}

func TestCloseReentrantDuringExecutionDoesNotDeadlock(t *testing.T) {
	src := NewSource()
	var cb *Callback
	done := make(chan struct{})
	cb = NewCallback(src.Token(), func() {
		cb.Close() // reentrant self-close, must not block
		close(done)
	})

	go src.RequestStop()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("reentrant Close deadlocked")
	}
}

func TestCloseFromOtherGoroutineBlocksUntilExecutionCompletes(t *testing.T) {
	src := NewSource()
	started := make(chan struct{})
	release := make(chan struct{})
	cb := NewCallback(src.Token(), func() {
		close(started)
		<-release
	})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		src.RequestStop()
	}()

	<-started

	closed := make(chan struct{})
	go func() {
		cb.Close()
		close(closed)
	}()

	select {
	case <-closed:
		t.Fatal("Close returned before the running callback completed")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	<-closed
	wg.Wait()
}

func TestConcurrentRegistrationAndRequestStop(t *testing.T) {
	for iter := 0; iter < 50; iter++ {
		src := NewSource()
		var n atomic.Int32
		var wg sync.WaitGroup
		for i := 0; i < 16; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				cb := NewCallback(src.Token(), func() { n.Add(1) })
				_ = cb
			}()
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			src.RequestStop()
		}()
		wg.Wait()
		assert.True(t, src.StopRequested())
	}
}
