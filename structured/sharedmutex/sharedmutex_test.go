package sharedmutex_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joeycumines/go-asynccore/structured/sharedmutex"
)

func TestTryLockExclusion(t *testing.T) {
	m := sharedmutex.New()
	require.True(t, m.TryLock())
	assert.False(t, m.TryLockShared())
	assert.False(t, m.TryLock())
	m.Unlock()
	assert.True(t, m.TryLockShared())
	assert.True(t, m.TryLockShared())
	assert.False(t, m.TryLock())
}

// TestSharedMutexNoUniqueConcurrentWithAnyHolder is spec.md §8's
// never-concurrent-with-a-unique-holder property: many readers and writers
// hammer a shared counter guarded by the mutex, and an atomic "holders"
// gauge never observes a unique holder coexisting with any other holder.
func TestSharedMutexNoUniqueConcurrentWithAnyHolder(t *testing.T) {
	m := sharedmutex.New()
	var active atomic.Int32  // positive count of concurrent shared holders, or -1 for unique
	var violated atomic.Bool

	var wg sync.WaitGroup
	const readers, writers, iterations = 8, 4, 50
	wg.Add(readers + writers)

	for i := 0; i < readers; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < iterations; j++ {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				require.NoError(t, m.LockShared(ctx))
				cancel()
				if active.Add(1) < 0 {
					violated.Store(true)
				}
				time.Sleep(time.Microsecond)
				active.Add(-1)
				m.UnlockShared()
			}
		}()
	}
	for i := 0; i < writers; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < iterations; j++ {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				require.NoError(t, m.Lock(ctx))
				cancel()
				if !active.CompareAndSwap(0, -1) {
					violated.Store(true)
				}
				time.Sleep(time.Microsecond)
				active.Store(0)
				m.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.False(t, violated.Load())
}

func TestSharedMutexWriterNotBypassedByLaterReader(t *testing.T) {
	m := sharedmutex.New()
	require.True(t, m.TryLockShared())

	var order []string
	var mu sync.Mutex
	record := func(s string) {
		mu.Lock()
		order = append(order, s)
		mu.Unlock()
	}

	writerReady := make(chan struct{})
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		close(writerReady)
		require.NoError(t, m.Lock(ctx))
		record("writer")
		m.Unlock()
	}()
	<-writerReady
	time.Sleep(10 * time.Millisecond)

	readerDone := make(chan struct{})
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		require.NoError(t, m.LockShared(ctx))
		record("late-reader")
		m.UnlockShared()
		close(readerDone)
	}()
	time.Sleep(10 * time.Millisecond)
	m.UnlockShared() // release the initial shared hold; writer should go next

	<-readerDone
	mu.Lock()
	defer mu.Unlock()
	require.Len(t, order, 2)
	assert.Equal(t, "writer", order[0])
	assert.Equal(t, "late-reader", order[1])
}
