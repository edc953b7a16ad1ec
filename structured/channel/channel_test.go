package channel_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joeycumines/go-asynccore/structured/channel"
)

func TestZeroCapacityOnlySupportsSuspend(t *testing.T) {
	assert.Panics(t, func() {
		channel.New[int](0, channel.DropOldest)
	})
}

func TestDirectHandoff(t *testing.T) {
	ch := channel.New[int](0, channel.Suspend)
	ctx := context.Background()

	recvDone := make(chan int, 1)
	go func() {
		v, err := ch.Receive(ctx)
		require.NoError(t, err)
		recvDone <- v
	}()
	time.Sleep(10 * time.Millisecond)
	require.NoError(t, ch.Send(ctx, 7))
	assert.Equal(t, 7, <-recvDone)
}

func TestBufferedSendThenReceive(t *testing.T) {
	ch := channel.New[int](4, channel.Suspend)
	ctx := context.Background()
	require.NoError(t, ch.Send(ctx, 1))
	require.NoError(t, ch.Send(ctx, 2))
	v1, err := ch.Receive(ctx)
	require.NoError(t, err)
	v2, err := ch.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, v1)
	assert.Equal(t, 2, v2)
}

// TestDropOldestPolicy is spec.md §8 scenario 6: buffer size 2, drop-oldest,
// send 1, 2, 3 synchronously (all succeed), then receive twice — the
// receiver gets 2 then 3.
func TestDropOldestPolicy(t *testing.T) {
	ch := channel.New[int](2, channel.DropOldest)
	ctx := context.Background()
	require.NoError(t, ch.Send(ctx, 1))
	require.NoError(t, ch.Send(ctx, 2))
	require.NoError(t, ch.Send(ctx, 3))

	v1, err := ch.Receive(ctx)
	require.NoError(t, err)
	v2, err := ch.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, v1)
	assert.Equal(t, 3, v2)
}

func TestDropLatestPolicy(t *testing.T) {
	ch := channel.New[int](2, channel.DropLatest)
	ctx := context.Background()
	require.NoError(t, ch.Send(ctx, 1))
	require.NoError(t, ch.Send(ctx, 2))
	require.NoError(t, ch.Send(ctx, 3)) // dropped: buffer stays [1, 2]

	v1, err := ch.Receive(ctx)
	require.NoError(t, err)
	v2, err := ch.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, v1)
	assert.Equal(t, 2, v2)
}

func TestSuspendBlocksUntilSlotFrees(t *testing.T) {
	ch := channel.New[int](1, channel.Suspend)
	ctx := context.Background()
	require.NoError(t, ch.Send(ctx, 1))

	secondSent := make(chan struct{})
	go func() {
		require.NoError(t, ch.Send(ctx, 2))
		close(secondSent)
	}()
	time.Sleep(10 * time.Millisecond)
	select {
	case <-secondSent:
		t.Fatal("second send completed before a slot freed")
	default:
	}

	v, err := ch.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, v)
	<-secondSent

	v, err = ch.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, v)
}

func TestCancelStopsQueuedOperations(t *testing.T) {
	ch := channel.New[int](0, channel.Suspend)
	ctx := context.Background()

	errCh := make(chan error, 1)
	go func() {
		_, err := ch.Receive(ctx)
		errCh <- err
	}()
	time.Sleep(10 * time.Millisecond)
	ch.Cancel()
	require.Error(t, <-errCh)
}

// TestFIFOPerPair exercises the suspend-policy FIFO-per-(sender,receiver)
// property from spec.md §8: sends queued while no receiver is present are
// delivered to receivers in the order they were sent.
func TestFIFOPerPair(t *testing.T) {
	ch := channel.New[int](0, channel.Suspend)
	ctx := context.Background()

	const n = 20
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		i := i
		go func() {
			defer wg.Done()
			require.NoError(t, ch.Send(ctx, i))
		}()
		time.Sleep(time.Millisecond)
	}

	got := make([]int, 0, n)
	for i := 0; i < n; i++ {
		v, err := ch.Receive(ctx)
		require.NoError(t, err)
		got = append(got, v)
	}
	wg.Wait()
	require.Len(t, got, n)
	for i, v := range got {
		assert.Equal(t, i, v)
	}
}
