package validator

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestScheduleFiresOnceAfterDelay(t *testing.T) {
	var calls int32
	v := New(20*time.Millisecond, func(ctx context.Context, uri string, version int) {
		atomic.AddInt32(&calls, 1)
	})

	v.Schedule(context.Background(), "file:///a.pike", 1)
	v.Schedule(context.Background(), "file:///a.pike", 2) // coalesces with the first
	v.Schedule(context.Background(), "file:///a.pike", 3)

	require.Eventually(t, func() bool { return atomic.LoadInt32(&calls) == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	require.Equal(t, int32(1), atomic.LoadInt32(&calls), "rapid reschedules must coalesce into a single run")
}

func TestCancelPreventsFire(t *testing.T) {
	var calls int32
	v := New(20*time.Millisecond, func(ctx context.Context, uri string, version int) {
		atomic.AddInt32(&calls, 1)
	})

	v.Schedule(context.Background(), "file:///a.pike", 1)
	v.Cancel("file:///a.pike")

	time.Sleep(50 * time.Millisecond)
	require.Equal(t, int32(0), atomic.LoadInt32(&calls))
}

func TestOverlappingRunsQueueOneFollowUp(t *testing.T) {
	var mu sync.Mutex
	var seen []int
	release := make(chan struct{})

	v := New(5*time.Millisecond, func(ctx context.Context, uri string, version int) {
		mu.Lock()
		seen = append(seen, version)
		mu.Unlock()
		<-release
	})

	v.Schedule(context.Background(), "file:///a.pike", 1)
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 1
	}, time.Second, 2*time.Millisecond)

	// A change arrives while the first run is still in flight.
	v.Schedule(context.Background(), "file:///a.pike", 2)
	close(release)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 2 && seen[1] == 2
	}, time.Second, 2*time.Millisecond)
}

func TestIndependentURIsDoNotInterfere(t *testing.T) {
	var calls int32
	v := New(10*time.Millisecond, func(ctx context.Context, uri string, version int) {
		atomic.AddInt32(&calls, 1)
	})

	v.Schedule(context.Background(), "file:///a.pike", 1)
	v.Schedule(context.Background(), "file:///b.pike", 1)

	require.Eventually(t, func() bool { return atomic.LoadInt32(&calls) == 2 }, time.Second, 2*time.Millisecond)
}
