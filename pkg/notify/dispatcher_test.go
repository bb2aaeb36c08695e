package notify

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestDispatcherRunsJobs tests that enqueued jobs execute
func TestDispatcherRunsJobs(t *testing.T) {
	d := NewDispatcher(16)
	d.Start(2)
	defer d.Stop()

	var ran atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		ok := d.Enqueue(func(ctx context.Context) {
			defer wg.Done()
			ran.Add(1)
		})
		require.True(t, ok)
	}

	wg.Wait()
	assert.Equal(t, int32(10), ran.Load())
}

// TestDispatcherJobContextHasDeadline tests the per-job timeout
func TestDispatcherJobContextHasDeadline(t *testing.T) {
	d := NewDispatcher(1)
	d.Start(1)
	defer d.Stop()

	done := make(chan bool, 1)
	d.Enqueue(func(ctx context.Context) {
		_, ok := ctx.Deadline()
		done <- ok
	})

	select {
	case hasDeadline := <-done:
		assert.True(t, hasDeadline)
	case <-time.After(2 * time.Second):
		t.Fatal("job never ran")
	}
}

// TestDispatcherDropsWhenSaturated tests non-blocking enqueue on a full queue
func TestDispatcherDropsWhenSaturated(t *testing.T) {
	// Never started: nothing drains the queue.
	d := NewDispatcher(2)

	assert.True(t, d.Enqueue(func(ctx context.Context) {}))
	assert.True(t, d.Enqueue(func(ctx context.Context) {}))
	assert.False(t, d.Enqueue(func(ctx context.Context) {}))
}

// TestDispatcherStopWaitsForWorkers tests shutdown ordering
func TestDispatcherStopWaitsForWorkers(t *testing.T) {
	d := NewDispatcher(4)
	d.Start(1)

	started := make(chan struct{})
	var finished atomic.Bool
	d.Enqueue(func(ctx context.Context) {
		close(started)
		time.Sleep(50 * time.Millisecond)
		finished.Store(true)
	})

	<-started
	d.Stop()
	assert.True(t, finished.Load())

	// Stop twice is safe.
	d.Stop()
}

// TestDispatcherStartIsIdempotent tests double start
func TestDispatcherStartIsIdempotent(t *testing.T) {
	d := NewDispatcher(4)
	d.Start(1)
	d.Start(8)
	defer d.Stop()

	var wg sync.WaitGroup
	wg.Add(1)
	d.Enqueue(func(ctx context.Context) { wg.Done() })
	wg.Wait()
}
