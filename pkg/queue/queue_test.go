package queue

import (
	"testing"
	"time"

	"github.com/pyroclast-games/chunkengine/pkg/chunkpos"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func chunk(world string, x, z int32) chunkpos.Chunk {
	return chunkpos.Chunk{World: world, X: x, Z: z}
}

func TestSubmitDeduplicatesByChunk(t *testing.T) {
	q := New(4, zerolog.Nop())
	defer q.Shutdown()

	t1, err := q.Submit(PriorityLoad, chunk("w", 3, 4))
	require.NoError(t, err)

	t2, err := q.Submit(PriorityLoad, chunk("w", 3, 4))
	require.NoError(t, err)

	assert.Same(t, t1, t2, "same (world, chunk) must collapse onto one task")
	assert.Equal(t, 1, q.Depth())
}

func TestSubmitDeduplicatesAcrossWorldsIndependently(t *testing.T) {
	q := New(4, zerolog.Nop())
	defer q.Shutdown()

	t1, err := q.Submit(PriorityLoad, chunk("overworld", 1, 1))
	require.NoError(t, err)

	t2, err := q.Submit(PriorityLoad, chunk("nether", 1, 1))
	require.NoError(t, err)

	assert.NotSame(t, t1, t2)
	assert.Equal(t, 2, q.Depth())
}

func TestSubmitPromotesPendingTaskClass(t *testing.T) {
	q := New(4, zerolog.Nop())
	defer q.Shutdown()

	low, err := q.Submit(HyperViewPrefetch, chunk("w", 10, 10))
	require.NoError(t, err)

	high, err := q.Submit(PriorityLoad, chunk("w", 10, 10))
	require.NoError(t, err)

	require.Same(t, low, high)

	got, err := q.NextTask()
	require.NoError(t, err)
	assert.Equal(t, PriorityLoad, got.Class, "effective class at dequeue must reflect the upgrade")

	q.CompleteTask(got, true, nil)
}

func TestSubmitNeverDowngradesPendingTaskClass(t *testing.T) {
	q := New(4, zerolog.Nop())
	defer q.Shutdown()

	_, err := q.Submit(PriorityLoad, chunk("w", 0, 0))
	require.NoError(t, err)

	_, err = q.Submit(HyperViewPrefetch, chunk("w", 0, 0))
	require.NoError(t, err)

	got, err := q.NextTask()
	require.NoError(t, err)
	assert.Equal(t, PriorityLoad, got.Class)

	q.CompleteTask(got, true, nil)
}

func TestNextTaskHonorsClassPriorityOrder(t *testing.T) {
	q := New(8, zerolog.Nop())
	defer q.Shutdown()

	// Submit in reverse priority order; dequeue must come back strict.
	_, err := q.Submit(HyperViewPrefetch, chunk("w", 1, 0))
	require.NoError(t, err)
	_, err = q.Submit(BackgroundGeneration, chunk("w", 2, 0))
	require.NoError(t, err)
	_, err = q.Submit(ParallelGeneration, chunk("w", 3, 0))
	require.NoError(t, err)
	_, err = q.Submit(PriorityLoad, chunk("w", 4, 0))
	require.NoError(t, err)

	want := []Class{PriorityLoad, ParallelGeneration, BackgroundGeneration, HyperViewPrefetch}

	for _, class := range want {
		got, err := q.NextTask()
		require.NoError(t, err)
		assert.Equal(t, class, got.Class)
		q.CompleteTask(got, true, nil)
	}
}

func TestNextTaskIsFIFOWithinClass(t *testing.T) {
	q := New(8, zerolog.Nop())
	defer q.Shutdown()

	first, err := q.Submit(PriorityLoad, chunk("w", 1, 0))
	require.NoError(t, err)

	time.Sleep(2 * time.Millisecond)

	second, err := q.Submit(PriorityLoad, chunk("w", 2, 0))
	require.NoError(t, err)

	got, err := q.NextTask()
	require.NoError(t, err)
	assert.Same(t, first, got)
	q.CompleteTask(got, true, nil)

	got, err = q.NextTask()
	require.NoError(t, err)
	assert.Same(t, second, got)
	q.CompleteTask(got, true, nil)
}

func TestDedupSlotHeldWhileRunning(t *testing.T) {
	q := New(4, zerolog.Nop())
	defer q.Shutdown()

	t1, err := q.Submit(PriorityLoad, chunk("w", 5, 5))
	require.NoError(t, err)

	running, err := q.NextTask()
	require.NoError(t, err)
	require.Same(t, t1, running)

	// A second submission while the first is running must still collapse.
	t2, err := q.Submit(PriorityLoad, chunk("w", 5, 5))
	require.NoError(t, err)
	assert.Same(t, t1, t2)
	assert.Equal(t, 0, q.Depth())

	q.CompleteTask(running, true, nil)

	// After completion the slot is free: a fresh submit is a new task.
	t3, err := q.Submit(PriorityLoad, chunk("w", 5, 5))
	require.NoError(t, err)
	assert.NotSame(t, t1, t3)
}

func TestCompleteTaskResolvesSharedFuture(t *testing.T) {
	q := New(4, zerolog.Nop())
	defer q.Shutdown()

	t1, err := q.Submit(PriorityLoad, chunk("w", 7, 7))
	require.NoError(t, err)
	t2, err := q.Submit(BackgroundGeneration, chunk("w", 7, 7))
	require.NoError(t, err)

	got, err := q.NextTask()
	require.NoError(t, err)
	q.CompleteTask(got, true, nil)

	assert.Equal(t, Completed, t1.Wait().State)
	assert.Equal(t, Completed, t2.Wait().State)
}

func TestMaxConcurrentBoundsRunningTasks(t *testing.T) {
	q := New(1, zerolog.Nop())
	defer q.Shutdown()

	_, err := q.Submit(PriorityLoad, chunk("w", 1, 0))
	require.NoError(t, err)
	_, err = q.Submit(PriorityLoad, chunk("w", 2, 0))
	require.NoError(t, err)

	first, err := q.NextTask()
	require.NoError(t, err)
	assert.Equal(t, 1, q.Running())

	// With the single permit taken, a second consumer must block until
	// the first task completes.
	secondReady := make(chan *Task)
	go func() {
		got, err := q.NextTask()
		if err != nil {
			close(secondReady)
			return
		}
		secondReady <- got
	}()

	select {
	case <-secondReady:
		t.Fatal("second task dispatched past the concurrency bound")
	case <-time.After(50 * time.Millisecond):
	}

	q.CompleteTask(first, true, nil)

	select {
	case got := <-secondReady:
		require.NotNil(t, got)
		q.CompleteTask(got, true, nil)
	case <-time.After(time.Second):
		t.Fatal("second task never dispatched after permit release")
	}
}

func TestClassCapSkipsCappedClassButServesOthers(t *testing.T) {
	q := New(8, zerolog.Nop())
	defer q.Shutdown()

	q.SetClassCap(HyperViewPrefetch, 1)

	_, err := q.Submit(HyperViewPrefetch, chunk("w", 1, 0))
	require.NoError(t, err)
	_, err = q.Submit(HyperViewPrefetch, chunk("w", 2, 0))
	require.NoError(t, err)

	first, err := q.NextTask()
	require.NoError(t, err)
	assert.Equal(t, HyperViewPrefetch, first.Class)

	// Second prefetch is capped out, but an interactive load submitted
	// later must still be served immediately.
	_, err = q.Submit(PriorityLoad, chunk("w", 3, 0))
	require.NoError(t, err)

	got, err := q.NextTask()
	require.NoError(t, err)
	assert.Equal(t, PriorityLoad, got.Class)

	q.CompleteTask(got, true, nil)
	q.CompleteTask(first, true, nil)
}

func TestCriticalSeverityRefusesPrefetch(t *testing.T) {
	q := New(4, zerolog.Nop())
	defer q.Shutdown()

	q.SetSeverity(Critical)

	refused, err := q.Submit(HyperViewPrefetch, chunk("w", 0, 0))
	require.NoError(t, err)

	out := refused.Wait()
	assert.Equal(t, Cancelled, out.State)
	assert.ErrorIs(t, out.Err, ErrOverloaded)
	assert.Equal(t, 0, q.Depth(), "refused submission must not occupy the queue")

	// PriorityLoad is always admitted, critical or not.
	admitted, err := q.Submit(PriorityLoad, chunk("w", 0, 0))
	require.NoError(t, err)
	assert.Equal(t, 1, q.Depth())

	got, err := q.NextTask()
	require.NoError(t, err)
	require.Same(t, admitted, got)
	q.CompleteTask(got, true, nil)
}

func TestCancelQueuedTask(t *testing.T) {
	q := New(4, zerolog.Nop())
	defer q.Shutdown()

	task, err := q.Submit(BackgroundGeneration, chunk("w", 9, 9))
	require.NoError(t, err)

	assert.True(t, q.Cancel(chunk("w", 9, 9)))
	assert.Equal(t, Cancelled, task.Wait().State)
	assert.Equal(t, 0, q.Depth())

	assert.False(t, q.Cancel(chunk("w", 9, 9)), "nothing left to cancel")
}

func TestCancelRunningTaskIsCooperative(t *testing.T) {
	q := New(4, zerolog.Nop())
	defer q.Shutdown()

	task, err := q.Submit(PriorityLoad, chunk("w", 6, 6))
	require.NoError(t, err)

	running, err := q.NextTask()
	require.NoError(t, err)
	require.Same(t, task, running)

	assert.True(t, q.Cancel(chunk("w", 6, 6)))

	// The worker finishes its I/O and reports success, but the result is
	// discarded: the observable outcome is Cancelled.
	q.CompleteTask(running, true, nil)
	assert.Equal(t, Cancelled, task.Wait().State)
}

func TestCompleteTaskReportsFailure(t *testing.T) {
	q := New(4, zerolog.Nop())
	defer q.Shutdown()

	task, err := q.Submit(PriorityLoad, chunk("w", 8, 8))
	require.NoError(t, err)

	got, err := q.NextTask()
	require.NoError(t, err)

	q.CompleteTask(got, false, assert.AnError)

	out := task.Wait()
	assert.Equal(t, Failed, out.State)
	assert.ErrorIs(t, out.Err, assert.AnError)
}

func TestShutdownCancelsQueuedAndWakesConsumers(t *testing.T) {
	q := New(4, zerolog.Nop())

	queued, err := q.Submit(BackgroundGeneration, chunk("w", 1, 1))
	require.NoError(t, err)

	consumerDone := make(chan error, 1)
	go func() {
		// Drain the one queued task, then block on an empty queue.
		got, err := q.NextTask()
		if err == nil {
			q.CompleteTask(got, true, nil)
			_, err = q.NextTask()
		}
		consumerDone <- err
	}()

	// Give the consumer time to drain and block again.
	time.Sleep(20 * time.Millisecond)

	q.Shutdown()

	select {
	case err := <-consumerDone:
		assert.ErrorIs(t, err, ErrShutdown)
	case <-time.After(time.Second):
		t.Fatal("blocked consumer never woke after shutdown")
	}

	// The drained task completed normally before shutdown; whichever way
	// the race went, its future must be resolved.
	out := queued.Wait()
	assert.Contains(t, []State{Completed, Cancelled}, out.State)

	_, err = q.Submit(PriorityLoad, chunk("w", 2, 2))
	assert.ErrorIs(t, err, ErrShutdown)
}

func TestBackgroundWatermarkRefusalUnderCriticalLoad(t *testing.T) {
	q := New(1, zerolog.Nop())
	defer q.Shutdown()

	for i := 0; i < backgroundDepthWatermark; i++ {
		_, err := q.Submit(BackgroundGeneration, chunk("w", int32(i), 0))
		require.NoError(t, err)
	}

	// Healthy: depth alone never refuses background work.
	_, err := q.Submit(BackgroundGeneration, chunk("w", -2, -2))
	require.NoError(t, err)
	assert.Equal(t, backgroundDepthWatermark+1, q.Depth())

	q.SetSeverity(Critical)

	refused, err := q.Submit(BackgroundGeneration, chunk("w", -1, -1))
	require.NoError(t, err)

	out := refused.Wait()
	assert.Equal(t, Cancelled, out.State)
	assert.ErrorIs(t, out.Err, ErrOverloaded)
}
