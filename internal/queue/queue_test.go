package queue

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueuePreservesOrder(t *testing.T) {
	q := NewInMemoryQueue()

	for _, id := range []string{"1001", "1002", "1003"} {
		require.NoError(t, q.Push(&Task{ProductID: id}))
	}
	assert.Equal(t, 3, q.Size())

	for _, want := range []string{"1001", "1002", "1003"} {
		task, err := q.Pop(context.Background())
		require.NoError(t, err)
		assert.Equal(t, want, task.ProductID)
	}
	assert.Equal(t, 0, q.Size())
}

func TestPopBlocksUntilPush(t *testing.T) {
	q := NewInMemoryQueue()

	got := make(chan *Task, 1)
	go func() {
		task, err := q.Pop(context.Background())
		require.NoError(t, err)
		got <- task
	}()

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, q.Push(&Task{ProductID: "42"}))

	select {
	case task := <-got:
		assert.Equal(t, "42", task.ProductID)
	case <-time.After(time.Second):
		t.Fatal("Pop did not observe the pushed task")
	}
}

func TestPopCancellation(t *testing.T) {
	q := NewInMemoryQueue()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := q.Pop(ctx)
		done <- err
	}()

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("cancelled Pop did not return")
	}

	// The queue keeps working after a waiter was cancelled.
	require.NoError(t, q.Push(&Task{ProductID: "42"}))
	task, err := q.Pop(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "42", task.ProductID)
}

func TestCloseDrainsThenStops(t *testing.T) {
	q := NewInMemoryQueue()
	require.NoError(t, q.Push(&Task{ProductID: "1001"}))
	require.NoError(t, q.Close())

	// The remaining task is still handed out.
	task, err := q.Pop(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "1001", task.ProductID)

	_, err = q.Pop(context.Background())
	assert.ErrorIs(t, err, ErrQueueClosed)

	assert.ErrorIs(t, q.Push(&Task{ProductID: "1002"}), ErrQueueClosed)
}

func TestCloseReleasesAllWaiters(t *testing.T) {
	q := NewInMemoryQueue()

	const waiters = 5
	var wg sync.WaitGroup
	errs := make(chan error, waiters)
	for i := 0; i < waiters; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := q.Pop(context.Background())
			errs <- err
		}()
	}

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, q.Close())

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("waiters did not all return after Close")
	}

	close(errs)
	for err := range errs {
		assert.ErrorIs(t, err, ErrQueueClosed)
	}
}

func TestConcurrentProducersConsumers(t *testing.T) {
	q := NewInMemoryQueue()

	const total = 100
	go func() {
		for i := 0; i < total; i++ {
			_ = q.Push(&Task{ProductID: "p"})
		}
		q.Close()
	}()

	var (
		mu       sync.Mutex
		received int
		wg       sync.WaitGroup
	)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				_, err := q.Pop(context.Background())
				if err != nil {
					return
				}
				mu.Lock()
				received++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, total, received)
}
