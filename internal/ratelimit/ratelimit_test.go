package ratelimit

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquireCapsConcurrency(t *testing.T) {
	const maxConcurrency = 3
	limiter := New(maxConcurrency, 0)

	var (
		inFlight int64
		peak     int64
		wg       sync.WaitGroup
	)

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			release, err := limiter.Acquire(context.Background())
			require.NoError(t, err)
			defer release()

			n := atomic.AddInt64(&inFlight, 1)
			for {
				old := atomic.LoadInt64(&peak)
				if n <= old || atomic.CompareAndSwapInt64(&peak, old, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			atomic.AddInt64(&inFlight, -1)
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, atomic.LoadInt64(&peak), int64(maxConcurrency))
	assert.Equal(t, 0, limiter.InFlight())
}

func TestAcquireSpacesGrants(t *testing.T) {
	interval := 30 * time.Millisecond
	limiter := New(4, interval)

	var grants []time.Time
	for i := 0; i < 3; i++ {
		release, err := limiter.Acquire(context.Background())
		require.NoError(t, err)
		grants = append(grants, time.Now())
		release()
	}

	for i := 1; i < len(grants); i++ {
		gap := grants[i].Sub(grants[i-1])
		assert.GreaterOrEqual(t, gap, interval-5*time.Millisecond,
			"grant %d followed too quickly", i)
	}
}

func TestAcquireCancelledWhileQueued(t *testing.T) {
	limiter := New(1, 0)

	release, err := limiter.Acquire(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := limiter.Acquire(ctx)
		done <- err
	}()

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("cancelled Acquire did not return")
	}

	// The held slot stays valid and can be released after the
	// cancelled waiter is gone.
	release()
	release2, err := limiter.Acquire(context.Background())
	require.NoError(t, err)
	release2()
}

func TestAcquireCancelledAtIntervalGate(t *testing.T) {
	limiter := New(2, time.Hour)

	// First grant passes immediately.
	release, err := limiter.Acquire(context.Background())
	require.NoError(t, err)
	release()

	// Second grant would wait an hour at the gate.
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err = limiter.Acquire(ctx)
	require.Error(t, err)

	// The slot taken before the gate must have been rolled back.
	assert.Equal(t, 0, limiter.InFlight())
}

func TestNewClampsConcurrency(t *testing.T) {
	limiter := New(0, 0)

	release, err := limiter.Acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, limiter.InFlight())
	release()
}
