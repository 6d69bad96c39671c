package ratelimit

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// Limiter throttles page fetches on two axes: at most maxConcurrency
// permits may be held at once, and successive permit grants are spaced
// by at least the configured minimum interval. It only throttles, it
// never fails a request on its own.
type Limiter struct {
	slots    chan struct{}
	interval *rate.Limiter
}

// New creates a Limiter. maxConcurrency must be >= 1. A zero or
// negative minInterval disables the interval gate.
func New(maxConcurrency int, minInterval time.Duration) *Limiter {
	if maxConcurrency < 1 {
		maxConcurrency = 1
	}

	gate := rate.NewLimiter(rate.Inf, 1)
	if minInterval > 0 {
		gate = rate.NewLimiter(rate.Every(minInterval), 1)
	}

	return &Limiter{
		slots:    make(chan struct{}, maxConcurrency),
		interval: gate,
	}
}

// Acquire blocks until a dispatch slot is free and the interval gate
// opens, or until ctx is cancelled. On success it returns a release
// function that must be called exactly once when the request finishes,
// regardless of outcome.
func (l *Limiter) Acquire(ctx context.Context) (func(), error) {
	select {
	case l.slots <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	if err := l.interval.Wait(ctx); err != nil {
		<-l.slots
		return nil, err
	}

	return func() { <-l.slots }, nil
}

// InFlight reports how many permits are currently held.
func (l *Limiter) InFlight() int {
	return len(l.slots)
}
