package uploader

// limiter.go bounds the number of layers uploaded at once.
//
// The limiter is a semaphore: Run acquires a slot before starting a layer
// task and the task releases it when done, so at most PoolSize tasks make
// platform calls concurrently. Waiting for a slot ends early only when the
// run context is cancelled.

import (
	"context"
	"sync"
)

// DefaultPoolSize is the default number of layers uploaded in parallel.
const DefaultPoolSize = 4

// Limiter controls concurrent layer uploads using a semaphore pattern.
type Limiter struct {
	semaphore chan struct{}

	mu     sync.Mutex
	active int
	peak   int
}

// NewLimiter creates a limiter that allows at most maxConcurrent tasks.
func NewLimiter(maxConcurrent int) *Limiter {
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultPoolSize
	}
	return &Limiter{semaphore: make(chan struct{}, maxConcurrent)}
}

// Acquire blocks until a slot is free or ctx is done.
// The caller MUST call Release() when the task completes (use defer).
func (l *Limiter) Acquire(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	select {
	case l.semaphore <- struct{}{}:
		l.mu.Lock()
		l.active++
		if l.active > l.peak {
			l.peak = l.active
		}
		l.mu.Unlock()
		return nil

	case <-ctx.Done():
		return ctx.Err()
	}
}

// Release releases a previously acquired slot.
// Must be called exactly once for each successful Acquire.
func (l *Limiter) Release() {
	l.mu.Lock()
	l.active--
	l.mu.Unlock()

	<-l.semaphore
}

// ActiveCount returns the number of running tasks.
func (l *Limiter) ActiveCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.active
}

// Peak returns the highest number of tasks that ran at once.
func (l *Limiter) Peak() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.peak
}

// MaxConcurrent returns the pool size.
func (l *Limiter) MaxConcurrent() int {
	return cap(l.semaphore)
}

// Available returns the number of free slots.
func (l *Limiter) Available() int {
	return cap(l.semaphore) - len(l.semaphore)
}
