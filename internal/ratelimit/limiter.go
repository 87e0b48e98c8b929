// Package ratelimit caps outbound exchange requests in a rolling window.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Limiter allows at most limit calls in any window-long interval. Callers
// over the cap block in Wait until the oldest call leaves the window; nothing
// is dropped.
type Limiter struct {
	limit  int
	window time.Duration
	stamps []time.Time // Admission times inside the window, oldest first
	now    func() time.Time
	mu     sync.Mutex
}

// NewLimiter creates a rolling-window limiter. Non-positive arguments fall
// back to 1000 calls per minute.
func NewLimiter(limit int, window time.Duration) *Limiter {
	if limit <= 0 {
		limit = 1000
	}
	if window <= 0 {
		window = time.Minute
	}
	return &Limiter{
		limit:  limit,
		window: window,
		stamps: make([]time.Time, 0, limit),
		now:    time.Now,
	}
}

// prune drops admissions older than the window. Called under lock.
func (l *Limiter) prune(now time.Time) {
	cutoff := now.Add(-l.window)
	i := 0
	for i < len(l.stamps) && !l.stamps[i].After(cutoff) {
		i++
	}
	if i > 0 {
		l.stamps = append(l.stamps[:0], l.stamps[i:]...)
	}
}

// reserve admits a call or returns how long to wait before trying again.
func (l *Limiter) reserve() (bool, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.prune(now)
	if len(l.stamps) < l.limit {
		l.stamps = append(l.stamps, now)
		return true, 0
	}
	return false, l.stamps[0].Add(l.window).Sub(now)
}

// Wait blocks until the call fits in the window or ctx is done.
func (l *Limiter) Wait(ctx context.Context) error {
	for {
		ok, wait := l.reserve()
		if ok {
			return nil
		}
		if wait <= 0 {
			wait = time.Millisecond
		}
		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}
}

// Allow admits a call without blocking.
func (l *Limiter) Allow() bool {
	ok, _ := l.reserve()
	return ok
}

// InWindow returns the number of admissions in the current window.
func (l *Limiter) InWindow() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.prune(l.now())
	return len(l.stamps)
}
