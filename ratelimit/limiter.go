// Package ratelimit implements per-endpoint sliding-window admission control.
package ratelimit

import (
	"sync"
	"time"
)

// Window is the rolling interval over which attempts are counted.
const Window = time.Second

// Limiter admits or rejects delivery attempts per endpoint using a sliding
// one-second window of attempt timestamps. A rejected attempt is not an
// attempt at all: callers reschedule it without touching the attempt counter.
type Limiter struct {
	mu      sync.Mutex
	windows map[string][]time.Time
	now     func() time.Time
}

// New creates a new sliding-window rate limiter.
func New() *Limiter {
	return &Limiter{
		windows: make(map[string][]time.Time),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Allow checks whether an endpoint may make a delivery attempt now and, if
// so, records the attempt. A limit of 0 means unlimited (always true).
// Check-and-record is atomic, so concurrent workers never over-admit.
func (l *Limiter) Allow(endpointID string, limit int) bool {
	if limit <= 0 {
		return true
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	window := l.prune(endpointID, now)

	if len(window) >= limit {
		return false
	}

	l.windows[endpointID] = append(window, now)
	return true
}

// InWindow returns the number of attempts recorded for an endpoint within
// the current window.
func (l *Limiter) InWindow(endpointID string) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	return len(l.prune(endpointID, l.now()))
}

// Reset clears the recorded window for an endpoint.
func (l *Limiter) Reset(endpointID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.windows, endpointID)
}

// prune drops timestamps older than the window and stores the survivors.
// Must be called with the mutex held.
func (l *Limiter) prune(endpointID string, now time.Time) []time.Time {
	window := l.windows[endpointID]
	cutoff := now.Add(-Window)

	// Timestamps are appended in order; find the first still inside.
	keep := 0
	for keep < len(window) && !window[keep].After(cutoff) {
		keep++
	}
	if keep > 0 {
		window = append(window[:0:0], window[keep:]...)
		if len(window) == 0 {
			delete(l.windows, endpointID)
		} else {
			l.windows[endpointID] = window
		}
	}
	return window
}
