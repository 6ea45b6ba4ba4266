package ratelimit

import (
	"sync"
	"testing"
	"time"
)

// fixedClock lets tests move time deterministically.
type fixedClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fixedClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fixedClock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newTestLimiter() (*Limiter, *fixedClock) {
	clk := &fixedClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	l := New()
	l.now = clk.now
	return l, clk
}

func TestAllow_Unlimited(t *testing.T) {
	l, _ := newTestLimiter()
	for i := 0; i < 100; i++ {
		if !l.Allow("ep-1", 0) {
			t.Fatal("Allow(0) should always return true")
		}
	}
}

func TestAllow_RejectsOverLimit(t *testing.T) {
	l, _ := newTestLimiter()

	if !l.Allow("ep-1", 2) {
		t.Fatal("first attempt should be admitted")
	}
	if !l.Allow("ep-1", 2) {
		t.Fatal("second attempt should be admitted")
	}
	if l.Allow("ep-1", 2) {
		t.Fatal("third attempt within the window should be rejected")
	}
}

func TestAllow_WindowSlides(t *testing.T) {
	l, clk := newTestLimiter()

	l.Allow("ep-1", 2)
	clk.advance(600 * time.Millisecond)
	l.Allow("ep-1", 2)

	if l.Allow("ep-1", 2) {
		t.Fatal("window still holds 2 attempts")
	}

	// First attempt falls out of the window; one slot frees up.
	clk.advance(500 * time.Millisecond)
	if !l.Allow("ep-1", 2) {
		t.Fatal("expected admission after oldest attempt expired")
	}

	// But the second attempt is still inside the window.
	if l.Allow("ep-1", 2) {
		t.Fatal("window should be full again")
	}
}

func TestAllow_NeverAdmitsMoreThanLimitInAnyWindow(t *testing.T) {
	l, clk := newTestLimiter()
	limit := 5

	var admitted []time.Time
	for i := 0; i < 200; i++ {
		if l.Allow("ep-1", limit) {
			admitted = append(admitted, clk.now())
		}
		clk.advance(37 * time.Millisecond)
	}

	// Slide a window over every admission and count the co-resident ones.
	for i := range admitted {
		count := 1
		for j := i + 1; j < len(admitted); j++ {
			if admitted[j].Sub(admitted[i]) < Window {
				count++
			}
		}
		if count > limit {
			t.Fatalf("found %d admissions within one rolling window (limit %d)", count, limit)
		}
	}
}

func TestAllow_IndependentEndpoints(t *testing.T) {
	l, _ := newTestLimiter()

	l.Allow("ep-1", 1)
	if l.Allow("ep-1", 1) {
		t.Fatal("ep-1 should be rejected")
	}
	if !l.Allow("ep-2", 1) {
		t.Fatal("ep-2 has its own window")
	}
}

func TestReset(t *testing.T) {
	l, _ := newTestLimiter()

	l.Allow("ep-1", 1)
	if l.Allow("ep-1", 1) {
		t.Fatal("should be rejected before reset")
	}

	l.Reset("ep-1")

	if !l.Allow("ep-1", 1) {
		t.Fatal("should be admitted after reset")
	}
}

func TestConcurrentCheckAndRecord(t *testing.T) {
	l, _ := newTestLimiter()
	limit := 10

	var wg sync.WaitGroup
	results := make(chan bool, 100)

	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- l.Allow("ep-1", limit)
		}()
	}

	wg.Wait()
	close(results)

	admitted := 0
	for ok := range results {
		if ok {
			admitted++
		}
	}

	if admitted != limit {
		t.Fatalf("expected exactly %d admissions, got %d", limit, admitted)
	}
}
