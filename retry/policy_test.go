package retry

import (
	"testing"
	"time"
)

func TestNextDelay_Fixed(t *testing.T) {
	p := Policy{Strategy: StrategyFixed, MaxAttempts: 3, InitialDelay: time.Second}

	for attempt := 1; attempt <= 5; attempt++ {
		if got := p.NextDelay(attempt); got != time.Second {
			t.Fatalf("attempt %d: expected 1s, got %v", attempt, got)
		}
	}
}

func TestNextDelay_Linear(t *testing.T) {
	p := Policy{
		Strategy:     StrategyLinear,
		MaxAttempts:  5,
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     1200 * time.Millisecond,
	}

	want := []time.Duration{
		500 * time.Millisecond,
		1000 * time.Millisecond,
		1200 * time.Millisecond, // capped
		1200 * time.Millisecond,
	}
	for i, w := range want {
		if got := p.NextDelay(i + 1); got != w {
			t.Fatalf("attempt %d: expected %v, got %v", i+1, w, got)
		}
	}
}

func TestNextDelay_Exponential(t *testing.T) {
	p := Policy{
		Strategy:     StrategyExponential,
		MaxAttempts:  4,
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     10 * time.Second,
		Multiplier:   2,
	}

	want := []time.Duration{
		500 * time.Millisecond,
		1000 * time.Millisecond,
		2000 * time.Millisecond,
		4000 * time.Millisecond,
	}
	for i, w := range want {
		if got := p.NextDelay(i + 1); got != w {
			t.Fatalf("attempt %d: expected %v, got %v", i+1, w, got)
		}
	}
}

func TestNextDelay_ExponentialNonDecreasingAndCapped(t *testing.T) {
	p := Policy{
		Strategy:     StrategyExponential,
		MaxAttempts:  50,
		InitialDelay: time.Second,
		MaxDelay:     time.Minute,
		Multiplier:   2,
	}

	prev := time.Duration(0)
	for attempt := 1; attempt <= 50; attempt++ {
		d := p.NextDelay(attempt)
		if d < prev {
			t.Fatalf("attempt %d: delay %v decreased from %v", attempt, d, prev)
		}
		if d > time.Minute {
			t.Fatalf("attempt %d: delay %v exceeds max", attempt, d)
		}
		prev = d
	}
}

func TestNextDelay_MultiplierDefaultsToTwo(t *testing.T) {
	p := Policy{
		Strategy:     StrategyExponential,
		MaxAttempts:  3,
		InitialDelay: time.Second,
		MaxDelay:     time.Hour,
	}

	if got := p.NextDelay(3); got != 4*time.Second {
		t.Fatalf("expected 4s with default multiplier, got %v", got)
	}
}

func TestValidate(t *testing.T) {
	if err := (Policy{Strategy: StrategyFixed, MaxAttempts: 0, InitialDelay: time.Second}).Validate(); err == nil {
		t.Fatal("expected error for max_attempts=0")
	}
	if err := (Policy{Strategy: "bogus", MaxAttempts: 1}).Validate(); err == nil {
		t.Fatal("expected error for unknown strategy")
	}
	if err := Default().Validate(); err != nil {
		t.Fatalf("default policy should validate, got %v", err)
	}
}
