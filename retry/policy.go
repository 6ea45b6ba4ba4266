// Package retry computes backoff delays for failed delivery attempts.
//
// A Policy is a pure description: NextDelay has no side effects and no
// clock access, so delay sequences are fully deterministic and testable.
package retry

import (
	"fmt"
	"math"
	"time"
)

// Strategy selects the backoff curve applied between attempts.
type Strategy string

const (
	// StrategyFixed waits InitialDelay before every retry.
	StrategyFixed Strategy = "fixed"

	// StrategyLinear waits InitialDelay * attempt, capped at MaxDelay.
	StrategyLinear Strategy = "linear"

	// StrategyExponential waits InitialDelay * Multiplier^(attempt-1),
	// capped at MaxDelay.
	StrategyExponential Strategy = "exponential"
)

// defaultMultiplier applies when an exponential policy leaves Multiplier unset.
const defaultMultiplier = 2.0

// Policy describes how a failed delivery is retried.
type Policy struct {
	// Strategy is the backoff curve: fixed, linear, or exponential.
	Strategy Strategy `json:"strategy"`

	// MaxAttempts is the total number of delivery attempts before the
	// delivery is dead-lettered. Must be at least 1.
	MaxAttempts int `json:"max_attempts"`

	// InitialDelay is the base delay fed into the backoff curve.
	InitialDelay time.Duration `json:"initial_delay"`

	// MaxDelay caps the delay produced by linear and exponential curves.
	MaxDelay time.Duration `json:"max_delay"`

	// Multiplier is the exponential growth factor. Defaults to 2 when unset.
	Multiplier float64 `json:"multiplier,omitempty"`
}

// Default returns the policy applied to endpoints registered without one:
// exponential backoff, 5 attempts, 5s initial delay, 2h cap.
func Default() Policy {
	return Policy{
		Strategy:     StrategyExponential,
		MaxAttempts:  5,
		InitialDelay: 5 * time.Second,
		MaxDelay:     2 * time.Hour,
		Multiplier:   defaultMultiplier,
	}
}

// Validate checks the policy invariants.
func (p Policy) Validate() error {
	if p.MaxAttempts < 1 {
		return fmt.Errorf("retry: max_attempts must be >= 1, got %d", p.MaxAttempts)
	}
	switch p.Strategy {
	case StrategyFixed, StrategyLinear, StrategyExponential:
	default:
		return fmt.Errorf("retry: unknown strategy %q", p.Strategy)
	}
	if p.InitialDelay < 0 {
		return fmt.Errorf("retry: initial_delay must be >= 0")
	}
	if p.MaxDelay < 0 {
		return fmt.Errorf("retry: max_delay must be >= 0")
	}
	return nil
}

// NextDelay returns the wait before the retry that follows the given failed
// attempt. attempt is 1-based: pass 1 after the first attempt fails.
//
// The exponential sequence is non-decreasing and never exceeds MaxDelay.
func (p Policy) NextDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	switch p.Strategy {
	case StrategyFixed:
		return p.InitialDelay

	case StrategyLinear:
		return p.cap(time.Duration(attempt) * p.InitialDelay)

	case StrategyExponential:
		mult := p.Multiplier
		if mult <= 0 {
			mult = defaultMultiplier
		}
		factor := math.Pow(mult, float64(attempt-1))
		delay := float64(p.InitialDelay) * factor
		if p.MaxDelay > 0 && delay > float64(p.MaxDelay) {
			return p.MaxDelay
		}
		if delay > float64(math.MaxInt64) {
			return p.MaxDelay
		}
		return time.Duration(delay)

	default:
		return p.InitialDelay
	}
}

func (p Policy) cap(d time.Duration) time.Duration {
	if p.MaxDelay > 0 && d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}
