// Package backoff computes retry delays. A Strategy maps a retry attempt
// to the time a task waits in the retrying state before the dispatcher
// requeues it.
package backoff

import (
	"math/rand/v2"
	"time"
)

// Strategy computes the delay before retry attempt n (1-indexed; attempt
// 1 is the first retry after the initial failure). Implementations must
// be safe for concurrent use.
type Strategy interface {
	Delay(attempt int) time.Duration
}

// Func adapts a plain function to a Strategy.
type Func func(attempt int) time.Duration

// Delay implements Strategy.
func (f Func) Delay(attempt int) time.Duration { return f(attempt) }

// Constant waits the same delay before every retry.
func Constant(d time.Duration) Strategy {
	return Func(func(int) time.Duration { return d })
}

// Linear grows the delay by base each attempt, capped at maxDelay.
// A zero maxDelay means uncapped.
func Linear(base, maxDelay time.Duration) Strategy {
	return Func(func(attempt int) time.Duration {
		d := base * time.Duration(attempt)
		if maxDelay > 0 && d > maxDelay {
			return maxDelay
		}
		return d
	})
}

// Exponential doubles the delay each attempt starting from base, capped
// at maxDelay. A zero maxDelay means uncapped.
func Exponential(base, maxDelay time.Duration) Strategy {
	return Func(func(attempt int) time.Duration {
		d := base
		for i := 1; i < attempt; i++ {
			d *= 2
			// The cap also catches overflow on absurd attempt counts.
			if d <= 0 || (maxDelay > 0 && d >= maxDelay) {
				return maxDelay
			}
		}
		return d
	})
}

// FullJitter draws uniformly from [0, d] where d is the exponential
// delay for the attempt. Spreads the requeue times of tasks that failed
// together, so they do not all hit the queue in the same cycle.
func FullJitter(base, maxDelay time.Duration) Strategy {
	exp := Exponential(base, maxDelay)
	return Func(func(attempt int) time.Duration {
		d := exp.Delay(attempt)
		if d <= 0 {
			return 0
		}
		return time.Duration(rand.Int64N(int64(d) + 1))
	})
}

// DefaultCap bounds the growth of the default strategy.
const DefaultCap = time.Minute

// Default is the dispatcher's retry delay when no strategy is
// configured: full jitter over an exponential curve whose base is the
// runtime retry_delay setting.
func Default(base time.Duration) Strategy {
	return FullJitter(base, DefaultCap)
}
