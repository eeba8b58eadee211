// Package backoff provides delay strategies for requeueing failed
// manifests. The manager stamps the computed delay onto the work
// entry's AvailableAt so rapid-failure loops cannot saturate the
// dispatchers. All strategies are stateless and safe for concurrent use.
package backoff

import (
	"math"
	"math/rand/v2"
	"time"
)

// Strategy computes the requeue delay after a failure streak.
type Strategy interface {
	// Delay returns how long a manifest's next work entry should wait
	// before becoming claimable, given failures consecutive failures
	// (1-indexed: 1 means the first failure just happened).
	Delay(failures int) time.Duration
}

// Constant always returns the same delay regardless of streak length.
type Constant struct {
	Interval time.Duration
}

// NewConstant creates a constant backoff strategy.
func NewConstant(interval time.Duration) *Constant {
	return &Constant{Interval: interval}
}

// Delay returns the fixed interval.
func (c *Constant) Delay(_ int) time.Duration {
	return c.Interval
}

// Linear grows the delay linearly with the streak.
// Delay = min(Initial * failures, Max).
type Linear struct {
	Initial time.Duration
	Max     time.Duration
}

// NewLinear creates a linear backoff strategy.
func NewLinear(initial, maxDelay time.Duration) *Linear {
	return &Linear{Initial: initial, Max: maxDelay}
}

// Delay returns Initial * failures, capped at Max.
func (l *Linear) Delay(failures int) time.Duration {
	d := l.Initial * time.Duration(failures)
	if l.Max > 0 && d > l.Max {
		return l.Max
	}
	return d
}

// Exponential doubles the delay with each consecutive failure.
// Delay = min(Initial * 2^(failures-1), Max).
type Exponential struct {
	Initial time.Duration
	Max     time.Duration
}

// NewExponential creates an exponential backoff strategy.
func NewExponential(initial, maxDelay time.Duration) *Exponential {
	return &Exponential{Initial: initial, Max: maxDelay}
}

// Delay returns Initial * 2^(failures-1), capped at Max.
func (e *Exponential) Delay(failures int) time.Duration {
	d := time.Duration(float64(e.Initial) * math.Pow(2, float64(failures-1)))
	if e.Max > 0 && d > e.Max {
		return e.Max
	}
	return d
}

// ExponentialWithJitter applies full jitter to an exponential base.
// Delay = random value in [0, min(Initial * 2^(failures-1), Max)].
// Jitter keeps a burst of failing manifests from becoming claimable
// on the same dispatcher tick.
type ExponentialWithJitter struct {
	Initial time.Duration
	Max     time.Duration
}

// NewExponentialWithJitter creates an exponential backoff with full jitter.
func NewExponentialWithJitter(initial, maxDelay time.Duration) *ExponentialWithJitter {
	return &ExponentialWithJitter{Initial: initial, Max: maxDelay}
}

// Delay returns a random duration in [0, min(Initial * 2^(failures-1), Max)].
func (e *ExponentialWithJitter) Delay(failures int) time.Duration {
	base := float64(e.Initial) * math.Pow(2, float64(failures-1))
	if e.Max > 0 && base > float64(e.Max) {
		base = float64(e.Max)
	}
	return time.Duration(rand.Float64() * base) //nolint:gosec // jitter intentionally uses non-crypto rand
}

// DefaultStrategy returns the default requeue backoff:
// ExponentialWithJitter with 5s initial and 5m max.
func DefaultStrategy() Strategy {
	return NewExponentialWithJitter(5*time.Second, 5*time.Minute)
}
