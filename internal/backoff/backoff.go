// Package backoff provides the delay calculation strategies used by the
// retry engine.
package backoff

import (
	"math/rand"
	"time"
)

// Strategy computes the delay preceding a retry. retryIndex is zero-based:
// the wait before the first retry uses retryIndex 0 and therefore the base
// delay when the multiplier is applied exponentially.
type Strategy interface {
	Delay(retryIndex int, base, max time.Duration, multiplier, jitter float64) time.Duration
}

// Exponential implements base × multiplier^retryIndex with optional uniform
// jitter. With jitter 0 the sequence is exact and deterministic.
type Exponential struct{}

func (Exponential) Delay(retryIndex int, base, max time.Duration, multiplier, jitter float64) time.Duration {
	if retryIndex < 0 {
		retryIndex = 0
	}
	// Clamp the exponent to avoid overflow on pathological retry counts.
	if retryIndex > 30 {
		retryIndex = 30
	}

	d := time.Duration(float64(base) * pow(multiplier, retryIndex))
	if max > 0 && (d < 0 || d > max) {
		d = max
	}

	jitter = clampJitter(jitter)
	if jitter > 0 {
		amount := time.Duration(float64(d) * jitter * rand.Float64())
		if max > 0 && d+amount > max {
			d = max
		} else {
			d += amount
		}
	}
	return d
}

// Decorrelated implements AWS-style decorrelated jitter: a random delay in
// [base, min(max, base·3^retryIndex)]. Smoother tail latencies than plain
// exponential jitter under contention.
type Decorrelated struct{}

func (Decorrelated) Delay(retryIndex int, base, max time.Duration, _, _ float64) time.Duration {
	if retryIndex <= 0 {
		return base
	}
	if retryIndex > 10 {
		retryIndex = 10
	}

	lo := float64(base)
	hi := lo * pow(3.0, retryIndex)
	if max > 0 && (hi > float64(max) || hi < 0) {
		hi = float64(max)
	}
	if hi < lo {
		hi = lo
	}

	d := time.Duration(lo + rand.Float64()*(hi-lo))
	if max > 0 && (d < 0 || d > max) {
		d = max
	}
	return d
}

func clampJitter(jitter float64) float64 {
	if jitter < 0 {
		return 0
	}
	if jitter > 1 {
		return 1
	}
	return jitter
}

func pow(base float64, exponent int) float64 {
	result := 1.0
	for i := 0; i < exponent; i++ {
		result *= base
	}
	return result
}
