// Package reconnect computes upstream-session backoff delays. It holds no
// state beyond the policy parameters — internal/session tracks the attempt
// counter and calls NextDelay per retry, the same shape as the teacher's
// WSFeed.Run reconnect loop in internal/exchange/ws.go.
package reconnect

import (
	"math/rand"
	"time"
)

// jitterSource is the subset of *rand.Rand that NextDelay needs, so tests
// can substitute a deterministic stub.
type jitterSource interface {
	Float64() float64
}

// Policy is exponential backoff with a ±jitter band and an optional attempt
// cap; MaxAttempts == 0 means infinite retry.
type Policy struct {
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64
	Jitter     float64 // fraction, e.g. 0.2 for ±20%

	// MaxAttempts caps the number of retries; 0 means infinite retry.
	MaxAttempts int

	// Rand is overridable for deterministic tests; nil uses math/rand's
	// package-level source.
	Rand jitterSource
}

func DefaultPolicy() Policy {
	return Policy{
		Initial:    1 * time.Second,
		Max:        60 * time.Second,
		Multiplier: 2.0,
		Jitter:     0.2,
	}
}

// Exhausted reports whether attempt has used up the policy's retry budget.
// A MaxAttempts of 0 never exhausts.
func (p Policy) Exhausted(attempt int) bool {
	return p.MaxAttempts > 0 && attempt > p.MaxAttempts
}

// NextDelay returns the delay before retry number attempt (1-indexed). The
// un-jittered ceiling is non-decreasing in attempt and capped at Max; the
// returned value is uniform within [ceiling*(1-Jitter), ceiling*(1+Jitter)].
func (p Policy) NextDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	multiplier := p.Multiplier
	if multiplier <= 1.0 {
		multiplier = 2.0
	}

	ceiling := float64(p.Initial)
	for i := 1; i < attempt; i++ {
		ceiling *= multiplier
		if ceiling >= float64(p.Max) {
			ceiling = float64(p.Max)
			break
		}
	}
	if ceiling > float64(p.Max) {
		ceiling = float64(p.Max)
	}

	jitter := p.Jitter
	if jitter < 0 {
		jitter = 0
	}
	if jitter > 1 {
		jitter = 1
	}

	lo := ceiling * (1 - jitter)
	hi := ceiling * (1 + jitter)
	span := hi - lo
	if span <= 0 {
		return time.Duration(ceiling)
	}

	var frac float64
	if p.Rand != nil {
		frac = p.Rand.Float64()
	} else {
		frac = rand.Float64()
	}
	return time.Duration(lo + frac*span)
}
