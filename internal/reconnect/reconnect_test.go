package reconnect

import (
	"math/rand"
	"testing"
	"time"
)

func TestPolicyNextDelayBoundedByMax(t *testing.T) {
	t.Parallel()

	p := Policy{Initial: 100 * time.Millisecond, Max: 2 * time.Second, Multiplier: 2.0, Jitter: 0.2, Rand: rand.New(rand.NewSource(1))}
	for attempt := 1; attempt <= 20; attempt++ {
		d := p.NextDelay(attempt)
		maxWithJitter := time.Duration(float64(p.Max) * (1 + p.Jitter))
		if d > maxWithJitter {
			t.Fatalf("attempt %d: delay %v exceeds jittered max %v", attempt, d, maxWithJitter)
		}
		if d < 0 {
			t.Fatalf("attempt %d: negative delay %v", attempt, d)
		}
	}
}

func TestPolicyNextDelayCeilingNonDecreasing(t *testing.T) {
	t.Parallel()

	// With jitter fixed at the top of its range (a deterministic Rand stub
	// that always returns 1.0), the sequence of returned delays is exactly
	// the ceiling*(1+Jitter) sequence, which must be non-decreasing until
	// it saturates at Max*(1+Jitter).
	p := Policy{Initial: 50 * time.Millisecond, Max: 1 * time.Second, Multiplier: 2.0, Jitter: 0.2, Rand: maxJitterRand{}}

	var prev time.Duration
	for attempt := 1; attempt <= 10; attempt++ {
		d := p.NextDelay(attempt)
		if d < prev {
			t.Fatalf("attempt %d: delay %v decreased from previous %v", attempt, d, prev)
		}
		prev = d
	}
}

// TestPolicyNextDelayWithinJitterBand checks that every returned delay
// falls within [ceiling*(1-jitter), ceiling*(1+jitter)] for the attempt's
// own ceiling, across random attempt counts and random jitter draws — not
// just at the band's own extremes.
func TestPolicyNextDelayWithinJitterBand(t *testing.T) {
	t.Parallel()

	p := Policy{Initial: 1 * time.Second, Max: 60 * time.Second, Multiplier: 2.0, Jitter: 0.2}
	src := rand.New(rand.NewSource(42))

	for i := 0; i < 500; i++ {
		attempt := 1 + src.Intn(20)
		p.Rand = stubRand{v: src.Float64()}

		ceiling := ceilingFor(p, attempt)
		lo := ceiling * (1 - p.Jitter)
		hi := ceiling * (1 + p.Jitter)

		d := p.NextDelay(attempt)
		if float64(d) < lo-1 || float64(d) > hi+1 {
			t.Fatalf("attempt %d: delay %v outside jitter band [%v, %v]", attempt, d, time.Duration(lo), time.Duration(hi))
		}
	}
}

// ceilingFor mirrors NextDelay's un-jittered ceiling computation, for the
// band test above to check against independently.
func ceilingFor(p Policy, attempt int) float64 {
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
			return float64(p.Max)
		}
	}
	if ceiling > float64(p.Max) {
		ceiling = float64(p.Max)
	}
	return ceiling
}

func TestPolicyExhausted(t *testing.T) {
	t.Parallel()

	unbounded := Policy{MaxAttempts: 0}
	for _, attempt := range []int{1, 10, 1000} {
		if unbounded.Exhausted(attempt) {
			t.Fatalf("MaxAttempts=0 must never exhaust, got exhausted at attempt %d", attempt)
		}
	}

	bounded := Policy{MaxAttempts: 5}
	if bounded.Exhausted(5) {
		t.Fatalf("attempt 5 should not be exhausted when MaxAttempts=5")
	}
	if !bounded.Exhausted(6) {
		t.Fatalf("attempt 6 should be exhausted when MaxAttempts=5")
	}
}

// maxJitterRand.Float64 always returns 1.0, pinning NextDelay to the top
// of the jitter range so the ceiling sequence is directly observable.
type maxJitterRand struct{}

func (maxJitterRand) Float64() float64 { return 1.0 }

// stubRand.Float64 returns a fixed value, for reproducing one random draw
// across both NextDelay and the independent ceiling check.
type stubRand struct{ v float64 }

func (s stubRand) Float64() float64 { return s.v }
