package backoff

import (
	"math"
	"math/rand/v2"
	"time"
)

// Policy defines exponential backoff parameters shared by the queue processor
// and the listener supervisor. Jitter is either additive (a uniform draw whose
// upper bound is itself drawn from [JitterMin, JitterMax]) or proportional
// (uniform in [0, JitterFraction] of the base delay).
type Policy struct {
	MaxRetries     int
	InitialDelay   time.Duration
	MaxDelay       time.Duration
	BackoffFactor  float64
	JitterMin      time.Duration
	JitterMax      time.Duration
	JitterFraction float64
}

// NextDelay returns the delay before a given attempt (1-based), with clamping
// applied before jitter so the cap bounds the deterministic part.
func (p Policy) NextDelay(attempt int) time.Duration {
	return p.base(attempt) + p.jitter(p.base(attempt))
}

func (p Policy) base(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	initial := p.InitialDelay
	if initial <= 0 {
		initial = time.Second
	}
	factor := p.BackoffFactor
	if factor <= 0 {
		factor = 2
	}

	delay := float64(initial) * math.Pow(factor, float64(attempt-1))
	d := time.Duration(delay)
	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}
	if d <= 0 {
		d = time.Second
	}
	return d
}

func (p Policy) jitter(base time.Duration) time.Duration {
	if p.JitterFraction > 0 {
		return time.Duration(rand.Float64() * p.JitterFraction * float64(base))
	}
	if p.JitterMax <= 0 || p.JitterMax < p.JitterMin {
		return 0
	}
	upper := float64(p.JitterMin) + rand.Float64()*float64(p.JitterMax-p.JitterMin)
	return time.Duration(rand.Float64() * upper)
}
