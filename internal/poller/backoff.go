package poller

import (
	"math/rand"
	"time"
)

// Backoff computes the delay before the next poll. It is not safe for
// concurrent use; the poller serializes access.
type Backoff struct {
	Min            time.Duration
	Max            time.Duration
	ErrorThreshold int
	JitterMax      time.Duration
	// Jitter returns a value in [0, max). Defaults to math/rand.
	Jitter func(max time.Duration) time.Duration

	delay  time.Duration
	errors int
}

func NewBackoff(cfg Config) *Backoff {
	b := &Backoff{
		Min:            cfg.MinDelay,
		Max:            cfg.MaxDelay,
		ErrorThreshold: cfg.ErrorThreshold,
		JitterMax:      cfg.JitterMax,
		Jitter:         cfg.Jitter,
	}
	b.delay = b.clamp(cfg.InitialDelay)
	return b
}

func randomJitter(max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}
	return time.Duration(rand.Int63n(int64(max)))
}

func (b *Backoff) clamp(d time.Duration) time.Duration {
	if d < b.Min {
		d = b.Min
	}
	if b.Max > 0 && d > b.Max {
		d = b.Max
	}
	return d
}

func (b *Backoff) jitter() time.Duration {
	if b.JitterMax <= 0 {
		return 0
	}
	fn := b.Jitter
	if fn == nil {
		fn = randomJitter
	}
	j := fn(b.JitterMax)
	if j < 0 {
		return 0
	}
	return j
}

// Delay is the wait before the next poll.
func (b *Backoff) Delay() time.Duration {
	return b.delay
}

// Errors is the number of failures since the last success.
func (b *Backoff) Errors() int {
	return b.errors
}

// Success eases the delay back toward Min.
func (b *Backoff) Success() time.Duration {
	b.errors = 0
	b.delay = b.clamp(b.delay * 9 / 10)
	return b.delay
}

// RateLimited doubles the delay and adds jitter. A server-provided retryAfter
// longer than that wins. The result never exceeds Max.
func (b *Backoff) RateLimited(retryAfter time.Duration) time.Duration {
	b.errors++
	next := b.clamp(b.delay*2) + b.jitter()
	if retryAfter > next {
		next = retryAfter
	}
	b.delay = b.clamp(next)
	return b.delay
}

// Failure grows the delay by half once errors pile up past ErrorThreshold.
func (b *Backoff) Failure() time.Duration {
	b.errors++
	if b.errors > b.ErrorThreshold {
		b.delay = b.clamp(b.delay * 3 / 2)
	}
	return b.delay
}

func (b *Backoff) Reset(initial time.Duration) {
	b.errors = 0
	b.delay = b.clamp(initial)
}
