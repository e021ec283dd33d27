package poller

import (
	"testing"
	"time"
)

func testConfig(jitter time.Duration) Config {
	cfg := DefaultConfig()
	cfg.Jitter = func(time.Duration) time.Duration { return jitter }
	return cfg
}

func TestRateLimitSequence(t *testing.T) {
	b := NewBackoff(testConfig(time.Second))
	if b.Delay() != 10*time.Second {
		t.Fatalf("expected initial 10s, got %s", b.Delay())
	}
	want := []time.Duration{21 * time.Second, 43 * time.Second, 60 * time.Second}
	for i, w := range want {
		if got := b.RateLimited(0); got != w {
			t.Fatalf("step %d: expected %s, got %s", i, w, got)
		}
	}
	if b.Errors() != 3 {
		t.Fatalf("expected 3 errors, got %d", b.Errors())
	}
}

func TestRetryAfterWinsButIsClamped(t *testing.T) {
	b := NewBackoff(testConfig(0))
	if got := b.RateLimited(35 * time.Second); got != 35*time.Second {
		t.Fatalf("expected retry-after 35s, got %s", got)
	}
	if got := b.RateLimited(5 * time.Minute); got != 60*time.Second {
		t.Fatalf("expected clamp to 60s, got %s", got)
	}
}

func TestGenericErrorsGrowOnlyPastThreshold(t *testing.T) {
	b := NewBackoff(testConfig(0))
	for i := 0; i < 5; i++ {
		if got := b.Failure(); got != 10*time.Second {
			t.Fatalf("failure %d: expected delay unchanged, got %s", i+1, got)
		}
	}
	if got := b.Failure(); got != 15*time.Second {
		t.Fatalf("expected 15s after threshold, got %s", got)
	}
	if got := b.Success(); got != 13500*time.Millisecond {
		t.Fatalf("expected 13.5s after success, got %s", got)
	}
	if b.Errors() != 0 {
		t.Fatalf("expected success to reset errors")
	}
}

func TestDelayMonotonicAndClamped(t *testing.T) {
	b := NewBackoff(testConfig(4 * time.Second))
	prev := b.Delay()
	for i := 0; i < 20; i++ {
		var next time.Duration
		if i%3 == 0 {
			next = b.RateLimited(0)
		} else {
			next = b.Failure()
		}
		if next < prev {
			t.Fatalf("failure %d decreased delay %s -> %s", i, prev, next)
		}
		if next < 10*time.Second || next > 60*time.Second {
			t.Fatalf("delay %s out of bounds", next)
		}
		prev = next
	}
	for i := 0; i < 30; i++ {
		next := b.Success()
		if next > prev {
			t.Fatalf("success %d increased delay %s -> %s", i, prev, next)
		}
		if next < 10*time.Second {
			t.Fatalf("delay %s below floor", next)
		}
		prev = next
	}
	if prev != 10*time.Second {
		t.Fatalf("expected recovery to the floor, got %s", prev)
	}
}

func TestInitialDelayClamped(t *testing.T) {
	cfg := testConfig(0)
	cfg.InitialDelay = time.Second
	if got := NewBackoff(cfg).Delay(); got != 10*time.Second {
		t.Fatalf("expected initial delay raised to floor, got %s", got)
	}
}
