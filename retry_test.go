package dealflow

import (
	"testing"
	"time"
)

func TestRetry_NonPositiveMaxAttemptsDefaultsToOne(t *testing.T) {
	p := Retry(0).Policy()
	if p.MaxAttempts != 1 {
		t.Fatalf("expected MaxAttempts=1 for Retry(0), got %d", p.MaxAttempts)
	}

	p = Retry(-5).Policy()
	if p.MaxAttempts != 1 {
		t.Fatalf("expected MaxAttempts=1 for Retry(-5), got %d", p.MaxAttempts)
	}
}

func TestRetry_WithExponentialBackoff_UsesDefaults(t *testing.T) {
	initial := 100 * time.Millisecond
	max := 2 * time.Second

	p := Retry(3).
		WithExponentialBackoff(initial, 0, max).
		Policy()

	if p.MaxAttempts != 3 {
		t.Fatalf("expected MaxAttempts=3, got %d", p.MaxAttempts)
	}
	if p.InitialBackoff != initial {
		t.Fatalf("expected InitialBackoff=%v, got %v", initial, p.InitialBackoff)
	}
	if p.MaxBackoff != max {
		t.Fatalf("expected MaxBackoff=%v, got %v", max, p.MaxBackoff)
	}
	if p.Multiplier != 2.0 {
		t.Fatalf("expected Multiplier=2.0 (default), got %v", p.Multiplier)
	}
}

func TestRetry_ExponentialScheduleIsCapped(t *testing.T) {
	p := Retry(5).
		WithExponentialBackoff(time.Second, 2.0, 3*time.Second).
		Policy()

	want := []time.Duration{time.Second, 2 * time.Second, 3 * time.Second, 3 * time.Second}
	for i, w := range want {
		if got := p.Backoff(i + 1); got != w {
			t.Fatalf("attempt %d: expected %v, got %v", i+1, w, got)
		}
	}
}

func TestRetry_WithConstantBackoff(t *testing.T) {
	delay := 250 * time.Millisecond
	p := Retry(3).WithConstantBackoff(delay).Policy()

	for attempt := 1; attempt <= 3; attempt++ {
		if got := p.Backoff(attempt); got != delay {
			t.Fatalf("attempt %d: expected %v, got %v", attempt, delay, got)
		}
	}
}

func TestRetry_ImmediateClearsDelays(t *testing.T) {
	p := Retry(4).
		WithExponentialBackoff(time.Second, 3.0, time.Minute).
		WithJitter(time.Second).
		Immediate().
		Policy()

	if p.MaxAttempts != 4 {
		t.Fatalf("expected MaxAttempts=4, got %d", p.MaxAttempts)
	}
	if p.Backoff(2) != 0 || p.MaxJitter != 0 {
		t.Fatalf("expected no delay, got backoff=%v jitter=%v", p.Backoff(2), p.MaxJitter)
	}
}

func TestRetry_NegativeJitterIsZero(t *testing.T) {
	if p := Retry(2).WithJitter(-time.Second).Policy(); p.MaxJitter != 0 {
		t.Fatalf("expected MaxJitter=0, got %v", p.MaxJitter)
	}
}
