package engine

import (
	"context"
	"errors"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/petrijr/dealflow/pkg/api"
)

// RetryPolicy bounds how TransitionDeal retries transient failures.
type RetryPolicy struct {
	// MaxAttempts includes the first attempt; <= 0 means 1.
	MaxAttempts int
	// InitialBackoff is the delay before the first retry.
	InitialBackoff time.Duration
	// Multiplier grows the delay each retry (default 2.0 if <= 0).
	Multiplier float64
	// MaxBackoff caps the delay before jitter; 0 means no cap.
	MaxBackoff time.Duration
	// MaxJitter adds a uniform random delay in [0, MaxJitter).
	MaxJitter time.Duration
}

// DefaultRetryPolicy is 4 attempts with 1s, 2s, 4s backoff capped at 10s,
// plus up to 1s of jitter.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    4,
		InitialBackoff: time.Second,
		Multiplier:     2.0,
		MaxBackoff:     10 * time.Second,
		MaxJitter:      time.Second,
	}
}

func (p RetryPolicy) attempts() int {
	if p.MaxAttempts <= 0 {
		return 1
	}
	return p.MaxAttempts
}

// Backoff returns the delay, without jitter, after the given failed
// attempt (1-based).
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	if p.InitialBackoff <= 0 {
		return 0
	}
	multiplier := p.Multiplier
	if multiplier <= 0 {
		multiplier = 2.0
	}
	delay := p.InitialBackoff
	for i := 1; i < attempt; i++ {
		delay = time.Duration(float64(delay) * multiplier)
		if p.MaxBackoff > 0 && delay > p.MaxBackoff {
			break
		}
	}
	if p.MaxBackoff > 0 && delay > p.MaxBackoff {
		delay = p.MaxBackoff
	}
	return delay
}

var transientMarkers = []string{
	"connection",
	"timeout",
	"deadlock",
	"lock wait",
	"unavailable",
	"too many connections",
	"network",
	"fetch",
}

// IsRetryable reports whether a transition failure may succeed on a fresh
// attempt: a guard failure, a lost compare-and-swap, or an error whose
// message looks like a transient storage or transport problem.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if api.IsGuardFailure(err) || errors.Is(err, api.ErrStatusConflict) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range transientMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// Sleeper waits for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func randomJitter(max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}
	return rand.N(max)
}
