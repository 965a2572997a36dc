package engine

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/petrijr/dealflow/pkg/api"
)

func TestBackoffGrowsAndCaps(t *testing.T) {
	p := DefaultRetryPolicy()
	assert.Equal(t, time.Second, p.Backoff(1))
	assert.Equal(t, 2*time.Second, p.Backoff(2))
	assert.Equal(t, 4*time.Second, p.Backoff(3))
	assert.Equal(t, 8*time.Second, p.Backoff(4))
	assert.Equal(t, 10*time.Second, p.Backoff(5))
	assert.Equal(t, 10*time.Second, p.Backoff(50))

	assert.Zero(t, RetryPolicy{}.Backoff(3))
	assert.Equal(t, 1, RetryPolicy{}.attempts())
	assert.Equal(t, 4, p.attempts())
}

func TestIsRetryable(t *testing.T) {
	guardErr := &api.TransitionError{From: "A", To: "B", Validation: api.Validation{Reason: api.ReasonGuardFailed}}
	roleErr := &api.TransitionError{From: "A", To: "B", Validation: api.Validation{Reason: api.ReasonRoleNotAllowed}}

	tests := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{guardErr, true},
		{fmt.Errorf("wrapped: %w", guardErr), true},
		{roleErr, false},
		{api.ErrStatusConflict, true},
		{errors.New("dial tcp: Connection refused"), true},
		{errors.New("i/o TIMEOUT"), true},
		{errors.New("Deadlock found when trying to get lock"), true},
		{errors.New("Lock wait timeout exceeded"), true},
		{errors.New("service unavailable"), true},
		{errors.New("Too many connections"), true},
		{errors.New("network is unreachable"), true},
		{errors.New("failed to fetch"), true},
		{errors.New("syntax error at or near"), false},
		{api.ErrDealNotFound, false},
		{context.Canceled, false},
		{fmt.Errorf("read: connection reset: %w", context.DeadlineExceeded), false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, IsRetryable(tt.err), "%v", tt.err)
	}
}

func TestSleepContextHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, sleepContext(ctx, time.Hour), context.Canceled)
	assert.NoError(t, sleepContext(context.Background(), 0))
	assert.NoError(t, sleepContext(context.Background(), time.Millisecond))
}

func TestRandomJitterStaysInRange(t *testing.T) {
	assert.Zero(t, randomJitter(0))
	for i := 0; i < 100; i++ {
		d := randomJitter(time.Second)
		assert.GreaterOrEqual(t, d, time.Duration(0))
		assert.Less(t, d, time.Second)
	}
}
