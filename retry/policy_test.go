package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errThrottled = errors.New("throttled")

func isThrottled(err error) bool { return errors.Is(err, errThrottled) }

func recordingSleep(into *[]time.Duration) func(context.Context, time.Duration) error {
	return func(_ context.Context, d time.Duration) error {
		*into = append(*into, d)
		return nil
	}
}

func TestPolicyDelay(t *testing.T) {
	cases := []struct {
		name string
		p    Policy
		want []time.Duration
	}{
		{"fixed", Policy{Mode: BackoffFixed, Initial: time.Second, Max: 10 * time.Second}, []time.Duration{time.Second, time.Second, time.Second}},
		{"linear", Policy{Mode: BackoffLinear, Initial: time.Second, Max: 10 * time.Second}, []time.Duration{time.Second, 2 * time.Second, 3 * time.Second}},
		{"exponential", Policy{Mode: BackoffExponential, Initial: time.Second, Max: 10 * time.Second}, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second, 10 * time.Second}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			for i, want := range tc.want {
				assert.Equal(t, want, tc.p.Delay(i+1), "retry %d", i+1)
			}
			assert.Zero(t, tc.p.Delay(0))
		})
	}
}

func TestNewPolicyFallbacks(t *testing.T) {
	p := NewPolicy("bogus", 0, 0, 0)
	assert.Equal(t, DefaultPolicy().Mode, p.Mode)
	assert.Equal(t, DefaultPolicy().Initial, p.Initial)
	assert.Equal(t, DefaultPolicy().MaxRetries, p.MaxRetries)

	p = NewPolicy(BackoffLinear, 5*time.Second, time.Second, 3)
	assert.Equal(t, time.Second, p.Initial, "initial is capped at max")
	assert.Equal(t, 3, p.MaxRetries)
	require.NoError(t, p.Validate())
}

func TestDoRetriesUntilSuccess(t *testing.T) {
	var waits []time.Duration
	p := NewPolicy(BackoffExponential, 10*time.Millisecond, time.Second, 4).WithRetryable(isThrottled)
	p.sleep = recordingSleep(&waits)

	calls := 0
	err := p.Do(context.Background(), func() error {
		calls++
		if calls < 3 {
			return errThrottled
		}
		return nil
	}, nil)

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []time.Duration{10 * time.Millisecond, 20 * time.Millisecond}, waits)
}

func TestDoExhausts(t *testing.T) {
	var waits []time.Duration
	p := NewPolicy(BackoffExponential, time.Millisecond, time.Second, 2).WithRetryable(isThrottled)
	p.sleep = recordingSleep(&waits)

	var retried []int
	err := p.Do(context.Background(), func() error { return errThrottled }, func(attempt int, _ error) {
		retried = append(retried, attempt)
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrExhausted)
	assert.ErrorIs(t, err, errThrottled)
	assert.Equal(t, []int{1, 2}, retried)
	assert.Len(t, waits, 2)
}

func TestDoDoesNotRetryOtherErrors(t *testing.T) {
	boom := errors.New("boom")
	p := DefaultPolicy().WithRetryable(isThrottled)
	calls := 0
	err := p.Do(context.Background(), func() error {
		calls++
		return boom
	}, nil)
	assert.Equal(t, boom, err)
	assert.Equal(t, 1, calls)
}

func TestDoStopsOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p := NewPolicy(BackoffFixed, time.Hour, time.Hour, 3).WithRetryable(isThrottled)
	err := p.Do(ctx, func() error { return errThrottled }, nil)
	assert.ErrorIs(t, err, context.Canceled)
}
