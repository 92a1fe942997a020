package kv

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eringen/pagepress/errs"
	"github.com/eringen/pagepress/retry"
)

// throttled fails the first n calls of every method with ErrThroughputExceeded.
type throttled struct {
	Store
	failures int
	calls    int
}

func (t *throttled) Get(ctx context.Context, key Key) (Row, bool, error) {
	t.calls++
	if t.calls <= t.failures {
		return Row{}, false, ErrThroughputExceeded
	}
	return t.Store.Get(ctx, key)
}

func (t *throttled) Put(ctx context.Context, row Row, conds ...Condition) error {
	t.calls++
	if t.calls <= t.failures {
		return ErrThroughputExceeded
	}
	return t.Store.Put(ctx, row, conds...)
}

func fastPolicy() retry.Policy {
	return retry.NewPolicy(retry.BackoffFixed, time.Millisecond, time.Millisecond, 3)
}

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestRetryingRecoversFromThrottling(t *testing.T) {
	mem, err := NewMemory()
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, mem.Put(ctx, row("SITE", "ENTRY", map[string]any{"entryType": "site"})))

	flaky := &throttled{Store: mem, failures: 2}
	s := NewRetrying(flaky, fastPolicy(), quiet(), nil)

	got, ok, err := s.Get(ctx, Key{PK: "SITE", SK: "ENTRY"})
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "site", got.Attrs["entryType"])
	assert.Equal(t, 3, flaky.calls)
}

func TestRetryingExhaustionIsFatal(t *testing.T) {
	mem, err := NewMemory()
	require.NoError(t, err)
	flaky := &throttled{Store: mem, failures: 100}
	s := NewRetrying(flaky, fastPolicy(), quiet(), nil)

	_, _, err = s.Get(context.Background(), Key{PK: "SITE", SK: "ENTRY"})
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.KindFatal))
	assert.ErrorIs(t, err, ErrThroughputExceeded)
	assert.ErrorIs(t, err, retry.ErrExhausted)
	assert.Equal(t, 4, flaky.calls)
}

func TestRetryingPassesThroughOtherErrors(t *testing.T) {
	mem, err := NewMemory()
	require.NoError(t, err)
	s := NewRetrying(mem, fastPolicy(), quiet(), nil)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, row("GENERATOR", "STATUS", map[string]any{"state": "running"})))
	err = s.Put(ctx, row("GENERATOR", "STATUS", map[string]any{"state": "running"}), AttrNotEquals("state", "running"))
	assert.True(t, errors.Is(err, ErrConditionFailed))
	assert.False(t, errs.Is(err, errs.KindFatal))
}
