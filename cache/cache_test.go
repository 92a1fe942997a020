package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetCachesWithinTTL(t *testing.T) {
	c := New[string, int](time.Minute)
	now := time.Unix(1000, 0)
	c.now = func() time.Time { return now }

	var calls int
	fetch := func(context.Context) (int, error) {
		calls++
		return calls, nil
	}
	ctx := context.Background()

	v, err := c.Get(ctx, "k", fetch)
	require.NoError(t, err)
	assert.Equal(t, 1, v)

	v, err = c.Get(ctx, "k", fetch)
	require.NoError(t, err)
	assert.Equal(t, 1, v)

	now = now.Add(2 * time.Minute)
	v, err = c.Get(ctx, "k", fetch)
	require.NoError(t, err)
	assert.Equal(t, 2, v)
}

func TestConcurrentCallersShareOneFetch(t *testing.T) {
	c := New[string, string](time.Minute)
	release := make(chan struct{})
	var calls atomic.Int32
	fetch := func(context.Context) (string, error) {
		calls.Add(1)
		<-release
		return "graph", nil
	}

	const callers = 10
	var started, done sync.WaitGroup
	results := make([]string, callers)
	for i := range callers {
		started.Add(1)
		done.Add(1)
		go func() {
			defer done.Done()
			started.Done()
			v, err := c.Get(context.Background(), "pages", fetch)
			assert.NoError(t, err)
			results[i] = v
		}()
	}
	started.Wait()
	// Give every goroutine time to join the flight before releasing it.
	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(release)
	done.Wait()

	assert.Equal(t, int32(1), calls.Load())
	for _, r := range results {
		assert.Equal(t, "graph", r)
	}
}

func TestErrorsAreNotCached(t *testing.T) {
	c := New[string, int](time.Minute)
	boom := errors.New("boom")
	_, err := c.Get(context.Background(), "k", func(context.Context) (int, error) { return 0, boom })
	assert.ErrorIs(t, err, boom)
	assert.Zero(t, c.Len())

	v, err := c.Get(context.Background(), "k", func(context.Context) (int, error) { return 7, nil })
	require.NoError(t, err)
	assert.Equal(t, 7, v)
}

func TestInvalidate(t *testing.T) {
	c := New[string, int](0)
	ctx := context.Background()
	n := 0
	fetch := func(context.Context) (int, error) { n++; return n, nil }

	_, _ = c.Get(ctx, "a", fetch)
	_, _ = c.Get(ctx, "b", fetch)
	assert.Equal(t, 2, c.Len())

	c.Invalidate("a")
	_, ok := c.Peek("a")
	assert.False(t, ok)
	_, ok = c.Peek("b")
	assert.True(t, ok)

	c.InvalidateAll()
	assert.Zero(t, c.Len())
}

func TestInvalidationDuringFetchDropsResult(t *testing.T) {
	c := New[string, int](time.Minute)
	entered := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_, _ = c.Get(context.Background(), "k", func(context.Context) (int, error) {
			close(entered)
			<-release
			return 1, nil
		})
	}()
	<-entered
	c.Invalidate("k")

	// A caller after the invalidation starts its own fetch.
	v, err := c.Get(context.Background(), "k", func(context.Context) (int, error) { return 2, nil })
	require.NoError(t, err)
	assert.Equal(t, 2, v)

	close(release)
	time.Sleep(10 * time.Millisecond)
	got, ok := c.Peek("k")
	assert.True(t, ok)
	assert.Equal(t, 2, got)
}

func TestCallerCancellation(t *testing.T) {
	c := New[string, int](time.Minute)
	release := make(chan struct{})
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.Get(ctx, "k", func(context.Context) (int, error) {
		<-release
		return 1, nil
	})
	assert.ErrorIs(t, err, context.Canceled)
}
