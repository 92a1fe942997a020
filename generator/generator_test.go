package generator

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eringen/pagepress/blob"
	"github.com/eringen/pagepress/content"
	"github.com/eringen/pagepress/errs"
	"github.com/eringen/pagepress/kv"
)

type recordingCDN struct {
	mu    sync.Mutex
	calls [][]string
	err   error
}

func (r *recordingCDN) Invalidate(_ context.Context, _ string, paths []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, append([]string(nil), paths...))
	return r.err
}

type brokenList struct {
	*blob.Memory
}

func (brokenList) List(context.Context, string) ([]blob.Object, error) {
	return nil, errors.New("bucket unavailable")
}

var epoch = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

func newMachine(t *testing.T, output blob.Store) (*Machine, *recordingCDN) {
	t.Helper()
	store, err := kv.NewMemory(content.Indexes()...)
	require.NoError(t, err)
	inv := &recordingCDN{}
	m := New(store, output, inv,
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithClock(func() time.Time { return epoch }),
		WithDistributionID("DIST"))
	return m, inv
}

func TestStatusCreatesIdleRecord(t *testing.T) {
	m, _ := newMachine(t, blob.NewMemory())
	st, err := m.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, content.StateIdle, st.State)
	assert.True(t, st.LastRun.IsZero())
}

func TestTryStartSnapshotsOutputExcludingReserved(t *testing.T) {
	out := blob.NewMemory()
	ctx := context.Background()
	for _, p := range []string{"index.html", "blog/a.html", "_assets/logo.png", "_static/app.js"} {
		require.NoError(t, blob.PutText(ctx, out, p, "x", "text/plain", nil))
	}
	m, _ := newMachine(t, out)

	snap, err := m.TryStart(ctx)
	require.NoError(t, err)
	paths := snap.Paths()
	sort.Strings(paths)
	assert.Equal(t, []string{"blog/a.html", "index.html"}, paths)

	st, err := m.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, content.StateRunning, st.State)
}

func TestTryStartConcurrentExactlyOneWins(t *testing.T) {
	m, _ := newMachine(t, blob.NewMemory())
	ctx := context.Background()

	const racers = 8
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		won      int
		rejected int
	)
	for range racers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := m.TryStart(ctx)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				won++
			case errors.Is(err, errs.ErrAlreadyRunning):
				rejected++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, won)
	assert.Equal(t, racers-1, rejected)
	st, err := m.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, content.StateRunning, st.State)
}

func TestTryStartSnapshotFailureRecordsError(t *testing.T) {
	m, _ := newMachine(t, brokenList{blob.NewMemory()})
	ctx := context.Background()

	_, err := m.TryStart(ctx)
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.KindFatal))

	st, err := m.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, content.StateWithErrors, st.State)
	assert.Contains(t, st.Error, "bucket unavailable")
}

func TestFinishWithoutRunIsStale(t *testing.T) {
	m, inv := newMachine(t, blob.NewMemory())
	_, err := m.Finish(context.Background(), []string{"a.html"}, nil)
	assert.ErrorIs(t, err, errs.ErrStaleCompletion)
	assert.Empty(t, inv.calls)
}

func TestFinishDeletesInvalidatesAndReleases(t *testing.T) {
	out := blob.NewMemory()
	ctx := context.Background()
	for _, p := range []string{"old.html", "index.html", "_assets/keep.png"} {
		require.NoError(t, blob.PutText(ctx, out, p, "x", "text/plain", nil))
	}
	m, inv := newMachine(t, out)
	_, err := m.TryStart(ctx)
	require.NoError(t, err)

	res, err := m.Finish(ctx, []string{"old.html", "_assets/keep.png"}, []string{"index.html", "old.html"})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Deleted)
	assert.Equal(t, []string{"old.html", "index.html"}, res.Invalidated)
	require.Len(t, inv.calls, 1)
	assert.Equal(t, []string{"old.html", "index.html"}, inv.calls[0])
	assert.Equal(t, []string{"_assets/keep.png", "index.html"}, out.Paths())

	st, err := m.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, content.StateIdle, st.State)
	assert.Equal(t, epoch, st.LastRun)
	assert.Empty(t, st.Error)

	_, err = m.Finish(ctx, nil, nil)
	assert.ErrorIs(t, err, errs.ErrStaleCompletion)
}

func TestFinishWithNothingSkipsCDN(t *testing.T) {
	m, inv := newMachine(t, blob.NewMemory())
	ctx := context.Background()
	_, err := m.TryStart(ctx)
	require.NoError(t, err)
	_, err = m.Finish(ctx, nil, nil)
	require.NoError(t, err)
	assert.Empty(t, inv.calls)
}

func TestFailKeepsLastRunAndAllowsRetry(t *testing.T) {
	m, _ := newMachine(t, blob.NewMemory())
	ctx := context.Background()
	_, err := m.TryStart(ctx)
	require.NoError(t, err)
	_, err = m.Finish(ctx, nil, nil)
	require.NoError(t, err)

	_, err = m.TryStart(ctx)
	require.NoError(t, err)
	require.NoError(t, m.Fail(ctx, "render about: boom"))

	st, err := m.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, content.StateWithErrors, st.State)
	assert.Equal(t, "render about: boom", st.Error)
	assert.Equal(t, epoch, st.LastRun)

	_, err = m.Finish(ctx, nil, nil)
	assert.ErrorIs(t, err, errs.ErrStaleCompletion)

	_, err = m.TryStart(ctx)
	require.NoError(t, err, "with_errors can start again")
}

func TestMarkChangedAndNeedsPublish(t *testing.T) {
	m, _ := newMachine(t, blob.NewMemory())
	ctx := context.Background()

	need, err := m.NeedsPublish(ctx)
	require.NoError(t, err)
	assert.False(t, need)

	require.NoError(t, m.MarkChanged(ctx, epoch.Add(-time.Minute)))
	need, err = m.NeedsPublish(ctx)
	require.NoError(t, err)
	assert.True(t, need, "changed and never published")

	_, err = m.TryStart(ctx)
	require.NoError(t, err)
	_, err = m.Finish(ctx, nil, nil)
	require.NoError(t, err)
	need, err = m.NeedsPublish(ctx)
	require.NoError(t, err)
	assert.False(t, need)

	require.NoError(t, m.MarkChanged(ctx, epoch.Add(time.Minute)))
	need, err = m.NeedsPublish(ctx)
	require.NoError(t, err)
	assert.True(t, need)
}
