package pagepress

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eringen/pagepress/errs"
	"github.com/eringen/pagepress/publish"
)

type stubStatus struct {
	stale bool
	err   error
}

func (s stubStatus) NeedsPublish(context.Context) (bool, error) { return s.stale, s.err }

type stubPublisher struct {
	calls   int
	domains []string
	err     error
}

func (p *stubPublisher) Publish(_ context.Context, domain string) (*publish.Report, error) {
	p.calls++
	p.domains = append(p.domains, domain)
	if p.err != nil {
		return nil, p.err
	}
	return &publish.Report{RunID: "run-1", Uploaded: []string{"index.html"}}, nil
}

func newTestAutoPublisher(t *testing.T, status stalenessChecker, pub publisher) *AutoPublisher {
	t.Helper()
	a, err := NewAutoPublisher(time.Hour, status, pub, "example.com", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Stop() })
	return a
}

func TestAutoPublishSkipsWhenUpToDate(t *testing.T) {
	pub := &stubPublisher{}
	a := newTestAutoPublisher(t, stubStatus{stale: false}, pub)

	ran, err := a.RunOnce(context.Background())
	require.NoError(t, err)
	assert.False(t, ran)
	assert.Zero(t, pub.calls)
}

func TestAutoPublishRunsWhenStale(t *testing.T) {
	pub := &stubPublisher{}
	a := newTestAutoPublisher(t, stubStatus{stale: true}, pub)

	ran, err := a.RunOnce(context.Background())
	require.NoError(t, err)
	assert.True(t, ran)
	assert.Equal(t, []string{"example.com"}, pub.domains)
}

func TestAutoPublishToleratesRunInProgress(t *testing.T) {
	pub := &stubPublisher{err: errs.ErrAlreadyRunning}
	a := newTestAutoPublisher(t, stubStatus{stale: true}, pub)

	ran, err := a.RunOnce(context.Background())
	require.NoError(t, err)
	assert.False(t, ran)
}

func TestAutoPublishReportsFailures(t *testing.T) {
	boom := errors.New("bucket unavailable")
	a := newTestAutoPublisher(t, stubStatus{stale: true}, &stubPublisher{err: boom})
	_, err := a.RunOnce(context.Background())
	assert.ErrorIs(t, err, boom)

	statusErr := errors.New("store down")
	a = newTestAutoPublisher(t, stubStatus{err: statusErr}, &stubPublisher{})
	_, err = a.RunOnce(context.Background())
	assert.ErrorIs(t, err, statusErr)
}

func TestAutoPublishAgainstGenerator(t *testing.T) {
	env := newTestEnv(t, testConfig(), nil)
	env.seed(t)
	a := newTestAutoPublisher(t, env.app.Generator, env.app.Pipeline)

	ran, err := a.RunOnce(context.Background())
	require.NoError(t, err)
	assert.True(t, ran)

	ran, err = a.RunOnce(context.Background())
	require.NoError(t, err)
	assert.False(t, ran, "nothing changed since the last run")
}
