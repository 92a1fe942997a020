package cdn

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePublisher struct {
	subject string
	data    []byte
	opts    int
	err     error
	calls   int
}

func (f *fakePublisher) Publish(_ context.Context, subject string, data []byte, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error) {
	f.calls++
	f.subject = subject
	f.data = data
	f.opts = len(opts)
	if f.err != nil {
		return nil, f.err
	}
	return &jetstream.PubAck{Stream: "CDN", Sequence: 1}, nil
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNormalizePaths(t *testing.T) {
	got := NormalizePaths([]string{"index.html", "/index.html", "blog/a.css", " ", "about.html"})
	assert.Equal(t, []string{"/about.html", "/blog/a.css", "/index.html"}, got)
}

func TestNATSInvalidatePublishesRequest(t *testing.T) {
	pub := &fakePublisher{}
	n := newNATS(pub, DefaultSubject, quietLogger())
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	n.now = func() time.Time { return fixed }

	require.NoError(t, n.Invalidate(context.Background(), "E123", []string{"index.html", "sitemap.xml"}))
	require.Equal(t, 1, pub.calls)
	assert.Equal(t, DefaultSubject, pub.subject)
	assert.Equal(t, 1, pub.opts)

	var req Request
	require.NoError(t, json.Unmarshal(pub.data, &req))
	assert.Equal(t, "E123", req.DistributionID)
	assert.Equal(t, []string{"/index.html", "/sitemap.xml"}, req.Paths)
	assert.NotEmpty(t, req.CallerReference)
	assert.True(t, req.RequestedAt.Equal(fixed))
}

func TestNATSInvalidateSkipsEmpty(t *testing.T) {
	pub := &fakePublisher{}
	n := newNATS(pub, DefaultSubject, quietLogger())
	require.NoError(t, n.Invalidate(context.Background(), "E123", nil))
	assert.Zero(t, pub.calls)
}

func TestNATSInvalidateWrapsError(t *testing.T) {
	boom := errors.New("no responders")
	n := newNATS(&fakePublisher{err: boom}, DefaultSubject, quietLogger())
	err := n.Invalidate(context.Background(), "E123", []string{"a.html"})
	assert.ErrorIs(t, err, boom)
}

func TestNewNATSRequiresURL(t *testing.T) {
	_, err := NewNATS(context.Background(), NATSConfig{}, nil)
	assert.Error(t, err)
}

func TestLogAndNoop(t *testing.T) {
	assert.NoError(t, Noop{}.Invalidate(context.Background(), "x", []string{"a"}))
	assert.NoError(t, Log{Logger: quietLogger()}.Invalidate(context.Background(), "x", []string{"a"}))
}
