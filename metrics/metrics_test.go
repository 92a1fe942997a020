package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrometheusRecorder(t *testing.T) {
	reg := prom.NewRegistry()
	pr := NewPrometheusRecorder(reg)

	pr.ObservePublishDuration(1500 * time.Millisecond)
	pr.IncPublishOutcome(OutcomeSuccess)
	pr.AddFileResult(FileUploaded, 9)
	pr.AddFileResult(FileSkipped, 0)
	pr.SetPagesInFlight(3)
	pr.IncStoreRetry("get")
	pr.IncStoreRetryExhausted("get")

	assert.Equal(t, 1.0, testutil.ToFloat64(pr.publishOutcome.WithLabelValues("success")))
	assert.Equal(t, 9.0, testutil.ToFloat64(pr.fileResults.WithLabelValues("uploaded")))
	assert.Equal(t, 3.0, testutil.ToFloat64(pr.pagesInFlight))
	assert.Equal(t, 1.0, testutil.ToFloat64(pr.retries.WithLabelValues("get")))

	mfs, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, mfs)
}

func TestHTTPHandler(t *testing.T) {
	reg := NewRegistry()
	pr := NewPrometheusRecorder(reg)
	pr.IncPublishOutcome(OutcomeFailed)

	rec := httptest.NewRecorder()
	HTTPHandler(reg).ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	assert.Equal(t, 200, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), `pagepress_publish_outcomes_total{outcome="failed"} 1`))
}

func TestOrNoop(t *testing.T) {
	assert.IsType(t, NoopRecorder{}, OrNoop(nil))
	pr := NewPrometheusRecorder(nil)
	assert.Same(t, pr, OrNoop(pr))
}
