package metrics

import (
	"net/http"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	promhttp "github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "pagepress"

// PrometheusRecorder implements Recorder with Prometheus collectors.
type PrometheusRecorder struct {
	publishDuration  prom.Histogram
	publishOutcome   *prom.CounterVec
	fileResults      *prom.CounterVec
	pagesInFlight    prom.Gauge
	retries          *prom.CounterVec
	retriesExhausted *prom.CounterVec
}

// NewPrometheusRecorder creates the collectors and registers them on reg.
func NewPrometheusRecorder(reg *prom.Registry) *PrometheusRecorder {
	if reg == nil {
		reg = prom.NewRegistry()
	}
	pr := &PrometheusRecorder{
		publishDuration: prom.NewHistogram(prom.HistogramOpts{
			Namespace: namespace,
			Name:      "publish_duration_seconds",
			Help:      "Duration of publish runs",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}),
		publishOutcome: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "publish_outcomes_total",
			Help:      "Publish runs by outcome",
		}, []string{"outcome"}),
		fileResults: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "publish_files_total",
			Help:      "Output files by result",
		}, []string{"result"}),
		pagesInFlight: prom.NewGauge(prom.GaugeOpts{
			Namespace: namespace,
			Name:      "publish_pages_in_flight",
			Help:      "Page jobs currently rendering or uploading",
		}),
		retries: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "store_retries_total",
			Help:      "Store calls retried after throughput limiting",
		}, []string{"op"}),
		retriesExhausted: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "store_retry_exhausted_total",
			Help:      "Store calls that failed after the last retry",
		}, []string{"op"}),
	}
	reg.MustRegister(pr.publishDuration, pr.publishOutcome, pr.fileResults, pr.pagesInFlight, pr.retries, pr.retriesExhausted)
	return pr
}

// NewRegistry returns a registry with the Go runtime and process collectors.
func NewRegistry() *prom.Registry {
	reg := prom.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return reg
}

// HTTPHandler serves the metrics of reg.
func HTTPHandler(reg *prom.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

func (p *PrometheusRecorder) ObservePublishDuration(d time.Duration) {
	p.publishDuration.Observe(d.Seconds())
}

func (p *PrometheusRecorder) IncPublishOutcome(outcome Outcome) {
	p.publishOutcome.WithLabelValues(string(outcome)).Inc()
}

func (p *PrometheusRecorder) AddFileResult(result FileResult, n int) {
	if n <= 0 {
		return
	}
	p.fileResults.WithLabelValues(string(result)).Add(float64(n))
}

func (p *PrometheusRecorder) SetPagesInFlight(n int) {
	p.pagesInFlight.Set(float64(n))
}

func (p *PrometheusRecorder) IncStoreRetry(op string) {
	p.retries.WithLabelValues(op).Inc()
}

func (p *PrometheusRecorder) IncStoreRetryExhausted(op string) {
	p.retriesExhausted.WithLabelValues(op).Inc()
}
