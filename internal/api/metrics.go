package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dunamismax/pixelchain/internal/domain"
	"github.com/dunamismax/pixelchain/internal/pipeline"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Transform outcomes used as the "outcome" label.
const (
	outcomeOK       = "ok"
	outcomeRejected = "rejected"
	outcomeError    = "error"
)

type metrics struct {
	registry          *prometheus.Registry
	requestTotal      *prometheus.CounterVec
	requestDuration   *prometheus.HistogramVec
	rateLimitRejected *prometheus.CounterVec
	rateLimitTokens   *prometheus.CounterVec
	queueEnqueued     *prometheus.CounterVec
	transformsTotal   *prometheus.CounterVec
	transformDuration *prometheus.HistogramVec
	transformBytes    *prometheus.HistogramVec
	transformOps      *prometheus.CounterVec
}

func newMetrics() *metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &metrics{
		registry: registry,
		requestTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pixelchain_api_requests_total",
			Help: "HTTP requests handled, by route and status.",
		}, []string{"method", "route", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pixelchain_api_request_duration_seconds",
			Help:    "HTTP request latency in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
		rateLimitRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pixelchain_api_rate_limit_rejections_total",
			Help: "Requests refused because the caller's bucket was empty.",
		}, []string{"route"}),
		rateLimitTokens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pixelchain_api_rate_limit_tokens_total",
			Help: "Tokens charged against caller buckets, by route.",
		}, []string{"route"}),
		queueEnqueued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pixelchain_queue_jobs_enqueued_total",
			Help: "Jobs handed to the processing queue.",
		}, []string{"queue"}),
		transformsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pixelchain_api_transforms_total",
			Help: "Synchronous transforms, by output format and outcome.",
		}, []string{"format", "outcome"}),
		transformDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pixelchain_api_transform_duration_seconds",
			Help:    "Decode, chain and encode time of synchronous transforms.",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"source_format", "format"}),
		transformBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pixelchain_api_transform_bytes",
			Help:    "Encoded image sizes of synchronous transforms.",
			Buckets: prometheus.ExponentialBuckets(1<<10, 4, 10),
		}, []string{"direction", "format"}),
		transformOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pixelchain_api_transform_operations_total",
			Help: "Operations requested through synchronous transforms.",
		}, []string{"op"}),
	}
	registry.MustRegister(
		m.requestTotal,
		m.requestDuration,
		m.rateLimitRejected,
		m.rateLimitTokens,
		m.queueEnqueued,
		m.transformsTotal,
		m.transformDuration,
		m.transformBytes,
		m.transformOps,
	)
	return m
}

func (m *metrics) metricsHandler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// observeTransform records one synchronous transform. format is the
// requested target ("auto" keeps the source format) when rendering failed.
func (m *metrics) observeTransform(operations []domain.Operation, format string, rendered pipeline.Rendered, elapsed time.Duration, err error) {
	for _, op := range operations {
		m.transformOps.WithLabelValues(op.Op).Inc()
	}

	switch {
	case err == nil:
		format = rendered.Format.String()
		m.transformsTotal.WithLabelValues(format, outcomeOK).Inc()
		m.transformDuration.WithLabelValues(rendered.SourceFormat.String(), format).Observe(elapsed.Seconds())
		m.transformBytes.WithLabelValues("in", rendered.SourceFormat.String()).Observe(float64(rendered.SourceBytes))
		m.transformBytes.WithLabelValues("out", format).Observe(float64(len(rendered.Data)))
	case pipeline.IsPermanent(err):
		m.transformsTotal.WithLabelValues(format, outcomeRejected).Inc()
	default:
		m.transformsTotal.WithLabelValues(format, outcomeError).Inc()
	}
}

func (m *metrics) withHTTPMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)

		route := routeLabel(r.URL.Path)
		status := strconv.Itoa(recorder.status)
		m.requestTotal.WithLabelValues(r.Method, route, status).Inc()
		m.requestDuration.WithLabelValues(r.Method, route, status).Observe(time.Since(start).Seconds())
	})
}

// routeLabel collapses request paths onto the registered routes so job ids
// and scanner noise do not blow up label cardinality.
func routeLabel(path string) string {
	rest, ok := strings.CutPrefix(path, "/v1/")
	if !ok {
		switch path {
		case "/healthz", "/metrics":
			return path
		}
		return "other"
	}

	switch resource, tail, _ := strings.Cut(rest, "/"); {
	case resource == "transform" && tail == "":
		return "/v1/transform"
	case resource != "jobs":
		return "other"
	case tail == "":
		return "/v1/jobs"
	case strings.HasSuffix(tail, "/start"):
		return "/v1/jobs/{id}/start"
	default:
		return "/v1/jobs/{id}"
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(statusCode int) {
	r.status = statusCode
	r.ResponseWriter.WriteHeader(statusCode)
}
