// Package metrics exposes collector, query and HTTP instrumentation in the
// Prometheus text format.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/xtxerr/sensorlog/internal/collector"
	"github.com/xtxerr/sensorlog/internal/storage/query"
)

const namespace = "sensorlog"

// Metrics owns a private registry and every instrument registered on it.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	ticksTotal     *prometheus.CounterVec
	samplesWritten prometheus.Counter
	tickDuration   prometheus.Histogram
	collectorState prometheus.Gauge
	lastSuccess    prometheus.Gauge

	httpRequestsTotal *prometheus.CounterVec
	httpDuration      *prometheus.HistogramVec
	activeStreams     prometheus.Gauge
}

// New creates the instruments and registers them, together with the Go
// runtime and process collectors, on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		ticksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "collector_ticks_total",
			Help:      "Collector ticks by result (ok, poll, write, panic).",
		}, []string{"result"}),
		samplesWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "collector_samples_written_total",
			Help:      "Samples committed to the store.",
		}),
		tickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "collector_tick_duration_seconds",
			Help:      "Time from poll start to commit or failure.",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		}),
		collectorState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "collector_last_tick_ok",
			Help:      "1 if the most recent tick wrote its batch, 0 otherwise.",
		}),
		lastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "collector_last_success_timestamp_seconds",
			Help:      "Start time of the most recent successful tick.",
		}),
		httpRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests processed by route and status.",
		}, []string{"route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request durations by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
		activeStreams: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "http_active_streams",
			Help:      "Open live feed connections.",
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.ticksTotal,
		m.samplesWritten,
		m.tickDuration,
		m.collectorState,
		m.lastSuccess,
		m.httpRequestsTotal,
		m.httpDuration,
		m.activeStreams,
	)

	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// =============================================================================
// Collector
// =============================================================================

// ObserveTick records one collector tick. It matches the signature of
// collector.OnTick.
func (m *Metrics) ObserveTick(r collector.TickResult) {
	if m == nil {
		return
	}

	m.tickDuration.Observe(r.Duration.Seconds())
	if !r.OK() {
		m.ticksTotal.WithLabelValues(string(r.Stage)).Inc()
		m.collectorState.Set(0)
		return
	}

	m.ticksTotal.WithLabelValues("ok").Inc()
	m.samplesWritten.Add(float64(r.Samples))
	m.collectorState.Set(1)
	m.lastSuccess.Set(float64(r.Start.Unix()))
}

// WatchQueries exports the counters of a query service.
func (m *Metrics) WatchQueries(svc *query.Service) {
	if m == nil {
		return
	}

	m.registry.MustRegister(
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "query_executed_total",
			Help:      "Store reads issued by the query service.",
		}, func() float64 { return float64(svc.Stats().QueriesExecuted) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "query_rows_returned_total",
			Help:      "Rows returned by store reads.",
		}, func() float64 { return float64(svc.Stats().RowsReturned) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "query_errors_total",
			Help:      "Store reads that failed.",
		}, func() float64 { return float64(svc.Stats().Errors) }),
	)
}

// =============================================================================
// HTTP
// =============================================================================

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(status int) {
	s.status = status
	s.ResponseWriter.WriteHeader(status)
}

// Flush forwards to the wrapped writer so streaming handlers keep working.
func (s *statusRecorder) Flush() {
	if f, ok := s.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// WrapHandler counts requests and observes durations under route.
func (m *Metrics) WrapHandler(route string, next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		next.ServeHTTP(recorder, r)

		m.httpRequestsTotal.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
		m.httpDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

// StreamOpened increments the open stream gauge and returns a func that
// decrements it.
func (m *Metrics) StreamOpened() func() {
	if m == nil {
		return func() {}
	}
	m.activeStreams.Inc()
	return m.activeStreams.Dec
}
