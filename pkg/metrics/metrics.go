// Package metrics exposes engine counters to prometheus. All methods are safe
// to call on a nil *Metrics.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "gridsync"

// Resource names used as the "resource" label.
const (
	ResourceSample   = "sample"
	ResourceDevices  = "devices"
	ResourceControl  = "control"
	ResourceAnalysis = "analysis"
)

type Metrics struct {
	registry *prometheus.Registry

	pollCycles       prometheus.Counter
	pollDuration     prometheus.Histogram
	fetchErrors      *prometheus.CounterVec
	samplesAppended  prometheus.Counter
	notifications    *prometheus.CounterVec
	intentsPending   prometheus.Gauge
	toggles          *prometheus.CounterVec
	analysisRuns     *prometheus.CounterVec
	httpRequests     *prometheus.CounterVec
	httpDuration     *prometheus.HistogramVec
	lastSampleUnixTs prometheus.Gauge
}

// New creates the collectors and registers them on a fresh registry along
// with the go and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		pollCycles: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "poll_cycles_total",
			Help:      "Total poll cycles run.",
		}),
		pollDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "poll_cycle_duration_seconds",
			Help:      "Histogram of poll cycle durations.",
			Buckets:   prometheus.DefBuckets,
		}),
		fetchErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetch_errors_total",
			Help:      "Total failed requests to the telemetry service by resource.",
		}, []string{"resource"}),
		samplesAppended: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "samples_appended_total",
			Help:      "Total new samples added to the window.",
		}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Total autonomous device change notifications by direction.",
		}, []string{"direction"}),
		intentsPending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "intents_pending",
			Help:      "Devices waiting for a user command to be observed.",
		}),
		toggles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "device_toggles_total",
			Help:      "Total device control commands by result.",
		}, []string{"result"}),
		analysisRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "analysis_runs_total",
			Help:      "Total analysis runs by result.",
		}, []string{"result"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total count of HTTP requests processed by route and status.",
		}, []string{"route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Histogram of HTTP request durations by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
		lastSampleUnixTs: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_sample_timestamp_seconds",
			Help:      "Timestamp of the newest sample in the window.",
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.pollCycles,
		m.pollDuration,
		m.fetchErrors,
		m.samplesAppended,
		m.notifications,
		m.intentsPending,
		m.toggles,
		m.analysisRuns,
		m.httpRequests,
		m.httpDuration,
		m.lastSampleUnixTs,
	)
	return m
}

// Registry returns the registry the collectors are registered on.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) PollCycle(d time.Duration) {
	if m == nil {
		return
	}
	m.pollCycles.Inc()
	m.pollDuration.Observe(d.Seconds())
}

func (m *Metrics) FetchError(resource string) {
	if m == nil {
		return
	}
	m.fetchErrors.WithLabelValues(resource).Inc()
}

func (m *Metrics) SampleAppended(ts time.Time) {
	if m == nil {
		return
	}
	m.samplesAppended.Inc()
	if !ts.IsZero() {
		m.lastSampleUnixTs.Set(float64(ts.Unix()))
	}
}

func (m *Metrics) Notification(direction string) {
	if m == nil {
		return
	}
	m.notifications.WithLabelValues(direction).Inc()
}

func (m *Metrics) IntentsPending(n int) {
	if m == nil {
		return
	}
	m.intentsPending.Set(float64(n))
}

func (m *Metrics) Toggle(success bool) {
	if m == nil {
		return
	}
	m.toggles.WithLabelValues(result(success)).Inc()
}

func (m *Metrics) AnalysisRun(success bool) {
	if m == nil {
		return
	}
	m.analysisRuns.WithLabelValues(result(success)).Inc()
}

func result(success bool) string {
	if success {
		return "success"
	}
	return "failure"
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(status int) {
	s.status = status
	s.ResponseWriter.WriteHeader(status)
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (s *statusRecorder) Unwrap() http.ResponseWriter {
	return s.ResponseWriter
}

// WrapHandler records request counts and durations for route.
func (m *Metrics) WrapHandler(route string, next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		next.ServeHTTP(recorder, r)

		m.httpRequests.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
		m.httpDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}
