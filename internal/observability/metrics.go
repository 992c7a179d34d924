package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcome label values shared by the render and rebuild counters.
const (
	OutcomeSuccess  = "success"
	OutcomeFailure  = "failure"
	OutcomeNotFound = "not_found"
)

// Metrics holds the collectors exported by the server. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	RequestCount    *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	RenderCount     *prometheus.CounterVec
	RenderDuration  prometheus.Histogram
	RebuildCount    *prometheus.CounterVec
	RebuildDuration prometheus.Histogram
	ChangeEvents    prometheus.Counter
	OpenStreams     prometheus.Gauge
	KeepAlives      prometheus.Counter
	HealthStatus    prometheus.Gauge

	registry *prometheus.Registry
	handler  http.Handler
}

func NewMetrics() *Metrics {
	return &Metrics{
		RequestCount: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "endpoint", "status_code"},
		),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "endpoint", "status_code"},
		),
		RenderCount: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "template_renders_total",
				Help: "Total number of template renders by outcome",
			},
			[]string{"outcome"},
		),
		RenderDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "template_render_duration_seconds",
				Help:    "Template render duration in seconds, including any rebuild",
				Buckets: prometheus.DefBuckets,
			},
		),
		RebuildCount: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "template_environment_rebuilds_total",
				Help: "Total number of template environment rebuilds by outcome",
			},
			[]string{"outcome"},
		),
		RebuildDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "template_environment_rebuild_duration_seconds",
				Help:    "Template environment compile duration in seconds",
				Buckets: prometheus.ExponentialBuckets(0.001, 4, 8),
			},
		),
		ChangeEvents: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "template_change_events_total",
				Help: "Total number of filesystem change events published",
			},
		),
		OpenStreams: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "livereload_open_streams",
				Help: "Number of open live reload event streams",
			},
		),
		KeepAlives: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "livereload_keepalives_total",
				Help: "Total number of keep-alive frames written to live reload streams",
			},
		),
		HealthStatus: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "app_health_status",
				Help: "Application health status (1 = ready, 0 = not ready)",
			},
		),
	}
}

func (m *Metrics) RecordRequest(method, endpoint string, statusCode int, duration time.Duration) {
	if m == nil {
		return
	}
	status := strconv.Itoa(statusCode)

	m.RequestCount.WithLabelValues(method, endpoint, status).Inc()
	m.RequestDuration.WithLabelValues(method, endpoint, status).Observe(duration.Seconds())
}

func (m *Metrics) RecordRender(outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.RenderCount.WithLabelValues(outcome).Inc()
	m.RenderDuration.Observe(duration.Seconds())
}

func (m *Metrics) RecordRebuild(err error, duration time.Duration) {
	if m == nil {
		return
	}
	outcome := OutcomeSuccess
	if err != nil {
		outcome = OutcomeFailure
	}
	m.RebuildCount.WithLabelValues(outcome).Inc()
	m.RebuildDuration.Observe(duration.Seconds())
}

func (m *Metrics) RecordChangeEvent() {
	if m == nil {
		return
	}
	m.ChangeEvents.Inc()
}

func (m *Metrics) StreamOpened() {
	if m == nil {
		return
	}
	m.OpenStreams.Inc()
}

func (m *Metrics) StreamClosed() {
	if m == nil {
		return
	}
	m.OpenStreams.Dec()
}

func (m *Metrics) RecordKeepAlive() {
	if m == nil {
		return
	}
	m.KeepAlives.Inc()
}

func (m *Metrics) SetHealthStatus(healthy bool) {
	if m == nil {
		return
	}
	if healthy {
		m.HealthStatus.Set(1)
	} else {
		m.HealthStatus.Set(0)
	}
}

func (m *Metrics) Handler() http.Handler {
	if m != nil && m.handler != nil {
		return m.handler
	}
	return promhttp.Handler()
}

// Register adds every collector to a private registry and builds the
// exposition handler over it.
func (m *Metrics) Register() error {
	m.registry = prometheus.NewRegistry()

	collectors := []prometheus.Collector{
		m.RequestCount,
		m.RequestDuration,
		m.RenderCount,
		m.RenderDuration,
		m.RebuildCount,
		m.RebuildDuration,
		m.ChangeEvents,
		m.OpenStreams,
		m.KeepAlives,
		m.HealthStatus,
	}
	for _, c := range collectors {
		if err := m.registry.Register(c); err != nil {
			return err
		}
	}

	m.handler = promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})

	return nil
}
