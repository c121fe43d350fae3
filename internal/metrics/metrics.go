package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "passport_sync"

// Metrics holds the service's Prometheus collectors
type Metrics struct {
	registry prometheus.Gatherer

	JobsStarted         *prometheus.CounterVec
	JobsFinished        *prometheus.CounterVec
	JobDuration         *prometheus.HistogramVec
	JobsRunning         prometheus.Gauge
	Records             *prometheus.CounterVec
	ProviderRetries     *prometheus.CounterVec
	StaleJobsReaped     prometheus.Counter
	ProgressSubscribers prometheus.Gauge

	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec
}

// New registers all collectors on a fresh registry
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return NewWithRegistry(reg, reg)
}

// NewWithRegistry registers all collectors on reg and serves them from gatherer
func NewWithRegistry(reg prometheus.Registerer, gatherer prometheus.Gatherer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		registry: gatherer,

		JobsStarted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_started_total",
			Help:      "Sync jobs that transitioned to running",
		}, []string{"connector", "trigger"}),
		JobsFinished: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_finished_total",
			Help:      "Sync jobs that reached a terminal status",
		}, []string{"connector", "status"}),
		JobDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_duration_seconds",
			Help:      "Wall time of sync jobs from running to terminal",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		}, []string{"connector", "status"}),
		JobsRunning: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "jobs_running",
			Help:      "Sync jobs currently executing on this instance",
		}),
		Records: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_total",
			Help:      "Source records applied, by outcome",
		}, []string{"connector", "outcome"}),
		ProviderRetries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_retries_total",
			Help:      "Provider calls retried after a transient failure",
		}, []string{"connector"}),
		StaleJobsReaped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stale_jobs_reaped_total",
			Help:      "In-flight jobs failed by the stale job reaper",
		}),
		ProgressSubscribers: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "progress_subscribers",
			Help:      "Open progress push connections",
		}),

		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status",
		}, []string{"method", "route", "status"}),
		HTTPDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
}

// Middleware records request count and latency per matched route
func (m *Metrics) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		m.HTTPRequests.WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).Inc()
		m.HTTPDuration.WithLabelValues(c.Request.Method, route).Observe(time.Since(start).Seconds())
	}
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() gin.HandlerFunc {
	return gin.WrapH(promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
}

// ObserveJob records a terminal job
func (m *Metrics) ObserveJob(connector, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.JobsFinished.WithLabelValues(connector, status).Inc()
	m.JobDuration.WithLabelValues(connector, status).Observe(duration.Seconds())
}

// JobStarted records a job entering running
func (m *Metrics) JobStarted(connector, trigger string) {
	if m == nil {
		return
	}
	m.JobsStarted.WithLabelValues(connector, trigger).Inc()
	m.JobsRunning.Inc()
}

// JobStopped decrements the running gauge
func (m *Metrics) JobStopped() {
	if m == nil {
		return
	}
	m.JobsRunning.Dec()
}

// RecordApplied counts one source record outcome
func (m *Metrics) RecordApplied(connector, outcome string) {
	if m == nil {
		return
	}
	m.Records.WithLabelValues(connector, outcome).Inc()
}

// ProviderRetried counts retried provider calls
func (m *Metrics) ProviderRetried(connector string, retries int) {
	if m == nil || retries <= 0 {
		return
	}
	m.ProviderRetries.WithLabelValues(connector).Add(float64(retries))
}

// JobsReaped counts jobs failed by the reaper
func (m *Metrics) JobsReaped(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.StaleJobsReaped.Add(float64(n))
}

// SetProgressSubscribers reports the open push connections
func (m *Metrics) SetProgressSubscribers(n int) {
	if m == nil {
		return
	}
	m.ProgressSubscribers.Set(float64(n))
}
