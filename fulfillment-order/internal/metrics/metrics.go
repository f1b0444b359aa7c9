package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/fulfillment/platform/fulfillment-common/pkg/saga"
)

// Metrics wraps Prometheus metrics for the order service.
type Metrics struct {
	registry     *prometheus.Registry
	group        string
	created      prometheus.Counter
	finished     *prometheus.CounterVec
	unfinished   prometheus.Gauge
	requests     *prometheus.CounterVec
	latency      *prometheus.HistogramVec
	dispatches   *prometheus.CounterVec
	streamErrors *prometheus.CounterVec
	streamDLQ    *prometheus.CounterVec
}

// New creates a metrics registry and registers order service metrics.
func New(group string) *Metrics {
	registry := prometheus.NewRegistry()

	registry.MustRegister(
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)

	m := &Metrics{
		registry: registry,
		group:    group,
		created: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "orders_created_total",
			Help: "Total number of orders accepted.",
		}),
		finished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "orders_finished_total",
			Help: "Terminal saga events stored, by stage.",
		}, []string{"stage"}),
		unfinished: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "orders_unfinished",
			Help: "Orders past the sweep threshold without a terminal event, as of the last sweep.",
		}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "HTTP requests by method, route and status.",
		}, []string{"method", "route", "status"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
		dispatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "saga_dispatch_total",
			Help: "Events handed to the transport by topic and result.",
		}, []string{"topic", "result"}),
		streamErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "redis_stream_handler_errors_total",
			Help: "Total number of stream handler errors.",
		}, []string{"stream", "group"}),
		streamDLQ: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "redis_stream_dlq_total",
			Help: "Total number of messages moved to Redis Stream DLQ.",
		}, []string{"stream", "group"}),
	}

	registry.MustRegister(m.created, m.finished, m.unfinished, m.requests, m.latency, m.dispatches, m.streamErrors, m.streamDLQ)
	return m
}

// Handler exposes the metrics registry via HTTP.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) IncCreated() {
	if m == nil {
		return
	}
	m.created.Inc()
}

func (m *Metrics) IncFinished(stage saga.StageName) {
	if m == nil {
		return
	}
	m.finished.WithLabelValues(string(stage)).Inc()
}

func (m *Metrics) SetUnfinished(n int) {
	if m == nil {
		return
	}
	m.unfinished.Set(float64(n))
}

// GinMiddleware records request count and latency per matched route.
func (m *Metrics) GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if m == nil {
			c.Next()
			return
		}
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		m.requests.WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).Inc()
		m.latency.WithLabelValues(c.Request.Method, route).Observe(time.Since(start).Seconds())
	}
}

// Dispatched implements redis.DispatchObserver.
func (m *Metrics) Dispatched(topic saga.Topic, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.dispatches.WithLabelValues(string(topic), result).Inc()
}

// Processed implements redis.ConsumerHooks.
func (m *Metrics) Processed(stream string, err error) {
	if m == nil || err == nil {
		return
	}
	m.streamErrors.WithLabelValues(stream, m.group).Inc()
}

// DeadLettered implements redis.ConsumerHooks.
func (m *Metrics) DeadLettered(stream string) {
	if m == nil {
		return
	}
	m.streamDLQ.WithLabelValues(stream, m.group).Inc()
}
