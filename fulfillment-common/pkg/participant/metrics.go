package participant

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/fulfillment/platform/fulfillment-common/pkg/saga"
)

// Metrics is the Prometheus registry of a participant service. A nil *Metrics
// is valid and records nothing.
type Metrics struct {
	registry    *prometheus.Registry
	group       string
	execute     *prometheus.CounterVec
	compensate  *prometheus.CounterVec
	faults      *prometheus.CounterVec
	dispatches  *prometheus.CounterVec
	streamError *prometheus.CounterVec
	streamDLQ   *prometheus.CounterVec
}

// NewMetrics creates a registry; group labels the stream metrics.
func NewMetrics(group string) *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)

	m := &Metrics{
		registry: registry,
		group:    group,
		execute: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "participant_execute_total",
			Help: "Forward actions by participant and resulting status.",
		}, []string{"source", "status"}),
		compensate: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "participant_compensate_total",
			Help: "Compensations by participant and whether they completed cleanly.",
		}, []string{"source", "clean"}),
		faults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "participant_faults_total",
			Help: "Unexpected participant faults by action.",
		}, []string{"source", "action"}),
		dispatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "saga_dispatch_total",
			Help: "Events handed to the transport by topic and result.",
		}, []string{"topic", "result"}),
		streamError: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "redis_stream_handler_errors_total",
			Help: "Total number of stream handler errors.",
		}, []string{"stream", "group"}),
		streamDLQ: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "redis_stream_dlq_total",
			Help: "Total number of messages moved to Redis Stream DLQ.",
		}, []string{"stream", "group"}),
	}
	registry.MustRegister(m.execute, m.compensate, m.faults, m.dispatches, m.streamError, m.streamDLQ)
	return m
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) executed(source string, status saga.Status) {
	if m == nil {
		return
	}
	m.execute.WithLabelValues(source, string(status)).Inc()
}

func (m *Metrics) compensated(source string, clean bool) {
	if m == nil {
		return
	}
	m.compensate.WithLabelValues(source, strconv.FormatBool(clean)).Inc()
}

func (m *Metrics) fault(source, action string) {
	if m == nil {
		return
	}
	m.faults.WithLabelValues(source, action).Inc()
}

// Processed implements redis.ConsumerHooks.
func (m *Metrics) Processed(stream string, err error) {
	if m == nil || err == nil {
		return
	}
	m.streamError.WithLabelValues(stream, m.group).Inc()
}

// DeadLettered implements redis.ConsumerHooks.
func (m *Metrics) DeadLettered(stream string) {
	if m == nil {
		return
	}
	m.streamDLQ.WithLabelValues(stream, m.group).Inc()
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
