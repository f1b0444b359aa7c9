package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/fulfillment/platform/fulfillment-common/pkg/saga"
)

// Metrics wraps Prometheus metrics for the orchestrator.
type Metrics struct {
	registry     *prometheus.Registry
	group        string
	started      prometheus.Counter
	finished     *prometheus.CounterVec
	transitions  *prometheus.CounterVec
	anomalies    prometheus.Counter
	rejected     prometheus.Counter
	duration     *prometheus.HistogramVec
	dispatches   *prometheus.CounterVec
	streamErrors *prometheus.CounterVec
	streamDLQ    *prometheus.CounterVec
}

// New creates a metrics registry and registers orchestrator metrics.
func New(group string) *Metrics {
	registry := prometheus.NewRegistry()

	registry.MustRegister(
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)

	m := &Metrics{
		registry: registry,
		group:    group,
		started: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "saga_started_total",
			Help: "Total number of sagas started.",
		}),
		finished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "saga_finished_total",
			Help: "Total number of sagas that reached a terminal stage.",
		}, []string{"result"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "saga_transitions_total",
			Help: "Routing decisions by origin stage, reported status and destination stage.",
		}, []string{"from", "status", "to"}),
		anomalies: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "saga_anomalies_total",
			Help: "Events that arrived with an unknown stage and were failed closed.",
		}),
		rejected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "saga_rejected_total",
			Help: "Events dropped because the saga had already finished.",
		}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "saga_duration_seconds",
			Help:    "Time from saga start to terminal stage.",
			Buckets: prometheus.DefBuckets,
		}, []string{"result"}),
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

	registry.MustRegister(m.started, m.finished, m.transitions, m.anomalies, m.rejected,
		m.duration, m.dispatches, m.streamErrors, m.streamDLQ)
	return m
}

// Handler exposes the metrics registry via HTTP.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) IncStarted() {
	if m == nil {
		return
	}
	m.started.Inc()
}

// ObserveDecision records one routing decision.
func (m *Metrics) ObserveDecision(d saga.Decision, reported saga.Status) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(string(d.From), string(reported), string(d.Event.CurrentStage)).Inc()
	if d.Anomaly {
		m.anomalies.Inc()
	}
}

// ObserveFinished records a saga reaching FINISH_SUCCESS or FINISH_FAIL.
func (m *Metrics) ObserveFinished(stage saga.StageName, elapsed time.Duration) {
	if m == nil {
		return
	}
	result := "fail"
	if stage == saga.StageFinishSuccess {
		result = "success"
	}
	m.finished.WithLabelValues(result).Inc()
	if elapsed > 0 {
		m.duration.WithLabelValues(result).Observe(elapsed.Seconds())
	}
}

func (m *Metrics) IncRejected() {
	if m == nil {
		return
	}
	m.rejected.Inc()
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
