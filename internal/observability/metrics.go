package observability

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	metricsNamespace = "hookline"
	unmatchedRoute   = "unmatched"
)

// Metrics owns the hookline_* collectors of one process. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	httpRequestsTotal      *prometheus.CounterVec
	httpRequestDuration    *prometheus.HistogramVec
	deliveryAttemptsTotal  *prometheus.CounterVec
	deliveryFailuresTotal  *prometheus.CounterVec
	deliveryDuration       *prometheus.HistogramVec
	deliveriesSkippedTotal *prometheus.CounterVec
	deliveriesExhausted    prometheus.Counter
	retriesScheduledTotal  prometheus.Counter
	workerInflight         *prometheus.GaugeVec
	operationalEventsTotal *prometheus.CounterVec
	queueTasksTotal        *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	f := promauto.With(registry)
	counter := func(name, help string, labels ...string) *prometheus.CounterVec {
		return f.NewCounterVec(prometheus.CounterOpts{Namespace: metricsNamespace, Name: name, Help: help}, labels)
	}

	return &Metrics{
		registry: registry,

		httpRequestsTotal: counter("http_requests_total",
			"HTTP requests served, by method, route and status.", "method", "path", "status"),
		httpRequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by method and route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path"}),

		deliveryAttemptsTotal: counter("delivery_attempts_total",
			"Webhook delivery attempts by outcome and trigger.", "outcome", "trigger"),
		deliveryFailuresTotal: counter("delivery_failures_total",
			"Failed webhook delivery attempts by failure reason.", "reason"),
		deliveryDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "delivery_duration_seconds",
			Help:      "Outbound webhook request latency by outcome.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		}, []string{"outcome"}),
		deliveriesSkippedTotal: counter("deliveries_skipped_total",
			"Delivery tasks dropped without an attempt, by reason.", "reason"),
		deliveriesExhausted: f.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "deliveries_exhausted_total",
			Help:      "Destinations that failed after the whole retry schedule.",
		}),
		retriesScheduledTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "retries_scheduled_total",
			Help:      "Delivery retries put back on the task queue.",
		}),

		workerInflight: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "worker_inflight",
			Help:      "Queue tasks being processed, by task kind.",
		}, []string{"task"}),
		operationalEventsTotal: counter("operational_events_total",
			"Operational webhook sends by event type and result.", "type", "result"),
		queueTasksTotal: counter("queue_tasks_total",
			"Task queue operations by operation and result.", "op", "result"),
	}
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// HTTPMiddleware records every request except scrapes of /metrics. statusFor
// maps a handler error to the status the error handler will write; nil
// treats *fiber.Error codes as the status and anything else as 500.
func (m *Metrics) HTTPMiddleware(statusFor func(error) int) fiber.Handler {
	if statusFor == nil {
		statusFor = fiberErrorStatus
	}

	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		path := routePath(c)
		if path == "/metrics" {
			return err
		}

		status := c.Response().StatusCode()
		if err != nil {
			status = statusFor(err)
		}
		m.recordHTTPRequest(c.Method(), path, status, time.Since(start))
		return err
	}
}

// ObserveDelivery records one finished HTTP attempt. reason is empty on success.
func (m *Metrics) ObserveDelivery(success bool, trigger string, reason string, duration time.Duration) {
	if m == nil {
		return
	}

	outcome := "success"
	if !success {
		outcome = "failure"
		m.deliveryFailuresTotal.WithLabelValues(normalizeLabel(reason)).Inc()
	}
	m.deliveryAttemptsTotal.WithLabelValues(outcome, normalizeLabel(trigger)).Inc()
	m.deliveryDuration.WithLabelValues(outcome).Observe(max(duration, 0).Seconds())
}

func (m *Metrics) IncDeliverySkipped(reason string) {
	if m != nil {
		m.deliveriesSkippedTotal.WithLabelValues(normalizeLabel(reason)).Inc()
	}
}

func (m *Metrics) IncDeliveryExhausted() {
	if m != nil {
		m.deliveriesExhausted.Inc()
	}
}

func (m *Metrics) IncRetryScheduled() {
	if m != nil {
		m.retriesScheduledTotal.Inc()
	}
}

func (m *Metrics) IncWorkerInFlight(task string) {
	if m != nil {
		m.workerInflight.WithLabelValues(normalizeLabel(task)).Inc()
	}
}

func (m *Metrics) DecWorkerInFlight(task string) {
	if m != nil {
		m.workerInflight.WithLabelValues(normalizeLabel(task)).Dec()
	}
}

func (m *Metrics) IncOperationalEvent(eventType string, result string) {
	if m != nil {
		m.operationalEventsTotal.WithLabelValues(normalizeLabel(eventType), normalizeLabel(result)).Inc()
	}
}

func (m *Metrics) IncQueueTask(op string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.queueTasksTotal.WithLabelValues(normalizeLabel(op), result).Inc()
}

func (m *Metrics) recordHTTPRequest(method string, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	if status == 0 {
		status = fiber.StatusOK
	}

	method = strings.ToUpper(strings.TrimSpace(method))
	if method == "" {
		method = "UNKNOWN"
	}

	m.httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	m.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// routePath labels by route pattern so ids in the URL do not explode
// cardinality.
func routePath(c *fiber.Ctx) string {
	if route := c.Route(); route != nil {
		if path := strings.TrimSpace(route.Path); path != "" {
			return path
		}
	}
	return unmatchedRoute
}

func fiberErrorStatus(err error) int {
	var fiberErr *fiber.Error
	if errors.As(err, &fiberErr) {
		return fiberErr.Code
	}
	return fiber.StatusInternalServerError
}

func normalizeLabel(value string) string {
	normalized := strings.ToLower(strings.TrimSpace(value))
	if normalized == "" {
		return "unknown"
	}
	return normalized
}
