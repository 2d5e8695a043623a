package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "barrim",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "barrim",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"method", "path"},
	)

	collectionOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "barrim",
			Subsystem: "collection",
			Name:      "debt_outcomes_total",
			Help:      "Per-debt outcomes of the collection cycle.",
		},
		[]string{"outcome"},
	)

	collectionSettled = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "barrim",
			Subsystem: "collection",
			Name:      "settled_minor_units_total",
			Help:      "Minor currency units settled by automated collection.",
		},
		[]string{"currency"},
	)

	collectionDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "barrim",
			Subsystem: "collection",
			Name:      "run_duration_seconds",
			Help:      "Duration of collection cycle runs.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
		},
	)

	manualPayments = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "barrim",
			Subsystem: "manual_payments",
			Name:      "events_total",
			Help:      "Manual payment submissions and decisions.",
		},
		[]string{"event"},
	)

	webhookSettlements = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "barrim",
			Subsystem: "webhook",
			Name:      "settlements_total",
			Help:      "Processor settlement confirmations by result.",
		},
		[]string{"result"},
	)

	processorCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "barrim",
			Subsystem: "whish",
			Name:      "calls_total",
			Help:      "Calls made to the payment processor.",
		},
		[]string{"op", "success"},
	)
)

func init() {
	Registry.MustRegister(
		httpRequests,
		httpDuration,
		collectionOutcomes,
		collectionSettled,
		collectionDuration,
		manualPayments,
		webhookSettlements,
		processorCalls,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// Middleware records request counts and latencies per route template.
func Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if c.Path() == "/metrics" {
				return next(c)
			}
			start := time.Now()
			err := next(c)
			if err != nil {
				c.Error(err)
			}
			status := c.Response().Status
			method := c.Request().Method
			httpRequests.WithLabelValues(method, c.Path(), strconv.Itoa(status)).Inc()
			httpDuration.WithLabelValues(method, c.Path()).Observe(time.Since(start).Seconds())
			return nil
		}
	}
}

// RecordCollectionOutcome counts one debt visited by the collection cycle.
func RecordCollectionOutcome(outcome string) {
	collectionOutcomes.WithLabelValues(outcome).Inc()
}

// RecordCollectionSettled adds automatically collected funds.
func RecordCollectionSettled(currency string, minor int64) {
	if minor <= 0 {
		return
	}
	collectionSettled.WithLabelValues(currency).Add(float64(minor))
}

// ObserveCollectionRun records the duration of a whole cycle.
func ObserveCollectionRun(d time.Duration) {
	collectionDuration.Observe(d.Seconds())
}

// RecordManualPayment counts manual payment events (submitted, approved, rejected, resubmit).
func RecordManualPayment(event string) {
	manualPayments.WithLabelValues(event).Inc()
}

// RecordWebhookSettlement counts settlement confirmations (applied, duplicate, closed, failed).
func RecordWebhookSettlement(result string) {
	webhookSettlements.WithLabelValues(result).Inc()
}

// RecordProcessorCall counts payment processor calls by operation.
func RecordProcessorCall(op string, success bool) {
	processorCalls.WithLabelValues(op, strconv.FormatBool(success)).Inc()
}
