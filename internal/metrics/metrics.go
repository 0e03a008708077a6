// Package metrics exposes Prometheus instrumentation for the batch and
// tracking loops.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "ticketflow"

// Registry holds every ticketflow collector. It is separate from the default
// registry so tests and embedders get a clean set.
var Registry = prometheus.NewRegistry()

var (
	itemOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "workflow",
			Name:      "item_outcomes_total",
			Help:      "Count of items leaving the pipeline, by final stage.",
		},
		[]string{"stage"},
	)
	stageAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "workflow",
			Name:      "stage_attempts_total",
			Help:      "Count of stage executor attempts, by stage and result.",
		},
		[]string{"stage", "result"},
	)
	stageFallbacks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "workflow",
			Name:      "stage_fallbacks_total",
			Help:      "Count of stage fallbacks applied after retry exhaustion.",
		},
		[]string{"stage"},
	)
	ticketsCreated = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "workflow",
			Name:      "tickets_created_total",
			Help:      "Count of confirmed ticket creations.",
		},
	)
	fetchErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "workflow",
			Name:      "fetch_errors_total",
			Help:      "Count of failed fetchUnprocessed calls.",
		},
	)
	batchDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "workflow",
			Name:      "batch_duration_seconds",
			Help:      "Duration of batch runs.",
			Buckets:   []float64{0.5, 1, 5, 15, 30, 60, 120, 300, 600},
		},
	)
	triggers = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "triggers_total",
			Help:      "Count of run triggers, by source and result.",
		},
		[]string{"source", "result"},
	)
	trackedTickets = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "tracker",
			Name:      "tracked_tickets",
			Help:      "Number of tickets currently tracked.",
		},
	)
	pollErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tracker",
			Name:      "poll_errors_total",
			Help:      "Count of failed ticket status polls.",
		},
	)
	staleDrops = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tracker",
			Name:      "stale_drops_total",
			Help:      "Count of tickets dropped after exceeding the tracking horizon.",
		},
	)
	notifications = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Count of originator notifications, by template and result.",
		},
		[]string{"template", "result"},
	)
)

var registerMetrics sync.Once

// Register adds all collectors to Registry. Safe to call repeatedly.
func Register() {
	registerMetrics.Do(func() {
		Registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
			itemOutcomes,
			stageAttempts,
			stageFallbacks,
			ticketsCreated,
			fetchErrors,
			batchDuration,
			triggers,
			trackedTickets,
			pollErrors,
			staleDrops,
			notifications,
		)
	})
}

// Handler serves Registry in the Prometheus exposition format.
func Handler() http.Handler {
	Register()
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// RecordItemOutcome counts an item leaving the pipeline at stage.
func RecordItemOutcome(stage string) {
	itemOutcomes.WithLabelValues(stage).Inc()
}

// RecordStageAttempt counts one executor attempt. result is "success" or "error".
func RecordStageAttempt(stage string, err error) {
	result := "success"
	if err != nil {
		result = "error"
	}
	stageAttempts.WithLabelValues(stage, result).Inc()
}

// RecordFallback counts a fallback applied at stage.
func RecordFallback(stage string) {
	stageFallbacks.WithLabelValues(stage).Inc()
}

// RecordTicketCreated counts a confirmed ticket.
func RecordTicketCreated() {
	ticketsCreated.Inc()
}

// RecordFetchError counts a failed fetch.
func RecordFetchError() {
	fetchErrors.Inc()
}

// ObserveBatch records a batch run duration.
func ObserveBatch(d time.Duration) {
	batchDuration.Observe(d.Seconds())
}

// RecordTrigger counts a run trigger. accepted is false when a run was already in flight.
func RecordTrigger(source string, accepted bool) {
	result := "accepted"
	if !accepted {
		result = "rejected"
	}
	triggers.WithLabelValues(source, result).Inc()
}

// SetTracked reports the current tracked ticket count.
func SetTracked(n int) {
	trackedTickets.Set(float64(n))
}

// RecordPollError counts a failed status poll.
func RecordPollError() {
	pollErrors.Inc()
}

// RecordStaleDrop counts a ticket dropped at the tracking horizon.
func RecordStaleDrop() {
	staleDrops.Inc()
}

// RecordNotification counts an originator notification attempt.
func RecordNotification(template string, err error) {
	result := "sent"
	if err != nil {
		result = "failed"
	}
	notifications.WithLabelValues(template, result).Inc()
}
