package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcome label values.
const (
	OutcomeOK    = "ok"
	OutcomeError = "error"
)

var (
	// operationsTotal counts CRUD calls.
	// Labels: service, method, outcome
	operationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docservice_operations_total",
			Help: "Total number of service operations",
		},
		[]string{"service", "method", "outcome"},
	)

	// operationDuration tracks CRUD call latency in seconds.
	// Labels: service, method
	operationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "docservice_operation_duration_seconds",
			Help:    "Service operation duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"service", "method"},
	)

	// changeFeedEventsTotal counts events emitted from the change feed.
	// Labels: service, event
	changeFeedEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docservice_changefeed_events_total",
			Help: "Total number of events emitted from the change feed",
		},
		[]string{"service", "event"},
	)

	// changeFeedErrorsTotal counts dropped change feed deltas.
	// Labels: service
	changeFeedErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docservice_changefeed_errors_total",
			Help: "Total number of change feed deltas dropped on error",
		},
		[]string{"service"},
	)

	// eventsPublishedTotal counts events forwarded to the event bus.
	// Labels: topic, outcome
	eventsPublishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docservice_events_published_total",
			Help: "Total number of service events forwarded to the event bus",
		},
		[]string{"topic", "outcome"},
	)
)

// RecordOperation records one CRUD call.
func RecordOperation(service, method, outcome string, duration time.Duration) {
	operationsTotal.WithLabelValues(service, method, outcome).Inc()
	operationDuration.WithLabelValues(service, method).Observe(duration.Seconds())
}

// RecordChangeEvent counts one event emitted from the change feed.
func RecordChangeEvent(service, event string) {
	changeFeedEventsTotal.WithLabelValues(service, event).Inc()
}

// RecordChangeFeedError counts one dropped delta.
func RecordChangeFeedError(service string) {
	changeFeedErrorsTotal.WithLabelValues(service).Inc()
}

// RecordPublish counts one forwarded event.
func RecordPublish(topic string, err error) {
	outcome := OutcomeOK
	if err != nil {
		outcome = OutcomeError
	}
	eventsPublishedTotal.WithLabelValues(topic, outcome).Inc()
}
