package events

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	transitionsDetected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bf1942_alert_transitions_total",
		Help: "Transitions detected, by kind",
	}, []string{"kind"})

	matchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bf1942_alert_matches_total",
		Help: "Subscription matches, by kind",
	}, []string{"kind"})

	suppressedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bf1942_alert_suppressed_total",
		Help: "Matches not queued, by reason",
	}, []string{"reason"})

	deliveriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bf1942_alert_deliveries_total",
		Help: "Delivery attempts, by outcome",
	}, []string{"status"})

	failuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bf1942_alert_failures_total",
		Help: "Engine failures, by event type",
	}, []string{"type"})

	cycleDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "bf1942_alert_cycle_duration_seconds",
		Help:    "Duration of completed polling cycles",
		Buckets: prometheus.DefBuckets,
	})

	outboxQueued = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bf1942_alert_outbox_queued_total",
		Help: "Deliveries written to the outbox",
	})
)

// MetricsEmitter updates Prometheus counters from the event stream.
type MetricsEmitter struct{}

func (MetricsEmitter) Emit(_ context.Context, e Event) {
	switch e.Type {
	case TransitionDetected:
		transitionsDetected.WithLabelValues(e.Kind).Inc()
	case Matched:
		matchesTotal.WithLabelValues(e.Kind).Inc()
	case Suppressed:
		suppressedTotal.WithLabelValues("dnd").Inc()
	case AlreadySent:
		suppressedTotal.WithLabelValues("already_sent").Inc()
	case Queued:
		outboxQueued.Add(float64(max(e.Count, 1)))
	case DeliveryOutcome:
		deliveriesTotal.WithLabelValues(e.Status).Inc()
	case DeliveryExpired, DetectionFailed, PersistenceFailed, CycleFailed:
		failuresTotal.WithLabelValues(string(e.Type)).Inc()
	case CycleCompleted:
		cycleDuration.Observe(e.Duration.Seconds())
	}
}
