package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// sagaEventsHandled counts engine runs by event type and outcome
	// (advanced, completed, duplicate, rejected, error).
	sagaEventsHandled = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "saga_events_handled_total",
			Help: "Total number of events handled by the saga engine",
		},
		[]string{"event_type", "outcome"},
	)

	// sagaStatusChanges counts instance status transitions by target status.
	sagaStatusChanges = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "saga_status_changes_total",
			Help: "Total number of saga instance status transitions",
		},
		[]string{"status"},
	)

	// sagaCompensations counts compensating commands issued.
	sagaCompensations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "saga_compensations_total",
			Help: "Total number of compensating commands issued",
		},
		[]string{"command"},
	)

	// sagaTimeoutsFired counts timeouts delivered to the coordinator.
	sagaTimeoutsFired = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "saga_timeouts_fired_total",
			Help: "Total number of saga timeouts fired",
		},
	)

	// sagaTimeoutsReindexed counts overdue durable timeouts the poller had to
	// put back into the expiry index.
	sagaTimeoutsReindexed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "saga_timeouts_reindexed_total",
			Help: "Total number of overdue saga timeouts re-indexed from Postgres",
		},
	)

	// outboxMessages counts outbox messages by final state (published, dead).
	outboxMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "saga_outbox_messages_total",
			Help: "Total number of outbox messages drained by the relay",
		},
		[]string{"state"},
	)

	// outboxDrainDuration observes one relay drain pass.
	outboxDrainDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "saga_outbox_drain_duration_seconds",
			Help:    "Duration of one outbox drain pass in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)
)
