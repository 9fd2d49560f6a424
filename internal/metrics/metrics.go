package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	ValidationAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ecodeli_validation_attempts_total",
			Help: "Delivery validation attempts by outcome",
		},
		[]string{"outcome"},
	)

	StatusTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ecodeli_status_transitions_total",
			Help: "Delivery status transitions by target status",
		},
		[]string{"status"},
	)

	EventsPublishedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ecodeli_events_published_total",
			Help: "Delivery events published to the broker by result",
		},
		[]string{"result"},
	)

	EventsHandledTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ecodeli_events_handled_total",
			Help: "Delivery events consumed by the worker by result",
		},
		[]string{"result"},
	)
)

// Register registers all Prometheus metrics with the default registry.
func Register() {
	prometheus.MustRegister(ValidationAttemptsTotal)
	prometheus.MustRegister(StatusTransitionsTotal)
	prometheus.MustRegister(EventsPublishedTotal)
	prometheus.MustRegister(EventsHandledTotal)
}
