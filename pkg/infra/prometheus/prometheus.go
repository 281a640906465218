package prometheus

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var registry = prometheus.NewRegistry()

var registerer = prometheus.WrapRegistererWith(nil, registry)

var (
	SignalsTotal = promauto.With(registerer).NewCounterVec(
		prometheus.CounterOpts{
			Name: "proctorgate_signals_total",
			Help: "Total number of security signals processed",
		},
		[]string{"kind"},
	)

	EnforcementActionsTotal = promauto.With(registerer).NewCounterVec(
		prometheus.CounterOpts{
			Name: "proctorgate_enforcement_actions_total",
			Help: "Total number of enforcement actions executed",
		},
		[]string{"action"},
	)

	TelemetryDeliveriesTotal = promauto.With(registerer).NewCounterVec(
		prometheus.CounterOpts{
			Name: "proctorgate_telemetry_deliveries_total",
			Help: "Telemetry delivery attempts by tier and outcome",
		},
		[]string{"tier", "outcome"},
	)

	BufferedEventsDropped = promauto.With(registerer).NewCounter(
		prometheus.CounterOpts{
			Name: "proctorgate_buffered_events_dropped_total",
			Help: "Events dropped because the fallback ring buffer overflowed",
		},
	)

	ActiveSessions = promauto.With(registerer).NewGauge(
		prometheus.GaugeOpts{
			Name: "proctorgate_active_sessions",
			Help: "Number of sessions currently monitored",
		},
	)
)

// Registry exposes the private registry so hosts can mount it on their own
// metrics endpoint.
func Registry() *prometheus.Registry {
	return registry
}
