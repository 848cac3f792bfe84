package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Step outcomes used as the "outcome" label of StepsTotal.
const (
	OutcomeSubmitted = "submitted"
	OutcomeRejected  = "rejected"
	OutcomeDisabled  = "disabled"
	OutcomeDropped   = "dropped"
)

var (
	// Agent connection metrics
	HandshakeDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "steplink",
			Subsystem: "agent",
			Name:      "handshake_duration_seconds",
			Help:      "Time spent connecting to and validating the agent socket",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 14), // 5ms to ~40s
		},
		[]string{"result"},
	)

	ConnectionOpen = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "steplink",
			Subsystem: "agent",
			Name:      "connection_open",
			Help:      "Number of validated agent sockets currently open",
		},
	)

	// Reporting metrics
	StepsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "steplink",
			Subsystem: "report",
			Name:      "steps_total",
			Help:      "Step reports handled by the reporting gate",
		},
		[]string{"outcome"},
	)

	// Adapter metrics
	AdapterUnits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "steplink",
			Subsystem: "adapter",
			Name:      "units_total",
			Help:      "Completed test units by terminal state",
		},
		[]string{"state"},
	)
)
