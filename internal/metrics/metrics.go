// Package metrics holds the Prometheus collectors for the places service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// LinkerOperations counts linker calls by operation and outcome
	// ("ok", "client_error", "server_error").
	LinkerOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "places_linker_operations_total",
			Help: "Total number of linker operations by outcome",
		},
		[]string{"operation", "outcome"},
	)

	LinkerDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "places_linker_operation_duration_seconds",
			Help:    "Duration of linker operations in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	// AccountOperations counts account calls by operation and outcome, with
	// the same outcome labels as LinkerOperations.
	AccountOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "places_account_operations_total",
			Help: "Total number of account operations by outcome",
		},
		[]string{"operation", "outcome"},
	)

	AccountDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "places_account_operation_duration_seconds",
			Help:    "Duration of account operations in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	// StoreBreakerState is 0 closed, 1 half-open, 2 open.
	StoreBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "places_store_circuit_breaker_state",
			Help: "Circuit breaker state for the document store (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	StoreBreakerRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "places_store_circuit_breaker_rejections_total",
			Help: "Calls rejected because the circuit breaker was open",
		},
		[]string{"name"},
	)

	// CascadeChildren counts children soft-deleted by the stream handler.
	CascadeChildren = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "places_cascade_children_total",
			Help: "Children marked for deletion by cascade, by child type and result",
		},
		[]string{"child_type", "result"},
	)
)
