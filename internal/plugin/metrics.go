// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package plugin

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Status constants for execution and reload metrics.
const (
	StatusSuccess   = "success"
	StatusError     = "error"
	StatusNotFound  = "not_found"
	StatusCancelled = "cancelled"
)

// Route constants describe how an event reached its handler.
const (
	RouteSpecific  = "specific"
	RouteWildcard  = "wildcard"
	RouteUnhandled = "unhandled"
)

// OperationExecutions is the counter for operation executions.
// Use RegisterMetrics to register this with a Prometheus registry.
var OperationExecutions = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "agenthost_operation_executions_total",
		Help: "Total number of agent operation executions",
	},
	[]string{"operation", "status"},
)

// OperationDuration is the histogram for operation execution duration.
// Use RegisterMetrics to register this with a Prometheus registry.
var OperationDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "agenthost_operation_duration_seconds",
		Help:    "Agent operation execution duration in seconds",
		Buckets: prometheus.DefBuckets,
	},
	[]string{"operation"},
)

// EventDispatches is the counter for event deliveries by route.
var EventDispatches = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "agenthost_event_dispatches_total",
		Help: "Total number of events dispatched to agents",
	},
	[]string{"event_type", "route"},
)

// PluginLoads is the counter for load attempts by outcome.
var PluginLoads = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "agenthost_plugin_loads_total",
		Help: "Total number of agent load attempts",
	},
	[]string{"outcome"},
)

// PluginReloads is the counter for hot-reload attempts.
var PluginReloads = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "agenthost_plugin_reloads_total",
		Help: "Total number of agent hot reloads",
	},
	[]string{"status"},
)

// RegisterMetrics registers plugin engine metrics with the given Prometheus registry.
// Panics if registration fails (following prometheus convention).
func RegisterMetrics(reg prometheus.Registerer) {
	reg.MustRegister(OperationExecutions)
	reg.MustRegister(OperationDuration)
	reg.MustRegister(EventDispatches)
	reg.MustRegister(PluginLoads)
	reg.MustRegister(PluginReloads)
}

// RecordOperation records one operation execution and its duration.
func RecordOperation(operation, status string, duration time.Duration) {
	OperationExecutions.WithLabelValues(operation, status).Inc()
	OperationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordDispatch records one event delivery.
func RecordDispatch(eventType, route string) {
	EventDispatches.WithLabelValues(eventType, route).Inc()
}

// RecordLoad records one load attempt.
func RecordLoad(outcome LoadOutcome) {
	PluginLoads.WithLabelValues(outcome.String()).Inc()
}

// RecordReload records one reload attempt.
func RecordReload(status string) {
	PluginReloads.WithLabelValues(status).Inc()
}

// statusFor classifies err for metric labels.
func statusFor(err error) string {
	switch {
	case err == nil:
		return StatusSuccess
	case HasCode(err, CodeOperationNotFound):
		return StatusNotFound
	case HasCode(err, CodeCancelled):
		return StatusCancelled
	default:
		return StatusError
	}
}
