// Winnerd - Photo Competition Winner Selection Service
// Copyright 2026 Photoarena
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/photoarena/winnerd

// Package metrics provides Prometheus instrumentation for Winnerd:
// event consumption and dispatch outcomes, winner selections, publishes,
// and reconciliation sweeps. Collectors are registered via promauto and
// exposed on /metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Event dispatch metrics
	EventsConsumed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "winnerd_events_consumed_total",
			Help: "Total number of broker messages delivered to the dispatcher",
		},
		[]string{"routing_key"},
	)

	EventsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "winnerd_events_processed_total",
			Help: "Total number of messages acknowledged after successful handling",
		},
		[]string{"routing_key"},
	)

	EventsFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "winnerd_events_failed_total",
			Help: "Total number of handler failures",
		},
		[]string{"routing_key", "reason"}, // "transient", "permanent"
	)

	EventsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "winnerd_events_dropped_total",
			Help: "Total number of failed messages dropped (drop policy)",
		},
		[]string{"routing_key"},
	)

	EventsDeadLettered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "winnerd_events_deadlettered_total",
			Help: "Total number of failed messages routed to the dead-letter subject",
		},
		[]string{"routing_key"},
	)

	HandlerDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "winnerd_handler_duration_seconds",
			Help:    "Event handler execution time in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"routing_key"},
	)

	// Publisher metrics
	PublishesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "winnerd_publishes_total",
			Help: "Total number of events published to the broker",
		},
		[]string{"routing_key"},
	)

	PublishFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "winnerd_publish_failures_total",
			Help: "Total number of failed publish attempts",
		},
		[]string{"routing_key"},
	)

	// Decision engine metrics
	WinnersSelected = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "winnerd_winners_selected_total",
			Help: "Total number of winner decisions committed",
		},
	)

	SelectionNoops = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "winnerd_selection_noops_total",
			Help: "Total number of selection attempts that were benign no-ops",
		},
		[]string{"reason"}, // "no_results", "already_selected", "not_found"
	)

	SelectionDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "winnerd_selection_duration_seconds",
			Help:    "Winner selection execution time in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Reconciliation sweep metrics
	SweepDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "winnerd_sweep_duration_seconds",
			Help:    "Reconciliation sweep execution time in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60},
		},
	)

	SweepsSkipped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "winnerd_sweeps_skipped_total",
			Help: "Total number of sweep ticks skipped because a sweep was already running",
		},
	)

	SweepCandidates = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "winnerd_sweep_candidates",
			Help:    "Number of unresolved competitions examined per sweep",
			Buckets: []float64{0, 1, 5, 10, 50, 100, 500},
		},
	)

	// Broker connection metrics
	BrokerConnectAttempts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "winnerd_broker_connect_attempts_total",
			Help: "Total number of broker connection attempts",
		},
	)

	BrokerConnected = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "winnerd_broker_connected",
			Help: "Whether the broker connection is currently established (1) or not (0)",
		},
	)
)

// RecordEventConsumed increments the consumed counter for a routing key.
func RecordEventConsumed(routingKey string) {
	EventsConsumed.WithLabelValues(routingKey).Inc()
}

// RecordEventProcessed increments the processed counter and observes the
// handler duration.
func RecordEventProcessed(routingKey string, elapsed time.Duration) {
	EventsProcessed.WithLabelValues(routingKey).Inc()
	HandlerDuration.WithLabelValues(routingKey).Observe(elapsed.Seconds())
}

// RecordEventFailed increments the failure counter with a reason label.
func RecordEventFailed(routingKey, reason string) {
	EventsFailed.WithLabelValues(routingKey, reason).Inc()
}

// RecordEventDropped increments the drop counter for a routing key.
func RecordEventDropped(routingKey string) {
	EventsDropped.WithLabelValues(routingKey).Inc()
}

// RecordEventDeadLettered increments the dead-letter counter.
func RecordEventDeadLettered(routingKey string) {
	EventsDeadLettered.WithLabelValues(routingKey).Inc()
}

// RecordPublish increments the publish counter for a routing key.
func RecordPublish(routingKey string) {
	PublishesTotal.WithLabelValues(routingKey).Inc()
}

// RecordPublishFailure increments the publish failure counter.
func RecordPublishFailure(routingKey string) {
	PublishFailures.WithLabelValues(routingKey).Inc()
}

// RecordWinnerSelected increments the committed-decision counter and
// observes the selection duration.
func RecordWinnerSelected(elapsed time.Duration) {
	WinnersSelected.Inc()
	SelectionDuration.Observe(elapsed.Seconds())
}

// RecordSelectionNoop increments the no-op counter with a reason label.
func RecordSelectionNoop(reason string) {
	SelectionNoops.WithLabelValues(reason).Inc()
}

// RecordSweep observes a completed sweep.
func RecordSweep(candidates int, elapsed time.Duration) {
	SweepDuration.Observe(elapsed.Seconds())
	SweepCandidates.Observe(float64(candidates))
}

// RecordSweepSkipped increments the skipped-sweep counter.
func RecordSweepSkipped() {
	SweepsSkipped.Inc()
}

// SetBrokerConnected updates the broker connection gauge.
func SetBrokerConnected(connected bool) {
	if connected {
		BrokerConnected.Set(1)
	} else {
		BrokerConnected.Set(0)
	}
}
