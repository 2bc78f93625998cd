// SPDX-License-Identifier: MIT

// Package metrics provides Prometheus metrics for the controller core.
// Labels stay low-cardinality: zone indices and fixed source tags only.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ZoneOnTotal counts physical zone activations, by zone index.
	ZoneOnTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sprinkler_zone_on_total",
		Help: "Total number of zone activations, by zone index.",
	}, []string{"zone"})

	// RunSecondsTotal accumulates scheduled watering seconds, by zone index.
	RunSecondsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sprinkler_run_seconds_total",
		Help: "Total scheduled watering seconds, by zone index.",
	}, []string{"zone"})

	// ProgramStartTotal counts program launches, by origin (user, calendar, manual).
	ProgramStartTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sprinkler_program_start_total",
		Help: "Total number of program launches, by origin.",
	}, []string{"origin"})

	// ProgramSkipTotal counts suppressed launches, by reason.
	ProgramSkipTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sprinkler_program_skip_total",
		Help: "Total number of suppressed program launches, by reason (raindelay, season, manual_zone).",
	}, []string{"reason"})

	// RefreshFailureTotal counts failed external fetches, by source.
	RefreshFailureTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sprinkler_refresh_failure_total",
		Help: "Total number of failed external refreshes, by source (weather, wateringindex, calendar).",
	}, []string{"source"})

	// EventsRecordedTotal counts event sink appends, by action.
	EventsRecordedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sprinkler_events_recorded_total",
		Help: "Total number of events appended to the sink, by action.",
	}, []string{"action"})

	// QueueDepth tracks the current run queue length.
	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "sprinkler_queue_depth",
		Help: "Current number of queued run items.",
	})

	// RainDelayActive is 1 while the scheduler is holding for rain.
	RainDelayActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "sprinkler_rain_delay_active",
		Help: "Whether a rain delay currently suppresses new launches.",
	})
)
