// SPDX-License-Identifier: MIT

// Package metrics defines the Prometheus instrumentation shared by the
// monitor components.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HeartbeatsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bwb_heartbeats_total",
		Help: "Total number of heartbeat POSTs by outcome",
	}, []string{"outcome"})

	TransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bwb_decider_transitions_total",
		Help: "Total number of fallback transitions by direction",
	}, []string{"direction"})

	ServiceControlFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bwb_service_control_failures_total",
		Help: "Total number of failed service-manager invocations by result",
	}, []string{"op", "result"})

	RecoveryHintsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bwb_recovery_hints_total",
		Help: "Total number of broadcast recovery probe runs by outcome",
	}, []string{"outcome"})

	FallbackActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "bwb_fallback_active",
		Help: "Whether the slate fallback unit is believed active (1) or not (0)",
	})

	StoredRecords = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "bwb_heartbeat_records",
		Help: "Number of heartbeat records currently retained",
	})

	PersistFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bwb_state_persist_failures_total",
		Help: "Total number of failed state snapshot writes",
	})
)

// IncHeartbeat records an ingested or rejected heartbeat.
func IncHeartbeat(outcome string) {
	if outcome == "" {
		outcome = "unknown"
	}
	HeartbeatsTotal.WithLabelValues(outcome).Inc()
}

// SetFallbackActive mirrors the decider's view of the fallback unit.
func SetFallbackActive(active bool) {
	if active {
		FallbackActive.Set(1)
	} else {
		FallbackActive.Set(0)
	}
}
