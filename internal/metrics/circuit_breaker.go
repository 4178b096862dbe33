// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// One-hot per backend. With several servers behind one backend the
	// gauge shows the last transition; the trip counter is the reliable
	// signal.
	breakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "epgcache_breaker_state",
		Help: "Content server circuit state by backend (1 for the current state)",
	}, []string{"backend", "state"})

	breakerTrips = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "epgcache_breaker_trips_total",
		Help: "Circuits opened by backend and reason",
	}, []string{"backend", "reason"}) // reason=threshold_exceeded|half_open_failure

	breakerRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "epgcache_breaker_rejections_total",
		Help: "Server calls skipped because the circuit was open",
	}, []string{"backend"})
)

var breakerStates = []string{"closed", "half-open", "open"}

// SetCircuitBreakerState marks state as the current state of backend.
func SetCircuitBreakerState(backend, state string) {
	for _, s := range breakerStates {
		v := 0.0
		if s == state {
			v = 1
		}
		breakerState.WithLabelValues(backend, s).Set(v)
	}
}

// RecordCircuitBreakerTrip counts a transition to open.
func RecordCircuitBreakerTrip(backend, reason string) {
	breakerTrips.WithLabelValues(backend, reason).Inc()
}

// RecordCircuitBreakerRejection counts a call refused while open.
func RecordCircuitBreakerRejection(backend string) {
	breakerRejections.WithLabelValues(backend).Inc()
}
