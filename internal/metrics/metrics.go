// Package metrics provides Prometheus metrics for the PoR oracle service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// === Round Counters ===

	// RoundsTotal counts rounds by terminal outcome (started, finalized, expired)
	RoundsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "por_rounds_total",
			Help: "Rounds by lifecycle event",
		},
		[]string{"event"}, // started, finalized, expired
	)

	// SubmissionsTotal counts accepted proof submissions
	SubmissionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "por_submissions_total",
			Help: "Accepted proof submissions",
		},
	)

	// === Verifier Counters ===

	// VerifierRegistrations counts successful verifier registrations
	VerifierRegistrations = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "por_verifier_registrations_total",
			Help: "Successful verifier registrations",
		},
	)

	// SlashEvents counts slashing events
	SlashEvents = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "por_slash_events_total",
			Help: "Verifier slashing events",
		},
	)

	// === Operational Gauges ===

	// OpenRounds tracks the number of rounds currently accepting submissions
	OpenRounds = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "por_open_rounds",
			Help: "Rounds currently accepting submissions",
		},
	)

	// ActiveVerifiers tracks the number of active verifiers
	ActiveVerifiers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "por_active_verifiers",
			Help: "Registered verifiers with active status",
		},
	)
)

// RecordRoundStarted increments the started counter and the open-round gauge.
func RecordRoundStarted() {
	RoundsTotal.WithLabelValues("started").Inc()
	OpenRounds.Inc()
}

// RecordRoundFinalized increments the finalized counter and releases the gauge.
func RecordRoundFinalized() {
	RoundsTotal.WithLabelValues("finalized").Inc()
	OpenRounds.Dec()
}

// RecordRoundExpired increments the expired counter and releases the gauge.
func RecordRoundExpired() {
	RoundsTotal.WithLabelValues("expired").Inc()
	OpenRounds.Dec()
}
