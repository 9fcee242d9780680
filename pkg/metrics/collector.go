// Package metrics exposes Prometheus collectors for the registration engine.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	tasksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "registration_tasks_total",
			Help: "Total number of registration tasks labeled by mode and status",
		},
		[]string{"mode", "status"},
	)
	taskDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "registration_task_duration_seconds",
			Help:    "Duration of registration tasks in seconds",
			Buckets: []float64{15, 30, 60, 120, 180, 300, 600},
		},
		[]string{"mode"},
	)
	stateTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "signup_state_transitions_total",
			Help: "Total number of signup flow state transitions",
		},
		[]string{"from", "to"},
	)
	verificationCodesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "verification_codes_total",
			Help: "Verification code fetch attempts labeled by channel and status",
		},
		[]string{"channel", "status"},
	)
	phoneBlacklistsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "phone_blacklists_total",
			Help: "Phone numbers blacklisted labeled by reason",
		},
		[]string{"reason"},
	)
	cardsFinalizedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cards_finalized_total",
			Help: "Cards finalized after task completion labeled by outcome",
		},
		[]string{"outcome"},
	)
	challengesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "challenges_total",
			Help: "Humanness challenges labeled by kind and outcome",
		},
		[]string{"kind", "outcome"},
	)
	activeWorkers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "active_workers",
			Help: "Current number of running registration workers",
		},
	)
)

// RecordTask increments the task counter and records duration.
func RecordTask(mode, status string, duration time.Duration) {
	if mode == "" {
		mode = "unknown"
	}
	if status == "" {
		status = "unknown"
	}

	tasksTotal.WithLabelValues(mode, status).Inc()
	taskDurationSeconds.WithLabelValues(mode).Observe(duration.Seconds())
}

// RecordStateTransition counts a flow transition between two signup states.
func RecordStateTransition(from, to string) {
	stateTransitionsTotal.WithLabelValues(from, to).Inc()
}

// RecordCode counts a verification code fetch attempt for a channel ("email" or "sms").
func RecordCode(channel, status string) {
	verificationCodesTotal.WithLabelValues(channel, status).Inc()
}

// RecordPhoneBlacklist counts a blacklist event by reason.
func RecordPhoneBlacklist(reason string) {
	phoneBlacklistsTotal.WithLabelValues(reason).Inc()
}

// RecordCardFinalized counts a card finalization ("used" or "problematic").
func RecordCardFinalized(outcome string) {
	cardsFinalizedTotal.WithLabelValues(outcome).Inc()
}

// RecordChallenge counts a challenge detection/resolution outcome.
func RecordChallenge(kind, outcome string) {
	challengesTotal.WithLabelValues(kind, outcome).Inc()
}

// WorkerStarted increments the active worker gauge.
func WorkerStarted() {
	activeWorkers.Inc()
}

// WorkerStopped decrements the active worker gauge.
func WorkerStopped() {
	activeWorkers.Dec()
}
