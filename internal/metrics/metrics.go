// Package metrics exposes the Prometheus counters and gauges the auth
// subsystem emits: login outcomes, active session count, and backup-code
// KDF latency, per SPEC_FULL's ambient observability stack.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// LoginOutcomes counts login attempts by outcome: "success" or "invalid".
var LoginOutcomes = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "authd",
		Name:      "login_attempts_total",
		Help:      "Total login attempts by outcome.",
	},
	[]string{"outcome"},
)

// ActiveSessions reports the current number of non-stale sessions.
// The reaper sets this from a count on every tick rather than incrementing
// per-request, since sessions expire by staleness rather than by an event
// this process always observes.
var ActiveSessions = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "authd",
		Name:      "active_sessions",
		Help:      "Current number of sessions not yet past the staleness grace period.",
	},
)

// BackupCodeKDFDuration records how long Argon2id hashing and verification
// take, split by operation, so KDF parameter tuning has real latency data
// behind it instead of a guess.
var BackupCodeKDFDuration = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "authd",
		Name:      "backup_code_kdf_seconds",
		Help:      "Argon2id hash/verify latency for backup codes, in seconds.",
		Buckets:   prometheus.DefBuckets,
	},
	[]string{"operation"},
)

// RecoveryOutcomes counts backup-code and magic-link recovery attempts by
// protocol and outcome.
var RecoveryOutcomes = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "authd",
		Name:      "recovery_attempts_total",
		Help:      "Total recovery attempts by protocol and outcome.",
	},
	[]string{"protocol", "outcome"},
)

// Handler returns the HTTP handler exposing metrics in the Prometheus
// exposition format, for mounting under /metrics (SPEC_FULL §6).
func Handler() http.Handler {
	return promhttp.Handler()
}
