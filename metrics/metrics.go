// Package metrics provides Prometheus metrics for session operations.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	opsdeck "github.com/opsdeck/opsdeck-go"
)

// Metrics implements opsdeck.Recorder on Prometheus collectors.
type Metrics struct {
	enabled bool

	authAttemptsTotal      *prometheus.CounterVec
	challengeAttemptsTotal *prometheus.CounterVec
	refreshTotal           *prometheus.CounterVec
	refreshQueueDepth      prometheus.Histogram
	retriesTotal           *prometheus.CounterVec
	gateDecisionsTotal     *prometheus.CounterVec
	teardownsTotal         *prometheus.CounterVec
}

// compile-time check
var _ opsdeck.Recorder = (*Metrics)(nil)

// New creates and registers Prometheus metrics.
// If enabled is false, returns a no-op Metrics instance.
func New(enabled bool) *Metrics {
	m := &Metrics{enabled: enabled}

	if !enabled {
		return m
	}

	m.authAttemptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "opsdeck_auth_attempts_total",
		Help: "Login attempts by outcome",
	}, []string{"outcome"})

	m.challengeAttemptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "opsdeck_challenge_attempts_total",
		Help: "Second-factor attempts by outcome",
	}, []string{"outcome"})

	m.refreshTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "opsdeck_token_refresh_total",
		Help: "Token refresh flights by outcome",
	}, []string{"outcome"})

	m.refreshQueueDepth = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "opsdeck_token_refresh_queue_depth",
		Help:    "Number of callers collapsed onto one refresh flight",
		Buckets: prometheus.LinearBuckets(1, 1, 10),
	})

	m.retriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "opsdeck_request_retries_total",
		Help: "Requests replayed after a token refresh, by outcome",
	}, []string{"outcome"})

	m.gateDecisionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "opsdeck_gate_decisions_total",
		Help: "Navigation gate rulings by route and action",
	}, []string{"route", "action"})

	m.teardownsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "opsdeck_session_teardowns_total",
		Help: "Session teardowns by cause",
	}, []string{"cause"})

	return m
}

// AuthAttempt records a login outcome.
func (m *Metrics) AuthAttempt(outcome string) {
	if !m.enabled {
		return
	}
	m.authAttemptsTotal.WithLabelValues(outcome).Inc()
}

// ChallengeAttempt records a second-factor outcome.
func (m *Metrics) ChallengeAttempt(outcome string) {
	if !m.enabled {
		return
	}
	m.challengeAttemptsTotal.WithLabelValues(outcome).Inc()
}

// RefreshAttempt records a refresh flight outcome and its queue depth.
func (m *Metrics) RefreshAttempt(outcome string, queued int) {
	if !m.enabled {
		return
	}
	m.refreshTotal.WithLabelValues(outcome).Inc()
	m.refreshQueueDepth.Observe(float64(queued))
}

// RetryAfterRefresh records the status of a replayed request.
func (m *Metrics) RetryAfterRefresh(outcome string) {
	if !m.enabled {
		return
	}
	m.retriesTotal.WithLabelValues(outcome).Inc()
}

// GateDecision records a navigation ruling.
func (m *Metrics) GateDecision(route, action string) {
	if !m.enabled {
		return
	}
	m.gateDecisionsTotal.WithLabelValues(route, action).Inc()
}

// SessionTeardown records the end of a session.
func (m *Metrics) SessionTeardown(cause string) {
	if !m.enabled {
		return
	}
	m.teardownsTotal.WithLabelValues(cause).Inc()
}
