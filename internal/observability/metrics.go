package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Gate outcomes.
const (
	OutcomeAnonymous     = "anonymous"
	OutcomeInvalidToken  = "invalid_token"
	OutcomeAuthenticated = "authenticated"
	OutcomeRejected      = "rejected"
	OutcomeUnknown       = "unknown_principal"
	OutcomePassThrough   = "already_authenticated"
)

// Login results.
const (
	LoginSucceeded = "succeeded"
	LoginFailed    = "failed"
	LoginInvalid   = "invalid_request"
	LoginThrottled = "throttled"
)

// AuthMetrics holds the authentication counters. A nil *AuthMetrics is a
// valid no-op recorder.
type AuthMetrics struct {
	registry      *prometheus.Registry
	gateOutcomes  *prometheus.CounterVec
	tokensIssued  prometheus.Counter
	loginAttempts *prometheus.CounterVec
	auditDropped  prometheus.Counter
}

// NewAuthMetrics registers the counters, plus the Go runtime and process
// collectors, on a fresh registry.
func NewAuthMetrics() *AuthMetrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &AuthMetrics{
		registry: reg,
		gateOutcomes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "auth_gate_outcomes_total",
				Help: "Requests seen by the authentication gate, by outcome",
			},
			[]string{"outcome"},
		),
		tokensIssued: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "auth_tokens_issued_total",
				Help: "Access tokens issued",
			},
		),
		loginAttempts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "auth_login_attempts_total",
				Help: "Login attempts, by result",
			},
			[]string{"result"},
		),
		auditDropped: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "auth_audit_events_dropped_total",
				Help: "Auth events dropped because the audit buffer was full",
			},
		),
	}
}

// GateOutcome counts one gate decision.
func (m *AuthMetrics) GateOutcome(outcome string) {
	if m == nil {
		return
	}
	m.gateOutcomes.WithLabelValues(outcome).Inc()
}

// TokenIssued counts one issued token.
func (m *AuthMetrics) TokenIssued() {
	if m == nil {
		return
	}
	m.tokensIssued.Inc()
}

// LoginAttempt counts one login attempt.
func (m *AuthMetrics) LoginAttempt(result string) {
	if m == nil {
		return
	}
	m.loginAttempts.WithLabelValues(result).Inc()
}

// AuditDropped counts one auth event lost to back pressure.
func (m *AuthMetrics) AuditDropped() {
	if m == nil {
		return
	}
	m.auditDropped.Inc()
}

// Registry exposes the underlying registry, mainly for tests.
func (m *AuthMetrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *AuthMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
