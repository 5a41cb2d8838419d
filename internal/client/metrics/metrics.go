// Package metrics provides Prometheus metrics for the session core.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the collectors. A nil *Metrics, or one built with a nil
// registerer, records nothing.
type Metrics struct {
	enabled bool

	gatewayRequestsTotal   *prometheus.CounterVec
	gatewayRequestDuration *prometheus.HistogramVec
	credentialClearsTotal  *prometheus.CounterVec
	sessionTransitionTotal *prometheus.CounterVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{enabled: reg != nil}
	if !m.enabled {
		return m
	}

	f := promauto.With(reg)

	m.gatewayRequestsTotal = f.NewCounterVec(prometheus.CounterOpts{
		Name: "campuskeeper_gateway_requests_total",
		Help: "Backend calls issued through the gateway, by method and outcome",
	}, []string{"method", "outcome"})

	m.gatewayRequestDuration = f.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "campuskeeper_gateway_request_duration_seconds",
		Help:    "Backend call latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"outcome"})

	m.credentialClearsTotal = f.NewCounterVec(prometheus.CounterOpts{
		Name: "campuskeeper_credential_clears_total",
		Help: "Credential removals, by reason",
	}, []string{"reason"})

	m.sessionTransitionTotal = f.NewCounterVec(prometheus.CounterOpts{
		Name: "campuskeeper_session_transitions_total",
		Help: "Session phase transitions",
	}, []string{"from", "to"})

	return m
}

// ObserveRequest records one gateway call.
func (m *Metrics) ObserveRequest(method, outcome string, d time.Duration) {
	if m == nil || !m.enabled {
		return
	}
	m.gatewayRequestsTotal.WithLabelValues(method, outcome).Inc()
	m.gatewayRequestDuration.WithLabelValues(outcome).Observe(d.Seconds())
}

// CredentialCleared records a credential removal ("unauthorized", "logout").
func (m *Metrics) CredentialCleared(reason string) {
	if m == nil || !m.enabled {
		return
	}
	m.credentialClearsTotal.WithLabelValues(reason).Inc()
}

// SessionTransition records a phase change.
func (m *Metrics) SessionTransition(from, to string) {
	if m == nil || !m.enabled {
		return
	}
	m.sessionTransitionTotal.WithLabelValues(from, to).Inc()
}
