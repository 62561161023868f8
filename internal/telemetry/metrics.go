// Package telemetry holds the gateway's Prometheus instruments.
package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics tracks authentication outcomes and outbound identity calls.
//
// All metrics use the "bpmgate_" prefix. Methods handle a nil receiver, so a
// nil *Metrics is a no-op when metrics are disabled.
//
// Metrics tracked:
//   - Authentication outcomes by backend, operation and outcome
//   - JWKS reloads by result
//   - Outbound call duration by target (sso_token, sso_userinfo, jwks, engine, upstream)
type Metrics struct {
	// AuthOutcomes counts orchestrator operations.
	// Labels: backend, operation, outcome=[ok, authentication, token_expired, login, system, timeout]
	AuthOutcomes *prometheus.CounterVec

	// JWKSReloads counts key set reloads.
	// Labels: result=[ok, error, unknown_kid]
	JWKSReloads *prometheus.CounterVec

	// OutboundDuration tracks calls to providers, engines and upstreams.
	// Labels: target
	OutboundDuration *prometheus.HistogramVec
}

// NewMetrics creates the instruments and registers them with registerer.
// If registerer is nil, prometheus.DefaultRegisterer is used.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		AuthOutcomes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bpmgate_auth_outcomes_total",
				Help: "Identity operations by backend, operation and outcome",
			},
			[]string{"backend", "operation", "outcome"},
		),
		JWKSReloads: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bpmgate_jwks_reloads_total",
				Help: "Provider key set reloads by result",
			},
			[]string{"result"},
		),
		OutboundDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "bpmgate_outbound_duration_seconds",
				Help:    "Duration of outbound identity calls in seconds",
				Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
			[]string{"target"},
		),
	}

	registerer.MustRegister(m.AuthOutcomes, m.JWKSReloads, m.OutboundDuration)
	return m
}

// AuthOutcome implements identity.Observer.
func (m *Metrics) AuthOutcome(backend, operation, outcome string) {
	if m == nil {
		return
	}
	m.AuthOutcomes.WithLabelValues(backend, operation, outcome).Inc()
}

// JWKSReload records one key set reload.
func (m *Metrics) JWKSReload(result string) {
	if m == nil {
		return
	}
	m.JWKSReloads.WithLabelValues(result).Inc()
}

// ObserveOutbound records the duration of one outbound call.
func (m *Metrics) ObserveOutbound(target string, d time.Duration) {
	if m == nil {
		return
	}
	m.OutboundDuration.WithLabelValues(target).Observe(d.Seconds())
}
