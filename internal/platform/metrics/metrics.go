// Package metrics exposes Prometheus instrumentation for the token and key
// rotation services.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics bundles the collectors used across the services. A single instance
// is created at startup and shared.
type Metrics struct {
	SweepsTotal      prometheus.Counter
	SweepDuration    prometheus.Histogram
	RotationsTotal   *prometheus.CounterVec
	RotationFailures *prometheus.CounterVec
	TokensIssued     *prometheus.CounterVec
	TokensRevoked    prometheus.Counter
	TokensCleanedUp  prometheus.Counter
	ValidationsTotal *prometheus.CounterVec
}

// New registers the collectors with the given registerer and returns them.
// Pass prometheus.DefaultRegisterer in production; tests use a fresh
// prometheus.NewRegistry to avoid duplicate registration.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		SweepsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "pms_rotation_sweeps_total",
			Help: "Number of key rotation sweep cycles executed.",
		}),
		SweepDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "pms_rotation_sweep_duration_seconds",
			Help:    "Duration of key rotation sweep cycles.",
			Buckets: prometheus.DefBuckets,
		}),
		RotationsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "pms_key_rotations_total",
			Help: "Number of successful key rotations by provider.",
		}, []string{"provider"}),
		RotationFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "pms_key_rotation_failures_total",
			Help: "Number of failed key rotations by provider.",
		}, []string{"provider"}),
		TokensIssued: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "pms_tokens_issued_total",
			Help: "Number of auth tokens issued by token type.",
		}, []string{"token_type"}),
		TokensRevoked: factory.NewCounter(prometheus.CounterOpts{
			Name: "pms_tokens_revoked_total",
			Help: "Number of auth tokens revoked.",
		}),
		TokensCleanedUp: factory.NewCounter(prometheus.CounterOpts{
			Name: "pms_tokens_cleaned_up_total",
			Help: "Number of expired tokens removed by cleanup.",
		}),
		ValidationsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "pms_token_validations_total",
			Help: "Number of token validations by result.",
		}, []string{"result"}),
	}
}

// NewNop returns metrics backed by a private registry, for tests and CLI
// commands that do not scrape.
func NewNop() *Metrics {
	return New(prometheus.NewRegistry())
}
