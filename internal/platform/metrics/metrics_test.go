package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNew_RegistersAndCounts(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.SweepsTotal.Inc()
	m.RotationsTotal.WithLabelValues("local").Add(2)
	m.TokensIssued.WithLabelValues("ACCESS").Inc()

	if got := testutil.ToFloat64(m.SweepsTotal); got != 1 {
		t.Errorf("sweeps: expected 1, got %v", got)
	}
	if got := testutil.ToFloat64(m.RotationsTotal.WithLabelValues("local")); got != 2 {
		t.Errorf("rotations: expected 2, got %v", got)
	}
	if got := testutil.ToFloat64(m.TokensIssued.WithLabelValues("ACCESS")); got != 1 {
		t.Errorf("tokens issued: expected 1, got %v", got)
	}
}

func TestNewNop_IndependentRegistries(t *testing.T) {
	a := NewNop()
	b := NewNop()
	a.TokensRevoked.Inc()

	if got := testutil.ToFloat64(b.TokensRevoked); got != 0 {
		t.Errorf("expected independent registries, got %v", got)
	}
}
