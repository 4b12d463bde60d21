// Copyright 2025 Certen Protocol

package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNewRegistersAllMetricsWithoutCollision(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.VotesCast.Inc()
	if got := testutil.ToFloat64(m.VotesCast); got != 1 {
		t.Fatalf("VotesCast = %v, want 1", got)
	}

	m.NoVotes.WithLabelValues("stale_height").Inc()
	if got := testutil.ToFloat64(m.NoVotes.WithLabelValues("stale_height")); got != 1 {
		t.Fatalf("NoVotes{stale_height} = %v, want 1", got)
	}

	m.PoolReadySetSize.Set(3)
	if got := testutil.ToFloat64(m.PoolReadySetSize); got != 3 {
		t.Fatalf("PoolReadySetSize = %v, want 3", got)
	}
}

func TestNewPanicsOnDuplicateRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	New(reg)

	defer func() {
		if recover() == nil {
			t.Fatalf("expected a panic registering metrics twice against the same registry")
		}
	}()
	New(reg)
}
