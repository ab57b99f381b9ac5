package telemetry

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/sneha4175/meshtraffic/internal/breaker"
)

func TestBreakerObserverRecordsTransitionsAndTriggers(t *testing.T) {
	o := NewBreakerObserver()
	o.OnTransition("svc:ns/checkout", "r1", breaker.Closed, breaker.Open)
	o.OnTriggerFired("svc:ns/checkout", "r1", "trigger")

	if got := testutil.ToFloat64(breakerTransitions.WithLabelValues("svc:ns/checkout", "r1", "CLOSED", "OPEN")); got != 1 {
		t.Errorf("expected 1 transition recorded, got %v", got)
	}
	if got := testutil.ToFloat64(triggerFired.WithLabelValues("svc:ns/checkout", "r1", "trigger")); got != 1 {
		t.Errorf("expected 1 trigger fire recorded, got %v", got)
	}
	if got := testutil.ToFloat64(breakerState.WithLabelValues("svc:ns/checkout", "r1")); got != float64(breaker.Open) {
		t.Errorf("expected gauge to reflect the new state, got %v", got)
	}
}

func TestRouteObserverRecordsDecisionsAndDuration(t *testing.T) {
	o := NewRouteObserver()
	before := testutil.ToFloat64(routeDecisions.WithLabelValues("inbound"))
	o.OnDecision("inbound")
	if got := testutil.ToFloat64(routeDecisions.WithLabelValues("inbound")); got != before+1 {
		t.Errorf("expected decision counter to increment by 1, got %v -> %v", before, got)
	}

	o.ObserveDuration(5 * time.Millisecond)
	if count := testutil.CollectAndCount(routeDuration); count == 0 {
		t.Error("expected the duration histogram to have recorded at least one sample")
	}
}
