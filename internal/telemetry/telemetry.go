// Package telemetry registers the Prometheus collectors for breaker
// transitions, trigger fires, and router decisions, and adapts them to the
// breaker.Observer / router.Observer collaborator interfaces.
package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/sneha4175/meshtraffic/internal/breaker"
)

var (
	breakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "meshtraffic",
		Name:      "breaker_state",
		Help:      "Current circuit breaker state per resource (0=closed, 1=open, 2=half_open).",
	}, []string{"resource", "rule"})

	breakerTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "meshtraffic",
		Name:      "breaker_transitions_total",
		Help:      "Total circuit breaker state transitions.",
	}, []string{"resource", "rule", "from", "to"})

	triggerFired = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "meshtraffic",
		Name:      "trigger_fired_total",
		Help:      "Total trigger-counter threshold crossings.",
	}, []string{"resource", "rule", "kind"})

	routeDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "meshtraffic",
		Name:      "route_decisions_total",
		Help:      "Total router decisions by outcome.",
	}, []string{"outcome"})

	routeDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "meshtraffic",
		Name:      "route_duration_seconds",
		Help:      "Histogram of Route() call latencies.",
		Buckets:   []float64{.0001, .0005, .001, .005, .01, .025, .05, .1, .25},
	})
)

// BreakerObserver adapts the Prometheus collectors above to
// breaker.Observer. A nil *BreakerObserver is valid (methods are no-ops),
// so telemetry stays optional wherever an Observer is plugged in.
type BreakerObserver struct{}

// NewBreakerObserver returns a ready-to-use breaker.Observer.
func NewBreakerObserver() *BreakerObserver { return &BreakerObserver{} }

func (o *BreakerObserver) OnTransition(resourceKey, ruleName string, from, to breaker.State) {
	if o == nil {
		return
	}
	breakerState.WithLabelValues(resourceKey, ruleName).Set(float64(to))
	breakerTransitions.WithLabelValues(resourceKey, ruleName, from.String(), to.String()).Inc()
}

func (o *BreakerObserver) OnTriggerFired(resourceKey, ruleName, triggerKind string) {
	if o == nil {
		return
	}
	triggerFired.WithLabelValues(resourceKey, ruleName, triggerKind).Inc()
}

// RouteObserver adapts the Prometheus collectors above to router.Observer.
type RouteObserver struct{}

func NewRouteObserver() *RouteObserver { return &RouteObserver{} }

func (o *RouteObserver) OnDecision(outcome string) {
	routeDecisions.WithLabelValues(outcome).Inc()
}

func (o *RouteObserver) ObserveDuration(d time.Duration) {
	routeDuration.Observe(d.Seconds())
}
