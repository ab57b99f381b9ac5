package rulesource

import (
	"github.com/sneha4175/meshtraffic/internal/breakerrule"
	"github.com/sneha4175/meshtraffic/internal/resource"
	"github.com/sneha4175/meshtraffic/internal/router"
)

// Binding ties one decoded CircuitBreakerRule to the (service, level) it
// governs.
type Binding struct {
	Service resource.ServiceKey
	Level   resource.Level
	Rule    *breakerrule.CircuitBreakerRule
}

// RuleSet is the fully decoded, validated content of one rule directory:
// every circuit breaker binding plus the inbound/outbound route snapshots.
type RuleSet struct {
	Bindings []Binding
	Inbound  []router.Route
	Outbound []router.Route
}
