package router

import "github.com/sneha4175/meshtraffic/internal/matcher"

// Instance is one candidate destination endpoint the router filters and
// orders.
type Instance struct {
	Namespace string
	Service   string
	Host      string
	Port      int
	Metadata  map[string]string
}

// Instances is a candidate instance set for a single service call.
type Instances []Instance

// Source is a route's caller-side match clause. Namespace/Service of "*"
// are wildcards.
type Source struct {
	Namespace string
	Service   string
	Metadata  map[string]matcher.MatchString
}

// Destination is a route's callee-side match clause plus its
// priority/weight/isolation policy.
type Destination struct {
	Namespace string
	Service   string
	Subset    string // empty = unnamed, bypasses the circuit breaker check
	Metadata  map[string]matcher.MatchString
	Priority  int
	Weight    int
	Isolate   bool
}

// Route pairs a set of source clauses with a set of destination clauses;
// any one source clause matching makes the route eligible.
type Route struct {
	Sources      []Source
	Destinations []Destination
}

// FailoverPolicy selects what Route returns when no rule set produces
// instances.
type FailoverPolicy int

const (
	// FailoverNone returns an empty instance list.
	FailoverNone FailoverPolicy = iota
	// FailoverAll returns the original, unfiltered instance list.
	FailoverAll
)

// ResultState mirrors the pipeline state machine the router participates
// in; Terminate is reserved for future use and never returned today.
type ResultState int

const (
	Next ResultState = iota
	Terminate
)

// RouteInfo describes one routing decision request.
type RouteInfo struct {
	SourceNamespace string
	SourceService   string
	DestNamespace   string
	DestService     string

	// TrafficLabels are the actual labels carried by the request, matched
	// against each route's source clauses.
	TrafficLabels map[string]string

	Inbound  []Route
	Outbound []Route

	// FailoverOverride, if non-nil, takes precedence over the router's
	// configured default failover policy for this call only.
	FailoverOverride *FailoverPolicy

	// RouterEnabled, if non-nil and false, disables routing for this call
	// regardless of rule set contents.
	RouterEnabled *bool

	// Env propagates env-key values discovered while matching source
	// clauses, for downstream env-aware routing.
	Env map[string]string

	// SelectedSubset/SelectedMetadata are filled in by Route with the
	// subset it selects, whether it is the sole subset of the chosen
	// priority group or picked by a weighted draw.
	SelectedSubset   string
	SelectedMetadata map[string]string
}

// RouteResult is what Route returns.
type RouteResult struct {
	Instances Instances
	State     ResultState
}

// WeightedSubset is one member of a PrioritySubsets bucket.
type WeightedSubset struct {
	Name      string
	Metadata  map[string]string
	Weight    int
	Instances Instances
}

// PrioritySubsets is the weighted-subset bucket for a single priority
// level. Invariant: TotalWeight == sum of member weights, every member has
// Weight > 0.
type PrioritySubsets struct {
	TotalWeight int
	Subsets     []WeightedSubset
}
