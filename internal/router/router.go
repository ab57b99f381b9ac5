// Package router implements the rule-based service router: it filters a
// candidate instance set through inbound/outbound routing rules, honors
// priority/weight destination groups, and excludes destinations whose
// subset is currently tripped by the circuit breaker.
package router

import (
	"math/rand/v2"
	"time"

	"go.uber.org/zap"

	"github.com/sneha4175/meshtraffic/internal/breaker"
	"github.com/sneha4175/meshtraffic/internal/matcher"
	"github.com/sneha4175/meshtraffic/internal/resource"
)

// BreakerChecker is the narrow breaker-side contract the router consumes —
// satisfied by *registry.Registry. Defined here (rather than imported from
// package registry) so tests can inject a stub.
type BreakerChecker interface {
	Check(res resource.Resource) breaker.CheckResult
}

// Observer receives best-effort routing decision telemetry. Never blocks;
// a nil Observer is valid.
type Observer interface {
	OnDecision(outcome string)
	ObserveDuration(d time.Duration)
}

type noopObserver struct{}

func (noopObserver) OnDecision(string)          {}
func (noopObserver) ObserveDuration(time.Duration) {}

// Config configures a RuleRouter.
type Config struct {
	Checker         BreakerChecker
	Globals         map[string]string
	EnvKey          string
	DefaultFailover FailoverPolicy
	Log             *zap.SugaredLogger
	Observer        Observer
}

// RuleRouter evaluates inbound then outbound rule sets and selects
// instances.
type RuleRouter struct {
	checker         BreakerChecker
	matcher         *matcher.Matcher
	globals         map[string]string
	envKey          string
	defaultFailover FailoverPolicy
	log             *zap.SugaredLogger
	observer        Observer
}

// New builds a RuleRouter from cfg.
func New(cfg Config) *RuleRouter {
	obs := cfg.Observer
	if obs == nil {
		obs = noopObserver{}
	}
	return &RuleRouter{
		checker:         cfg.Checker,
		matcher:         matcher.New(cfg.Log),
		globals:         cfg.Globals,
		envKey:          cfg.EnvKey,
		defaultFailover: cfg.DefaultFailover,
		log:             cfg.Log,
		observer:        obs,
	}
}

// Route filters instances per info's inbound/outbound rules, falling back
// to the effective failover policy when no rule matches. It always returns
// state Next.
func (rt *RuleRouter) Route(info *RouteInfo, instances Instances) RouteResult {
	start := time.Now()
	defer func() { rt.observer.ObserveDuration(time.Since(start)) }()

	if rt.disabled(info) {
		rt.observer.OnDecision("disabled")
		return RouteResult{Instances: instances, State: Next}
	}

	if info.Env == nil {
		info.Env = make(map[string]string)
	}

	if len(info.Inbound) > 0 {
		result, _ := rt.evaluateRules(info.Inbound, true, info, instances)
		if len(result) > 0 {
			rt.observer.OnDecision("inbound")
			return RouteResult{Instances: result, State: Next}
		}
		rt.logw("inbound rules produced no instances, falling back to failover", info)
		return rt.failover(info, instances, "destRuleFail")
	}

	// disabled already returned early when both Inbound and Outbound are
	// empty, and the Inbound branch above always returns when Inbound is
	// non-empty, so Outbound is guaranteed non-empty here.
	result, _ := rt.evaluateRules(info.Outbound, false, info, instances)
	if len(result) > 0 {
		rt.observer.OnDecision("outbound")
		return RouteResult{Instances: result, State: Next}
	}
	rt.logw("outbound rules produced no instances, falling back to failover", info)
	return rt.failover(info, instances, "sourceRuleFail")
}

func (rt *RuleRouter) logw(msg string, info *RouteInfo) {
	if rt.log == nil {
		return
	}
	rt.log.Debugw(msg, "source_service", info.SourceService, "dest_service", info.DestService)
}

// disabled reports whether rule routing should be bypassed entirely for
// this call — no source service identity, routing explicitly turned off
// for the call, or no inbound and no outbound rules.
func (rt *RuleRouter) disabled(info *RouteInfo) bool {
	if info.SourceService == "" {
		return true
	}
	if info.RouterEnabled != nil && !*info.RouterEnabled {
		return true
	}
	if len(info.Inbound) == 0 && len(info.Outbound) == 0 {
		return true
	}
	return false
}

func (rt *RuleRouter) failover(info *RouteInfo, instances Instances, outcome string) RouteResult {
	policy := rt.defaultFailover
	if info.FailoverOverride != nil {
		policy = *info.FailoverOverride
	}
	switch policy {
	case FailoverAll:
		rt.observer.OnDecision(outcome + ":all")
		return RouteResult{Instances: instances, State: Next}
	default:
		rt.observer.OnDecision(outcome + ":none")
		return RouteResult{Instances: nil, State: Next}
	}
}

// evaluateRules walks routes in order; the first route whose source
// clauses match AND whose destination bucketing yields a non-empty
// priority group decides the result.
func (rt *RuleRouter) evaluateRules(routes []Route, isInbound bool, info *RouteInfo, instances Instances) (Instances, bool) {
	sourceMatchedAny := false
	for _, route := range routes {
		if !rt.matchSource(route.Sources, info, isInbound) {
			continue
		}
		sourceMatchedAny = true

		working := rt.filterDestinations(route.Destinations, isInbound, info)
		buckets := rt.bucketByPriority(working, instances)
		if len(buckets) == 0 {
			continue
		}
		selected := rt.selectPriorityGroup(buckets, info)
		return selected, true
	}
	return nil, sourceMatchedAny
}

func (rt *RuleRouter) matchSource(sources []Source, info *RouteInfo, isInbound bool) bool {
	if len(sources) == 0 {
		return true
	}
	for _, src := range sources {
		if isInbound {
			if !wildcardMatch(src.Namespace, info.SourceNamespace) || !wildcardMatch(src.Service, info.SourceService) {
				continue
			}
		}
		if rt.matcher.Match(src.Metadata, info.TrafficLabels, true, rt.envKey, info.Env, rt.globals) {
			return true
		}
	}
	return false
}

func wildcardMatch(pattern, actual string) bool {
	return pattern == "*" || pattern == actual
}

// filterDestinations applies isolation, the outbound dest-service check,
// and the circuit-breaker exclusion rule — retaining the fully-broken set
// rather than producing empty when every named destination is tripped.
func (rt *RuleRouter) filterDestinations(dests []Destination, isInbound bool, info *RouteInfo) []Destination {
	candidates := make([]Destination, 0, len(dests))
	for _, d := range dests {
		if d.Isolate {
			continue
		}
		if !isInbound {
			if !wildcardMatch(d.Namespace, info.DestNamespace) || !wildcardMatch(d.Service, info.DestService) {
				continue
			}
		}
		candidates = append(candidates, d)
	}

	namedPasses := 0
	namedTotal := 0
	for _, d := range candidates {
		if d.Subset == "" {
			continue
		}
		namedTotal++
		if rt.checker.Check(rt.subsetResource(d, info)).Pass {
			namedPasses++
		}
	}
	allNamedBroken := namedTotal > 0 && namedPasses == 0

	out := make([]Destination, 0, len(candidates))
	for _, d := range candidates {
		if d.Subset == "" {
			out = append(out, d)
			continue
		}
		if allNamedBroken {
			out = append(out, d) // retain the broken set
			continue
		}
		if rt.checker.Check(rt.subsetResource(d, info)).Pass {
			out = append(out, d)
		}
	}
	return out
}

func (rt *RuleRouter) subsetResource(d Destination, info *RouteInfo) resource.Resource {
	ns := d.Namespace
	if ns == "*" {
		ns = info.DestNamespace
	}
	svc := d.Service
	if svc == "*" {
		svc = info.DestService
	}
	md := make(map[string]string, len(d.Metadata))
	for k, v := range d.Metadata {
		md[k] = v.Value
	}
	return resource.Subset{NS: ns, Svc: svc, Name: d.Subset, Metadata: md}
}

// bucketByPriority groups destinations (already isolation/breaker
// filtered) into PrioritySubsets, computing each destination's matching
// instance sub-list. Destinations yielding zero weight or zero matching
// instances are dropped.
func (rt *RuleRouter) bucketByPriority(dests []Destination, instances Instances) map[int]*PrioritySubsets {
	buckets := make(map[int]*PrioritySubsets)
	for _, d := range dests {
		if d.Weight == 0 {
			continue
		}
		sub := rt.filterInstances(instances, d.Metadata)
		if len(sub) == 0 {
			continue
		}
		ps, ok := buckets[d.Priority]
		if !ok {
			ps = &PrioritySubsets{}
			buckets[d.Priority] = ps
		}
		md := make(map[string]string, len(d.Metadata))
		for k, v := range d.Metadata {
			md[k] = v.Value
		}
		ps.Subsets = append(ps.Subsets, WeightedSubset{Name: d.Subset, Metadata: md, Weight: d.Weight, Instances: sub})
		ps.TotalWeight += d.Weight
	}
	return buckets
}

func (rt *RuleRouter) filterInstances(instances Instances, md map[string]matcher.MatchString) Instances {
	out := make(Instances, 0, len(instances))
	for _, inst := range instances {
		if rt.matcher.Match(md, inst.Metadata, false, "", nil, rt.globals) {
			out = append(out, inst)
		}
	}
	return out
}

// selectPriorityGroup picks the smallest-priority bucket and, within it,
// either the sole subset or a weighted random draw.
func (rt *RuleRouter) selectPriorityGroup(buckets map[int]*PrioritySubsets, info *RouteInfo) Instances {
	minPriority, found := 0, false
	for p := range buckets {
		if !found || p < minPriority {
			minPriority, found = p, true
		}
	}
	ps := buckets[minPriority]

	if len(ps.Subsets) == 1 {
		s := ps.Subsets[0]
		info.SelectedSubset, info.SelectedMetadata = s.Name, s.Metadata
		return s.Instances
	}

	draw := rand.IntN(ps.TotalWeight)
	for _, s := range ps.Subsets {
		draw -= s.Weight
		if draw < 0 {
			info.SelectedSubset, info.SelectedMetadata = s.Name, s.Metadata
			return s.Instances
		}
	}
	last := ps.Subsets[len(ps.Subsets)-1]
	info.SelectedSubset, info.SelectedMetadata = last.Name, last.Metadata
	return last.Instances
}
