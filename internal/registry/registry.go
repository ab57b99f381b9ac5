// Package registry maps resources to ResourceBreaker instances and the
// rule that governs each (namespace, service) pair at every level.
package registry

import (
	"sync"

	"github.com/sneha4175/meshtraffic/internal/breaker"
	"github.com/sneha4175/meshtraffic/internal/breakerrule"
	"github.com/sneha4175/meshtraffic/internal/resource"
)

// precedence resolves which configured level governs a resource when no
// rule is configured at the resource's own level: try the resource's own
// level first, then fall back through this order.
var precedence = []resource.Level{
	resource.LevelMethod,
	resource.LevelService,
	resource.LevelSubset,
	resource.LevelInstance,
}

// Registry is a BreakerRegistry: lock-free reads of installed breakers,
// narrow-locked rule updates, CAS install so concurrent first-reports for
// the same resource share one breaker.
type Registry struct {
	breakers sync.Map // resource.Key() string -> *breaker.ResourceBreaker

	rulesMu sync.RWMutex
	rules   map[resource.ServiceKey]map[resource.Level]*breakerrule.CircuitBreakerRule

	sched    breaker.Scheduler
	observer breaker.Observer
}

// New constructs an empty Registry. sched must not be nil; observer may be
// nil.
func New(sched breaker.Scheduler, observer breaker.Observer) *Registry {
	return &Registry{
		rules: make(map[resource.ServiceKey]map[resource.Level]*breakerrule.CircuitBreakerRule),
		sched: sched,
		observer: observer,
	}
}

// SetRule installs (or replaces) the active rule for (svcKey, level). A
// resource already holding a breaker under the superseded rule is upgraded
// — replaced, never mutated in place — on its next Report; Check does not
// upgrade. A rule counts as superseded only when its name differs from the
// one the breaker was built from: a replacement rule under the same name
// leaves the existing breaker, and its old settings, in place.
func (r *Registry) SetRule(svcKey resource.ServiceKey, level resource.Level, rule *breakerrule.CircuitBreakerRule) {
	r.rulesMu.Lock()
	defer r.rulesMu.Unlock()
	byLevel, ok := r.rules[svcKey]
	if !ok {
		byLevel = make(map[resource.Level]*breakerrule.CircuitBreakerRule)
		r.rules[svcKey] = byLevel
	}
	byLevel[level] = rule
}

// RemoveRule clears the active rule for (svcKey, level), e.g. on config
// deletion.
func (r *Registry) RemoveRule(svcKey resource.ServiceKey, level resource.Level) {
	r.rulesMu.Lock()
	defer r.rulesMu.Unlock()
	if byLevel, ok := r.rules[svcKey]; ok {
		delete(byLevel, level)
	}
}

func (r *Registry) resolveRule(res resource.Resource) *breakerrule.CircuitBreakerRule {
	svcKey := resource.ServiceKey{Namespace: res.Namespace(), Svc: res.Service()}

	r.rulesMu.RLock()
	defer r.rulesMu.RUnlock()

	byLevel, ok := r.rules[svcKey]
	if !ok {
		return nil
	}
	if rule, ok := byLevel[res.Level()]; ok {
		return rule
	}
	for _, lvl := range precedence {
		if rule, ok := byLevel[lvl]; ok {
			return rule
		}
	}
	return nil
}

// Report routes a sample to the resource's breaker, creating it on first
// report and replacing it with a new breaker if the bound rule's name has
// since changed.
// A resource with no configured rule is silently ignored — there is
// nothing to break on.
func (r *Registry) Report(res resource.Resource, sample breaker.ResourceStat) {
	rule := r.resolveRule(res)
	if rule == nil {
		return
	}
	b := r.getOrUpgrade(res, rule)
	b.Report(sample)
}

// Check answers whether res currently passes its circuit breaker. A
// resource with no breaker installed yet (no report has landed, or no rule
// is configured) always passes.
func (r *Registry) Check(res resource.Resource) breaker.CheckResult {
	v, ok := r.breakers.Load(res.Key())
	if !ok {
		return breaker.CheckResult{Pass: true}
	}
	return v.(*breaker.ResourceBreaker).Check()
}

func (r *Registry) getOrUpgrade(res resource.Resource, rule *breakerrule.CircuitBreakerRule) *breaker.ResourceBreaker {
	key := res.Key()

	if v, ok := r.breakers.Load(key); ok {
		existing := v.(*breaker.ResourceBreaker)
		if existing.RuleName() == rule.Name {
			return existing
		}
		replacement := breaker.New(res, rule, r.sched, r.observer)
		if r.breakers.CompareAndSwap(key, v, replacement) {
			existing.Close()
			return replacement
		}
		// Lost the upgrade race to another report; use whatever won.
		v2, _ := r.breakers.Load(key)
		return v2.(*breaker.ResourceBreaker)
	}

	candidate := breaker.New(res, rule, r.sched, r.observer)
	actual, loaded := r.breakers.LoadOrStore(key, candidate)
	if loaded {
		candidate.Close()
		return actual.(*breaker.ResourceBreaker)
	}
	return candidate
}
