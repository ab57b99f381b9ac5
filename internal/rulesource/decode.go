package rulesource

import (
	"github.com/sneha4175/meshtraffic/internal/breakerrule"
	"github.com/sneha4175/meshtraffic/internal/matcher"
	"github.com/sneha4175/meshtraffic/internal/resource"
	"github.com/sneha4175/meshtraffic/internal/router"
)

// decode converts the YAML shape into a RuleSet. Each circuit breaker
// binding is validated independently — an InvalidRule on one binding (e.g.
// a DELAY error condition with a non-numeric operand) is appended to errs
// and the binding is skipped, never poisoning its siblings. The same
// applies to routes that can't be decoded (e.g. a negative destination
// weight or an unknown match operator).
func decode(raw fileRuleSet) (*RuleSet, []error) {
	var errs []error
	set := &RuleSet{}

	for _, b := range raw.CircuitBreakers {
		rule, err := decodeRule(b.Rule)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if err := breakerrule.Validate(rule); err != nil {
			errs = append(errs, err)
			continue
		}
		level, ok := decodeLevel(b.Level)
		if !ok {
			errs = append(errs, &breakerrule.InvalidRule{RuleName: rule.Name, Reason: "unknown level " + b.Level})
			continue
		}
		set.Bindings = append(set.Bindings, Binding{
			Service: resource.ServiceKey{Namespace: b.Namespace, Svc: b.Service},
			Level:   level,
			Rule:    rule,
		})
	}

	for _, r := range raw.Inbound {
		route, err := decodeRoute(r)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		set.Inbound = append(set.Inbound, route)
	}
	for _, r := range raw.Outbound {
		route, err := decodeRoute(r)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		set.Outbound = append(set.Outbound, route)
	}

	return set, errs
}

func decodeLevel(s string) (resource.Level, bool) {
	switch s {
	case "SERVICE":
		return resource.LevelService, true
	case "METHOD":
		return resource.LevelMethod, true
	case "SUBSET":
		return resource.LevelSubset, true
	case "INSTANCE":
		return resource.LevelInstance, true
	}
	return 0, false
}

func decodeRule(r fileBreakerRule) (*breakerrule.CircuitBreakerRule, error) {
	out := &breakerrule.CircuitBreakerRule{
		Name: r.Name,
		Recover: breakerrule.RecoverCondition{
			SleepWindowSeconds:      r.Recover.SleepWindowSeconds,
			ConsecutiveSuccessCount: r.Recover.ConsecutiveSuccessCount,
		},
	}

	for _, t := range r.Triggers {
		switch t.Kind {
		case "ERROR_RATE":
			out.Triggers = append(out.Triggers, breakerrule.TriggerCondition{
				Kind:            breakerrule.TriggerErrorRate,
				IntervalSeconds: t.IntervalSeconds,
				MinimumSamples:  t.MinimumSamples,
				ErrorPercent:    t.ErrorPercent,
			})
		case "CONSECUTIVE_ERROR":
			out.Triggers = append(out.Triggers, breakerrule.TriggerCondition{
				Kind:       breakerrule.TriggerConsecutiveError,
				ErrorCount: t.ErrorCount,
			})
		default:
			return nil, &breakerrule.InvalidRule{RuleName: r.Name, Reason: "unknown trigger kind " + t.Kind}
		}
	}

	for _, e := range r.Errors {
		cond := breakerrule.ErrorCondition{}
		switch e.Input {
		case "RET_CODE":
			cond.Input = breakerrule.InputRetCode
			cond.Op = breakerrule.OpRegex
			cond.Pattern = e.Pattern
		case "DELAY":
			cond.Input = breakerrule.InputDelay
			cond.Op = breakerrule.OpGTE
			v, err := breakerrule.ParseDelayOperand(r.Name, e.Operand)
			if err != nil {
				return nil, err
			}
			cond.Operand = v
		default:
			return nil, &breakerrule.InvalidRule{RuleName: r.Name, Reason: "unknown error condition input " + e.Input}
		}
		out.Errors = append(out.Errors, cond)
	}

	if r.Fallback != nil {
		out.Fallback = &breakerrule.FallbackConfig{
			Enable: r.Fallback.Enable,
			Response: breakerrule.FallbackResponse{
				Code:    r.Fallback.Response.Code,
				Headers: r.Fallback.Response.Headers,
				Body:    r.Fallback.Response.Body,
			},
		}
	}

	return out, nil
}

func decodeRoute(r fileRoute) (router.Route, error) {
	route := router.Route{}
	for _, s := range r.Sources {
		md, err := decodeMatchMap(s.Metadata)
		if err != nil {
			return router.Route{}, err
		}
		route.Sources = append(route.Sources, router.Source{Namespace: s.Namespace, Service: s.Service, Metadata: md})
	}
	for _, d := range r.Destinations {
		if d.Weight < 0 {
			return router.Route{}, &breakerrule.InvalidRule{RuleName: "route", Reason: "destination weight cannot be negative"}
		}
		md, err := decodeMatchMap(d.Metadata)
		if err != nil {
			return router.Route{}, err
		}
		route.Destinations = append(route.Destinations, router.Destination{
			Namespace: d.Namespace,
			Service:   d.Service,
			Subset:    d.Subset,
			Metadata:  md,
			Priority:  d.Priority,
			Weight:    d.Weight,
			Isolate:   d.Isolate,
		})
	}
	return route, nil
}

func decodeMatchMap(m map[string]fileMatchValue) (map[string]matcher.MatchString, error) {
	if len(m) == 0 {
		return nil, nil
	}
	out := make(map[string]matcher.MatchString, len(m))
	for k, v := range m {
		op, ok := decodeOp(v.Op)
		if !ok {
			return nil, &breakerrule.InvalidRule{RuleName: "route", Reason: "unknown match operator " + v.Op}
		}
		out[k] = matcher.MatchString{Op: op, Value: v.Value}
	}
	return out, nil
}

func decodeOp(s string) (matcher.Op, bool) {
	switch s {
	case "", "EXACT":
		return matcher.OpExact, true
	case "REGEX":
		return matcher.OpRegex, true
	case "NOT_EQUALS":
		return matcher.OpNotEquals, true
	case "IN":
		return matcher.OpIn, true
	case "NOT_IN":
		return matcher.OpNotIn, true
	case "RANGE":
		return matcher.OpRange, true
	}
	return 0, false
}
