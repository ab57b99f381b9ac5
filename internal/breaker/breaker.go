// Package breaker implements the per-resource circuit breaker state
// machine: Closed, Open, and Half-Open, driven by trigger-counter callbacks
// and a scheduler collaborator for timer-driven transitions.
package breaker

import (
	"regexp"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sneha4175/meshtraffic/internal/breakerrule"
	"github.com/sneha4175/meshtraffic/internal/counter"
	"github.com/sneha4175/meshtraffic/internal/resource"
)

var regexCache sync.Map // pattern string -> *regexp.Regexp

func compileCached(pattern string) (*regexp.Regexp, error) {
	if v, ok := regexCache.Load(pattern); ok {
		return v.(*regexp.Regexp), nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}
	regexCache.Store(pattern, re)
	return re, nil
}

// ResourceBreaker is the circuit breaker state machine for a single
// (resource, rule) pair.
type ResourceBreaker struct {
	res  resource.Resource
	rule *breakerrule.CircuitBreakerRule

	sched    Scheduler
	observer Observer

	counters []counter.TriggerCounter

	status atomic.Pointer[Status]

	halfOpenSuccess atomic.Int64

	mu             sync.Mutex // serializes the four named transitions
	scheduledCancel func()
	closed         bool
}

// New constructs a ResourceBreaker bound to res and rule, starting Closed.
// sched must not be nil; observer may be nil.
func New(res resource.Resource, rule *breakerrule.CircuitBreakerRule, sched Scheduler, observer Observer) *ResourceBreaker {
	if observer == nil {
		observer = noopObserver{}
	}
	b := &ResourceBreaker{
		res:      res,
		rule:     rule,
		sched:    sched,
		observer: observer,
	}
	b.status.Store(NewClosedStatus(rule.Name))
	b.counters = buildCounters(rule, b)
	return b
}

func buildCounters(rule *breakerrule.CircuitBreakerRule, h counter.Handler) []counter.TriggerCounter {
	out := make([]counter.TriggerCounter, 0, len(rule.Triggers))
	for _, t := range rule.Triggers {
		switch t.Kind {
		case breakerrule.TriggerConsecutiveError:
			out = append(out, counter.NewConsecutiveCounter(rule.Name, t, h))
		case breakerrule.TriggerErrorRate:
			out = append(out, counter.NewErrRateCounter(rule.Name, t, h, nil))
		}
	}
	return out
}

// CloseToOpen implements counter.Handler — invoked by a TriggerCounter when
// its threshold is crossed while the breaker is Closed.
func (b *ResourceBreaker) CloseToOpen(ruleName string) {
	b.observer.OnTriggerFired(b.res.Key(), ruleName, "trigger")
	b.mu.Lock()
	defer b.mu.Unlock()
	b.transitionToOpen()
}

// Report classifies and records one sample, driving trigger counters and
// half-open admission/success bookkeeping. It never blocks.
func (b *ResourceBreaker) Report(sample ResourceStat) {
	success := b.classify(sample)
	st := b.status.Load()

	switch st.State {
	case HalfOpen:
		b.reportHalfOpen(st, success)
	case Closed:
		for _, c := range b.counters {
			c.Record(success)
		}
	case Open:
		// TransientSchedulerFailure recovery: if the scheduled wake-up was
		// dropped, a later report forces the probing transition itself.
		sleepWindow := time.Duration(b.rule.Recover.SleepWindowSeconds) * time.Second
		if time.Since(st.Since) >= sleepWindow {
			b.mu.Lock()
			b.transitionToHalfOpen()
			b.mu.Unlock()
		}
	}
}

func (b *ResourceBreaker) reportHalfOpen(st *Status, success bool) {
	if success {
		n := b.halfOpenSuccess.Add(1)
		if n >= int64(b.rule.Recover.ConsecutiveSuccessCount) {
			b.scheduleConversionCheck(st)
		}
		return
	}
	b.halfOpenSuccess.Store(0)
	b.scheduleConversionCheck(st)
}

// scheduleConversionCheck debounces the half-open-conversion decision to
// one second after the triggering sample, so a burst of probes collapses
// into a single transition driven by the final counter value.
func (b *ResourceBreaker) scheduleConversionCheck(st *Status) {
	if !st.markScheduled() {
		return
	}
	cancel := b.sched.ScheduleOnce(time.Second, func() {
		b.checkHalfOpenConversion(st)
	})
	b.mu.Lock()
	b.scheduledCancel = cancel
	b.mu.Unlock()
}

func (b *ResourceBreaker) checkHalfOpenConversion(st *Status) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.status.Load() != st {
		return // superseded by another transition already
	}
	st.clearScheduled()
	if b.halfOpenSuccess.Load() >= int64(b.rule.Recover.ConsecutiveSuccessCount) {
		b.transitionToClosed()
	} else {
		b.transitionToOpen()
	}
}

// Check answers whether a request should proceed. Admission in
// Half-Open is enforced by decrementing a remaining-token counter; once
// exhausted, further calls deny without recording a failure.
func (b *ResourceBreaker) Check() CheckResult {
	st := b.status.Load()
	res := CheckResult{RuleName: st.RuleName}
	if st.State == Open {
		res.Pass = false
		res.Fallback = toFallbackInfo(st.Fallback)
		return res
	}
	if st.State == HalfOpen {
		res.Pass = st.admit()
		return res
	}
	res.Pass = true
	return res
}

func toFallbackInfo(cfg *breakerrule.FallbackConfig) *FallbackInfo {
	if cfg == nil || !cfg.Enable {
		return nil
	}
	return &FallbackInfo{Code: cfg.Response.Code, Headers: cfg.Response.Headers, Body: cfg.Response.Body}
}

// State returns the current state, for diagnostics.
func (b *ResourceBreaker) State() State { return b.status.Load().State }

// RuleName returns the name of the rule this breaker was built from, so the
// registry can detect a rule upgrade on a resource it already tracks.
func (b *ResourceBreaker) RuleName() string { return b.rule.Name }

// Close cancels any outstanding scheduled transition task. Called by the
// registry when a rule upgrade replaces this breaker wholesale.
func (b *ResourceBreaker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	if b.scheduledCancel != nil {
		b.scheduledCancel()
		b.scheduledCancel = nil
	}
}

// ---------------------------------------------------------------------------
// Named transitions — all serialized by b.mu, all no-ops unless the current
// state matches the expected predecessor.
// ---------------------------------------------------------------------------

func (b *ResourceBreaker) transitionToOpen() {
	from := b.status.Load()
	if from.State == Open || b.closed {
		return
	}
	next := NewOpenStatus(b.rule.Name, b.rule.Fallback)
	b.status.Store(next)
	b.observer.OnTransition(b.res.Key(), b.rule.Name, from.State, Open)

	delay := time.Duration(b.rule.Recover.SleepWindowSeconds) * time.Second
	b.scheduledCancel = b.sched.ScheduleOnce(delay, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if b.status.Load() == next {
			b.transitionToHalfOpen()
		}
	})
}

func (b *ResourceBreaker) transitionToHalfOpen() {
	from := b.status.Load()
	if from.State != Open || b.closed {
		return
	}
	b.halfOpenSuccess.Store(0)
	next := NewHalfOpenStatus(b.rule.Name, b.rule.Recover.ConsecutiveSuccessCount)
	b.status.Store(next)
	b.observer.OnTransition(b.res.Key(), b.rule.Name, from.State, HalfOpen)
}

func (b *ResourceBreaker) transitionToClosed() {
	from := b.status.Load()
	if from.State != HalfOpen || b.closed {
		return
	}
	next := NewClosedStatus(b.rule.Name)
	b.status.Store(next)
	for _, c := range b.counters {
		c.Resume()
	}
	b.observer.OnTransition(b.res.Key(), b.rule.Name, from.State, Closed)
}

// classify turns a raw sample into the success boolean Report/counters
// consume.
func (b *ResourceBreaker) classify(sample ResourceStat) bool {
	switch sample.ReturnStatus {
	case Success:
		return true
	case Fail:
		return false
	default: // Unknown
		for _, cond := range b.rule.Errors {
			if matchErrorCondition(cond, sample) {
				return false
			}
		}
		return true
	}
}

func matchErrorCondition(cond breakerrule.ErrorCondition, sample ResourceStat) bool {
	switch cond.Input {
	case breakerrule.InputRetCode:
		re, err := compileCached(cond.Pattern)
		if err != nil {
			return false // MatchError: treated as non-match
		}
		return re.MatchString(strconv.Itoa(sample.ReturnCode))
	case breakerrule.InputDelay:
		return sample.DelayMillis >= cond.Operand
	}
	return false
}
