package breaker

import (
	"testing"
	"time"

	"github.com/sneha4175/meshtraffic/internal/breakerrule"
	"github.com/sneha4175/meshtraffic/internal/resource"
)

// fakeScheduler never runs tasks on its own; tests fire them explicitly via
// fireLatest(), keeping state machine tests deterministic instead of racing real
// timers.
type fakeScheduler struct {
	tasks []func()
}

func (f *fakeScheduler) ScheduleOnce(_ time.Duration, task func()) func() {
	f.tasks = append(f.tasks, task)
	idx := len(f.tasks) - 1
	return func() { f.tasks[idx] = nil }
}

func (f *fakeScheduler) fireLatest() {
	for i := len(f.tasks) - 1; i >= 0; i-- {
		if f.tasks[i] != nil {
			task := f.tasks[i]
			f.tasks[i] = nil
			task()
			return
		}
	}
}

type recordingObserver struct {
	transitions []string
	triggers    []string
}

func (r *recordingObserver) OnTransition(resourceKey, ruleName string, from, to State) {
	r.transitions = append(r.transitions, from.String()+"->"+to.String())
}
func (r *recordingObserver) OnTriggerFired(resourceKey, ruleName, triggerKind string) {
	r.triggers = append(r.triggers, triggerKind)
}

func consecutiveRule(name string, errCount, sleepSecs, successCount int) *breakerrule.CircuitBreakerRule {
	return &breakerrule.CircuitBreakerRule{
		Name:     name,
		Triggers: []breakerrule.TriggerCondition{{Kind: breakerrule.TriggerConsecutiveError, ErrorCount: errCount}},
		Recover:  breakerrule.RecoverCondition{SleepWindowSeconds: sleepSecs, ConsecutiveSuccessCount: successCount},
	}
}

func TestBreakerTripsOpenOnConsecutiveFailures(t *testing.T) {
	sched := &fakeScheduler{}
	obs := &recordingObserver{}
	res := resource.Service{NS: "ns", Svc: "checkout"}
	rule := consecutiveRule("r1", 3, 30, 2)
	b := New(res, rule, sched, obs)

	if b.State() != Closed {
		t.Fatalf("new breaker should start Closed, got %v", b.State())
	}

	b.Report(ResourceStat{ReturnStatus: Fail})
	b.Report(ResourceStat{ReturnStatus: Fail})
	if b.State() != Closed {
		t.Fatalf("should still be Closed before threshold, got %v", b.State())
	}
	b.Report(ResourceStat{ReturnStatus: Fail})
	if b.State() != Open {
		t.Fatalf("expected Open after threshold, got %v", b.State())
	}
	if len(obs.transitions) != 1 || obs.transitions[0] != "CLOSED->OPEN" {
		t.Fatalf("unexpected transitions: %v", obs.transitions)
	}
}

func TestCheckDeniesWhileOpenAndAllowsWhileClosed(t *testing.T) {
	sched := &fakeScheduler{}
	res := resource.Service{NS: "ns", Svc: "checkout"}
	rule := consecutiveRule("r1", 1, 30, 1)
	b := New(res, rule, sched, nil)

	if !b.Check().Pass {
		t.Fatal("expected Closed breaker to pass")
	}
	b.Report(ResourceStat{ReturnStatus: Fail})
	if b.Check().Pass {
		t.Fatal("expected Open breaker to deny")
	}
}

func TestHalfOpenAdmitsUpToBudgetThenDenies(t *testing.T) {
	sched := &fakeScheduler{}
	res := resource.Service{NS: "ns", Svc: "checkout"}
	rule := consecutiveRule("r1", 1, 30, 3)
	b := New(res, rule, sched, nil)

	b.Report(ResourceStat{ReturnStatus: Fail}) // -> Open, schedules half-open timer
	if b.State() != Open {
		t.Fatalf("expected Open, got %v", b.State())
	}

	sched.fireLatest() // fire the Open->HalfOpen timer
	if b.State() != HalfOpen {
		t.Fatalf("expected HalfOpen after sleep window, got %v", b.State())
	}

	admitted := 0
	for i := 0; i < 10; i++ {
		if b.Check().Pass {
			admitted++
		}
	}
	if admitted != rule.Recover.ConsecutiveSuccessCount {
		t.Fatalf("expected exactly %d admissions (the probe budget), got %d", rule.Recover.ConsecutiveSuccessCount, admitted)
	}
}

func TestHalfOpenClosesAfterEnoughConsecutiveSuccesses(t *testing.T) {
	sched := &fakeScheduler{}
	obs := &recordingObserver{}
	res := resource.Service{NS: "ns", Svc: "checkout"}
	rule := consecutiveRule("r1", 1, 30, 2)
	b := New(res, rule, sched, obs)

	b.Report(ResourceStat{ReturnStatus: Fail})
	sched.fireLatest() // -> HalfOpen

	b.Report(ResourceStat{ReturnStatus: Success})
	b.Report(ResourceStat{ReturnStatus: Success}) // schedules conversion check
	sched.fireLatest()                            // runs the debounced conversion check

	if b.State() != Closed {
		t.Fatalf("expected Closed after enough half-open successes, got %v", b.State())
	}
}

func TestHalfOpenReopensOnFailure(t *testing.T) {
	sched := &fakeScheduler{}
	res := resource.Service{NS: "ns", Svc: "checkout"}
	rule := consecutiveRule("r1", 1, 30, 2)
	b := New(res, rule, sched, nil)

	b.Report(ResourceStat{ReturnStatus: Fail})
	sched.fireLatest() // -> HalfOpen

	b.Report(ResourceStat{ReturnStatus: Fail}) // schedules conversion check
	sched.fireLatest()

	if b.State() != Open {
		t.Fatalf("expected a half-open failure to reopen the breaker, got %v", b.State())
	}
}

func TestTransientSchedulerFailureRecoversOnNextReport(t *testing.T) {
	// Simulate a dropped timer: fireLatest is never called, but enough wall
	// clock time passes that the next Report should force the transition.
	sched := &fakeScheduler{}
	res := resource.Service{NS: "ns", Svc: "checkout"}
	rule := consecutiveRule("r1", 1, 0, 1) // zero-second sleep window: "already elapsed"
	b := New(res, rule, sched, nil)

	b.Report(ResourceStat{ReturnStatus: Fail}) // -> Open
	if b.State() != Open {
		t.Fatalf("expected Open, got %v", b.State())
	}

	// Any subsequent report, regardless of outcome, should notice the sleep
	// window has elapsed and force Open -> HalfOpen.
	b.Report(ResourceStat{ReturnStatus: Success})
	if b.State() != HalfOpen {
		t.Fatalf("expected forced HalfOpen transition on next report, got %v", b.State())
	}
}

func TestUnknownStatusClassifiedByErrorConditions(t *testing.T) {
	sched := &fakeScheduler{}
	res := resource.Service{NS: "ns", Svc: "checkout"}
	rule := consecutiveRule("r1", 1, 30, 1)
	rule.Errors = []breakerrule.ErrorCondition{{Input: breakerrule.InputRetCode, Op: breakerrule.OpRegex, Pattern: "^5"}}
	b := New(res, rule, sched, nil)

	b.Report(ResourceStat{ReturnStatus: Unknown, ReturnCode: 200})
	if b.State() != Closed {
		t.Fatalf("2xx Unknown sample should not count as a failure, got %v", b.State())
	}

	b.Report(ResourceStat{ReturnStatus: Unknown, ReturnCode: 503})
	if b.State() != Open {
		t.Fatalf("5xx Unknown sample should be classified a failure, got %v", b.State())
	}
}

func TestFallbackSurfacedWhileOpen(t *testing.T) {
	sched := &fakeScheduler{}
	res := resource.Service{NS: "ns", Svc: "checkout"}
	rule := consecutiveRule("r1", 1, 30, 1)
	rule.Fallback = &breakerrule.FallbackConfig{Enable: true, Response: breakerrule.FallbackResponse{Code: 503, Body: "degraded"}}
	b := New(res, rule, sched, nil)

	b.Report(ResourceStat{ReturnStatus: Fail})
	result := b.Check()
	if result.Pass {
		t.Fatal("expected Open breaker to deny")
	}
	if result.Fallback == nil || result.Fallback.Code != 503 {
		t.Fatalf("expected fallback info, got %+v", result.Fallback)
	}
}

func TestCloseCancelsScheduledTransition(t *testing.T) {
	sched := &fakeScheduler{}
	res := resource.Service{NS: "ns", Svc: "checkout"}
	rule := consecutiveRule("r1", 1, 30, 1)
	b := New(res, rule, sched, nil)

	b.Report(ResourceStat{ReturnStatus: Fail}) // schedules Open->HalfOpen
	b.Close()
	sched.fireLatest() // the cancelled task must be a no-op

	if b.State() != Open {
		t.Fatalf("expected state frozen at Open after Close, got %v", b.State())
	}
}
