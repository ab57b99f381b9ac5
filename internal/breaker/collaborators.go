package breaker

import "time"

// Scheduler provides delayed, cancellable one-shot task execution. The
// production implementation lives in internal/scheduler; tests inject a
// synchronous stub.
type Scheduler interface {
	ScheduleOnce(delay time.Duration, task func()) (cancel func())
}

// Observer receives best-effort notifications of breaker activity. Both
// methods must return quickly and never block — implementations are called
// from the hot transition/report path. A nil Observer is valid and ignored.
type Observer interface {
	OnTransition(resourceKey, ruleName string, from, to State)
	OnTriggerFired(resourceKey, ruleName, triggerKind string)
}

// noopObserver is used when no Observer is configured.
type noopObserver struct{}

func (noopObserver) OnTransition(string, string, State, State) {}
func (noopObserver) OnTriggerFired(string, string, string)     {}

// MultiObserver fans a single breaker lifecycle out to several Observers —
// used to wire both Prometheus metrics and Redis event publishing off the
// same transition without either depending on the other.
type MultiObserver []Observer

func (m MultiObserver) OnTransition(resourceKey, ruleName string, from, to State) {
	for _, o := range m {
		if o != nil {
			o.OnTransition(resourceKey, ruleName, from, to)
		}
	}
}

func (m MultiObserver) OnTriggerFired(resourceKey, ruleName, triggerKind string) {
	for _, o := range m {
		if o != nil {
			o.OnTriggerFired(resourceKey, ruleName, triggerKind)
		}
	}
}
