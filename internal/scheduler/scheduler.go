// Package scheduler provides the production implementation of the
// Scheduler collaborator consumed by internal/breaker: delayed, cancellable
// one-shot task execution backed by time.AfterFunc. Tasks run on their own
// goroutine, independent of the caller that scheduled them.
package scheduler

import "time"

// Real is a Scheduler backed by the standard library timer.
type Real struct{}

// New returns a ready-to-use Real scheduler.
func New() *Real { return &Real{} }

// ScheduleOnce runs task once, after delay, on its own goroutine. The
// returned cancel func stops the timer if it hasn't fired yet; calling it
// after the task has already run is a harmless no-op.
func (Real) ScheduleOnce(delay time.Duration, task func()) (cancel func()) {
	t := time.AfterFunc(delay, task)
	return func() { t.Stop() }
}
