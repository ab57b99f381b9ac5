package breaker

import (
	"sync/atomic"
	"time"

	"github.com/sneha4175/meshtraffic/internal/breakerrule"
)

// State is one of the three circuit breaker states.
type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "CLOSED"
	case Open:
		return "OPEN"
	case HalfOpen:
		return "HALF_OPEN"
	}
	return "UNKNOWN"
}

// Status is the immutable snapshot installed atomically on every
// transition — readers never observe a torn value.
type Status struct {
	RuleName string
	State    State
	Since    time.Time
	Fallback *breakerrule.FallbackConfig

	// Half-Open only.
	halfOpen *halfOpenState
}

type halfOpenState struct {
	maxAllowed int64
	remaining  atomic.Int64
	scheduled  atomic.Bool // debounces the 1s conversion-check task
}

// NewClosedStatus builds the status installed on entering Closed.
func NewClosedStatus(ruleName string) *Status {
	return &Status{RuleName: ruleName, State: Closed, Since: time.Now()}
}

// NewOpenStatus builds the status installed on entering Open.
func NewOpenStatus(ruleName string, fallback *breakerrule.FallbackConfig) *Status {
	return &Status{RuleName: ruleName, State: Open, Since: time.Now(), Fallback: fallback}
}

// NewHalfOpenStatus builds the status installed on entering Half-Open, with
// the admission budget set to maxAllowed probe requests.
func NewHalfOpenStatus(ruleName string, maxAllowed int) *Status {
	s := &Status{RuleName: ruleName, State: HalfOpen, Since: time.Now(), halfOpen: &halfOpenState{maxAllowed: int64(maxAllowed)}}
	s.halfOpen.remaining.Store(int64(maxAllowed))
	return s
}

// admit decrements the half-open request budget; returns false once
// exhausted. No-op (always true) outside Half-Open.
func (s *Status) admit() bool {
	if s.State != HalfOpen {
		return true
	}
	for {
		cur := s.halfOpen.remaining.Load()
		if cur <= 0 {
			return false
		}
		if s.halfOpen.remaining.CompareAndSwap(cur, cur-1) {
			return true
		}
	}
}

// markScheduled returns true if this call won the race to schedule the
// debounced half-open conversion check; false if one is already pending.
func (s *Status) markScheduled() bool {
	return s.halfOpen.scheduled.CompareAndSwap(false, true)
}

func (s *Status) clearScheduled() {
	s.halfOpen.scheduled.Store(false)
}
