// Package counter implements the TriggerCounter family: per-trigger-condition
// aggregation of boolean success/failure samples that fires a single-shot
// callback once a threshold is crossed.
package counter

import (
	"sync/atomic"
	"time"

	"github.com/sneha4175/meshtraffic/internal/breakerrule"
)

// Handler is notified when a counter's threshold is crossed. ruleName
// identifies which rule tripped; the handler is expected to drive the
// owning ResourceBreaker's closeToOpen transition.
type Handler interface {
	CloseToOpen(ruleName string)
}

// TriggerCounter accepts boolean samples and fires Handler.CloseToOpen at
// most once per threshold attainment, until Resume is called.
type TriggerCounter interface {
	Record(success bool)
	Resume()
}

// ---------------------------------------------------------------------------
// ConsecutiveCounter
// ---------------------------------------------------------------------------

// ConsecutiveCounter trips after a run of N consecutive failures.
type ConsecutiveCounter struct {
	ruleName   string
	errorCount int64
	handler    Handler

	streak  atomic.Int64
	tripped atomic.Bool
}

func NewConsecutiveCounter(ruleName string, cond breakerrule.TriggerCondition, h Handler) *ConsecutiveCounter {
	return &ConsecutiveCounter{
		ruleName:   ruleName,
		errorCount: int64(cond.ErrorCount),
		handler:    h,
	}
}

func (c *ConsecutiveCounter) Record(success bool) {
	if success {
		c.streak.Store(0)
		return
	}
	n := c.streak.Add(1)
	if n < c.errorCount {
		return
	}
	// Threshold crossed. CAS guards against firing twice for the same
	// streak attainment under concurrent callers.
	if c.tripped.CompareAndSwap(false, true) {
		c.streak.Store(0)
		c.handler.CloseToOpen(c.ruleName)
	}
}

func (c *ConsecutiveCounter) Resume() {
	c.streak.Store(0)
	c.tripped.Store(false)
}

// ---------------------------------------------------------------------------
// ErrRateCounter
// ---------------------------------------------------------------------------

type bucket struct {
	second atomic.Int64 // wall-clock second this bucket was last zeroed for
	total  atomic.Int64
	failed atomic.Int64
}

// ErrRateCounter trips when failed/total >= errorPercent/100 over the most
// recent intervalSeconds, provided total >= minimumSamples. It is a ring of
// one-second buckets; nowFn is injectable for deterministic tests and
// defaults to time.Now.
type ErrRateCounter struct {
	ruleName       string
	handler        Handler
	intervalSecs   int64
	minimumSamples int64
	errorPercent   int64
	nowFn          func() time.Time

	buckets []bucket
	tripped atomic.Bool

	lastCheckSecond atomic.Int64
}

func NewErrRateCounter(ruleName string, cond breakerrule.TriggerCondition, h Handler, nowFn func() time.Time) *ErrRateCounter {
	if nowFn == nil {
		nowFn = time.Now
	}
	return &ErrRateCounter{
		ruleName:       ruleName,
		handler:        h,
		intervalSecs:   int64(cond.IntervalSeconds),
		minimumSamples: int64(cond.MinimumSamples),
		errorPercent:   int64(cond.ErrorPercent),
		nowFn:          nowFn,
		buckets:        make([]bucket, cond.IntervalSeconds),
	}
}

func (c *ErrRateCounter) Record(success bool) {
	now := c.nowFn().Unix()
	idx := now % c.intervalSecs
	b := &c.buckets[idx]

	// Zero the bucket if it belongs to an earlier window before using it —
	// this is the "transition across a second boundary" rule.
	if b.second.Swap(now) != now {
		b.total.Store(0)
		b.failed.Store(0)
	}
	b.total.Add(1)
	if !success {
		b.failed.Add(1)
	}

	// At most once per second on sample arrival, or on bucket rollover —
	// both reduce to "re-evaluate if we haven't this second."
	if c.lastCheckSecond.Swap(now) != now {
		c.evaluate()
	}
}

func (c *ErrRateCounter) evaluate() {
	now := c.nowFn().Unix()
	var total, failed int64
	for i := range c.buckets {
		// A bucket not written within the last intervalSecs holds samples
		// from an older window; leave it out of the sum.
		if now-c.buckets[i].second.Load() >= c.intervalSecs {
			continue
		}
		total += c.buckets[i].total.Load()
		failed += c.buckets[i].failed.Load()
	}
	if total < c.minimumSamples {
		return
	}
	if failed*100 >= total*c.errorPercent {
		if c.tripped.CompareAndSwap(false, true) {
			c.handler.CloseToOpen(c.ruleName)
		}
	}
}

func (c *ErrRateCounter) Resume() {
	for i := range c.buckets {
		c.buckets[i].second.Store(0)
		c.buckets[i].total.Store(0)
		c.buckets[i].failed.Store(0)
	}
	c.lastCheckSecond.Store(0)
	c.tripped.Store(false)
}
