// Package breakerrule holds the immutable configuration types bound to a
// resource by the circuit breaker, and the validation that turns a
// loosely-typed decode (YAML, in this implementation) into a rule the
// breaker can trust.
package breakerrule

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/sneha4175/meshtraffic/internal/resource"
)

// InvalidRule is returned when a rule's shape contradicts the data model —
// a negative weight, a non-numeric DELAY operand, and so on. Its presence
// means the rule (or the single route it came from) is skipped; it never
// poisons sibling rules.
type InvalidRule struct {
	RuleName string
	Reason   string
}

func (e *InvalidRule) Error() string {
	return fmt.Sprintf("invalid rule %q: %s", e.RuleName, e.Reason)
}

// TriggerKind selects which trigger-condition evaluation a ResourceBreaker
// uses.
type TriggerKind int

const (
	TriggerErrorRate TriggerKind = iota
	TriggerConsecutiveError
)

// TriggerCondition configures one TriggerCounter.
type TriggerCondition struct {
	Kind             TriggerKind
	IntervalSeconds  int // ERROR_RATE
	MinimumSamples   int // ERROR_RATE
	ErrorPercent     int // ERROR_RATE, 0-100
	ErrorCount       int // CONSECUTIVE_ERROR
}

// InputType selects what field of a sample an ErrorCondition inspects.
type InputType int

const (
	InputRetCode InputType = iota
	InputDelay
)

// MatchOp is the comparison operator an ErrorCondition applies.
type MatchOp int

const (
	OpRegex MatchOp = iota
	OpGTE               // delay >= operand
)

// ErrorCondition classifies an Unknown-status sample as a failure.
type ErrorCondition struct {
	Input   InputType
	Op      MatchOp
	Pattern string // compiled lazily and cached; OpRegex only
	Operand int64  // OpGTE only
}

// RecoverCondition controls Open → Half-Open → Closed recovery.
type RecoverCondition struct {
	SleepWindowSeconds     int
	ConsecutiveSuccessCount int
}

// FallbackResponse is the canned response served while a fallback is active.
type FallbackResponse struct {
	Code    int
	Headers map[string]string
	Body    string
}

// FallbackConfig is the optional degrade-response policy for a tripped
// resource.
type FallbackConfig struct {
	Enable   bool
	Response FallbackResponse
}

// Level mirrors resource.Level for the purpose of rule binding.
type Level = resource.Level

// CircuitBreakerRule is immutable configuration bound to a resource.
type CircuitBreakerRule struct {
	Name       string
	Level      Level
	Triggers   []TriggerCondition
	Errors     []ErrorCondition
	Recover    RecoverCondition
	Fallback   *FallbackConfig
}

// Validate checks a rule's shape against the data model above and
// returns an *InvalidRule describing the first problem found. A valid
// rule always has at least one trigger condition and a positive recover
// configuration.
func Validate(r *CircuitBreakerRule) error {
	if r.Name == "" {
		return &InvalidRule{RuleName: r.Name, Reason: "rule name is required"}
	}
	if len(r.Triggers) == 0 {
		return &InvalidRule{RuleName: r.Name, Reason: "at least one trigger condition is required"}
	}
	for i, t := range r.Triggers {
		switch t.Kind {
		case TriggerErrorRate:
			if t.IntervalSeconds <= 0 {
				return &InvalidRule{RuleName: r.Name, Reason: fmt.Sprintf("trigger[%d]: interval_seconds must be > 0", i)}
			}
			if t.MinimumSamples <= 0 {
				return &InvalidRule{RuleName: r.Name, Reason: fmt.Sprintf("trigger[%d]: minimum_samples must be > 0", i)}
			}
			if t.ErrorPercent < 0 || t.ErrorPercent > 100 {
				return &InvalidRule{RuleName: r.Name, Reason: fmt.Sprintf("trigger[%d]: error_percent must be 0-100", i)}
			}
		case TriggerConsecutiveError:
			if t.ErrorCount <= 0 {
				return &InvalidRule{RuleName: r.Name, Reason: fmt.Sprintf("trigger[%d]: error_count must be > 0", i)}
			}
		default:
			return &InvalidRule{RuleName: r.Name, Reason: fmt.Sprintf("trigger[%d]: unknown kind", i)}
		}
	}
	for i, e := range r.Errors {
		if e.Op == OpRegex {
			if _, err := regexp.Compile(e.Pattern); err != nil {
				return &InvalidRule{RuleName: r.Name, Reason: fmt.Sprintf("error_condition[%d]: bad regex %q: %v", i, e.Pattern, err)}
			}
		}
	}
	if r.Recover.SleepWindowSeconds <= 0 {
		return &InvalidRule{RuleName: r.Name, Reason: "recover.sleep_window_seconds must be > 0"}
	}
	if r.Recover.ConsecutiveSuccessCount <= 0 {
		return &InvalidRule{RuleName: r.Name, Reason: "recover.consecutive_success_count must be > 0"}
	}
	return nil
}

// ParseDelayOperand validates a DELAY error condition's operand string at
// decode time, surfacing InvalidRule instead of a later panic or silent
// zero.
func ParseDelayOperand(ruleName, raw string) (int64, error) {
	v, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return 0, &InvalidRule{RuleName: ruleName, Reason: fmt.Sprintf("DELAY operand %q is not numeric", raw)}
	}
	return v, nil
}
