// Package matcher implements the label/metadata matching engine shared by
// the router's source and destination rule clauses.
package matcher

import (
	"regexp"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// Matcher evaluates MatchString clauses against actual metadata. It caches
// compiled regexes across calls and logs a compile failure at most once per
// distinct pattern. A bad pattern yields a MatchError, never a panic, and
// the clause is treated as a non-match.
type Matcher struct {
	log        *zap.SugaredLogger
	regexCache sync.Map // pattern -> *regexp.Regexp
	warnedOnce sync.Map // pattern -> struct{}
}

// New builds a Matcher. log may be nil, in which case MatchError events are
// silently dropped.
func New(log *zap.SugaredLogger) *Matcher {
	return &Matcher{log: log}
}

// Match evaluates every (key, MatchString) clause in ruleLabels against
// actualLabels, AND-combining the results. sourceSide and envKey control
// env-key propagation: when true and a clause's key equals envKey, the
// resolved expected value is recorded into envOut for downstream env-aware
// routing. globals backs "$var" substitution. An empty ruleLabels map
// matches trivially.
func (m *Matcher) Match(ruleLabels map[string]MatchString, actualLabels map[string]string, sourceSide bool, envKey string, envOut map[string]string, globals map[string]string) bool {
	for key, ms := range ruleLabels {
		expected := m.resolve(ms.Value, globals, actualLabels)

		if sourceSide && envKey != "" && key == envKey && envOut != nil {
			envOut[key] = expected
		}

		actual, present := actualLabels[key]
		if !present {
			if expected == "*" {
				continue
			}
			return false
		}
		if !m.compare(ms.Op, expected, actual) {
			return false
		}
	}
	return true
}

// resolve substitutes a "$var" reference from globals, falling back to
// actualLabels, or returns the literal value unchanged.
func (m *Matcher) resolve(value string, globals, actualLabels map[string]string) string {
	if !strings.HasPrefix(value, "$") {
		return value
	}
	name := value[1:]
	if v, ok := globals[name]; ok {
		return v
	}
	if v, ok := actualLabels[name]; ok {
		return v
	}
	return value
}

func (m *Matcher) compare(op Op, expected, actual string) bool {
	switch op {
	case OpExact:
		return actual == expected
	case OpNotEquals:
		return actual != expected
	case OpRegex:
		re, err := m.compileCached(expected)
		if err != nil {
			m.warnOnce(expected, err)
			return false
		}
		return re.MatchString(actual)
	case OpIn:
		return containsAny(expected, actual)
	case OpNotIn:
		return !containsAny(expected, actual)
	case OpRange:
		return inRange(expected, actual)
	}
	return false
}

func (m *Matcher) compileCached(pattern string) (*regexp.Regexp, error) {
	if v, ok := m.regexCache.Load(pattern); ok {
		return v.(*regexp.Regexp), nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}
	m.regexCache.Store(pattern, re)
	return re, nil
}

func (m *Matcher) warnOnce(pattern string, err error) {
	if m.log == nil {
		return
	}
	if _, loaded := m.warnedOnce.LoadOrStore(pattern, struct{}{}); loaded {
		return
	}
	m.log.Warnw("rule match: invalid regex pattern, treating as non-match", "pattern", pattern, "err", err)
}

func containsAny(csv, actual string) bool {
	for _, v := range strings.Split(csv, ",") {
		if strings.TrimSpace(v) == actual {
			return true
		}
	}
	return false
}

func inRange(spec, actual string) bool {
	parts := strings.SplitN(spec, "~", 2)
	if len(parts) != 2 {
		return false
	}
	lo, err1 := strconv.Atoi(strings.TrimSpace(parts[0]))
	hi, err2 := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err1 != nil || err2 != nil {
		return false
	}
	v, err := strconv.Atoi(strings.TrimSpace(actual))
	if err != nil {
		return false
	}
	return v >= lo && v <= hi
}
