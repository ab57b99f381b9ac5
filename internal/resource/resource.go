// Package resource defines the stable identifiers that circuit breaking and
// routing operate over. All variants are immutable value types.
package resource

import (
	"fmt"
	"sort"
	"strings"
)

// Level distinguishes how specific a resource is; the registry uses it to
// break ties when more than one rule could apply to the same target.
type Level int

const (
	LevelService Level = iota
	LevelMethod
	LevelSubset
	LevelInstance
)

func (l Level) String() string {
	switch l {
	case LevelService:
		return "SERVICE"
	case LevelMethod:
		return "METHOD"
	case LevelSubset:
		return "SUBSET"
	case LevelInstance:
		return "INSTANCE"
	}
	return "UNKNOWN"
}

// Resource identifies a target of circuit breaking. Concrete variants below
// all satisfy this interface; identity is value-equality of every field,
// exposed here as a canonical Key() so resources can be used as map keys
// even though some variants carry a metadata map internally.
type Resource interface {
	Level() Level
	Namespace() string
	Service() string
	// Key returns a canonical, comparable string identity for this
	// resource — safe to use as a map key.
	Key() string
}

// Service identifies every instance of a service, regardless of method or
// subset.
type Service struct {
	NS  string
	Svc string
}

func (s Service) Level() Level      { return LevelService }
func (s Service) Namespace() string { return s.NS }
func (s Service) Service() string   { return s.Svc }
func (s Service) Key() string       { return fmt.Sprintf("svc:%s/%s", s.NS, s.Svc) }

// Method identifies a single RPC method on a service.
type Method struct {
	NS   string
	Svc  string
	Name string
}

func (m Method) Level() Level      { return LevelMethod }
func (m Method) Namespace() string { return m.NS }
func (m Method) Service() string   { return m.Svc }
func (m Method) Key() string {
	return fmt.Sprintf("method:%s/%s/%s", m.NS, m.Svc, m.Name)
}

// Subset identifies a named, metadata-defined partition of a service's
// instances.
type Subset struct {
	NS       string
	Svc      string
	Name     string
	Metadata map[string]string
}

func (s Subset) Level() Level      { return LevelSubset }
func (s Subset) Namespace() string { return s.NS }
func (s Subset) Service() string   { return s.Svc }
func (s Subset) Key() string {
	return fmt.Sprintf("subset:%s/%s/%s/%s", s.NS, s.Svc, s.Name, canonicalMeta(s.Metadata))
}

// Instance identifies a single host:port endpoint of a service.
type Instance struct {
	NS   string
	Svc  string
	Host string
	Port int
}

func (i Instance) Level() Level      { return LevelInstance }
func (i Instance) Namespace() string { return i.NS }
func (i Instance) Service() string   { return i.Svc }
func (i Instance) Key() string {
	return fmt.Sprintf("instance:%s/%s/%s:%d", i.NS, i.Svc, i.Host, i.Port)
}

// ServiceKey identifies a (namespace, service) pair independent of level —
// used by the registry to look up the active rule for each level.
type ServiceKey struct {
	Namespace string
	Svc       string
}

func (k ServiceKey) String() string { return k.Namespace + "/" + k.Svc }

func canonicalMeta(m map[string]string) string {
	if len(m) == 0 {
		return ""
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(m[k])
	}
	return b.String()
}
