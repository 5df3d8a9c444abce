package ratelimit

import (
	"errors"
	"sort"
	"strings"
)

// DefaultPolicyName names the fallback policy in metrics and logs.
const DefaultPolicyName = "default"

// ErrPolicyNotFound means no policy, not even a default, applies to a path.
// It indicates a configuration defect.
var ErrPolicyNotFound = errors.New("no rate limit policy configured")

// Policy holds the thresholds applied to a route.
type Policy struct {
	// Name is the configured route path, or DefaultPolicyName.
	Name string

	// RequestsPerMinute is the maximum number of requests per minute window.
	RequestsPerMinute uint64

	// RequestsPerHour is the maximum number of requests per hour window.
	RequestsPerHour uint64
}

// Resolver maps request paths to policies. It is built once and never
// modified, so it is safe for concurrent use.
type Resolver struct {
	def      *Policy
	exact    map[string]Policy
	prefixes []Policy
}

// NewResolver builds a resolver from a default policy and per-route
// overrides. Each override's Name is its route path and is matched both
// exactly and as a prefix. When a path is listed twice the later entry wins.
func NewResolver(def Policy, routes []Policy) *Resolver {
	if def.Name == "" {
		def.Name = DefaultPolicyName
	}

	exact := make(map[string]Policy, len(routes))
	for _, p := range routes {
		if p.Name == "" {
			continue
		}
		exact[p.Name] = p
	}

	prefixes := make([]Policy, 0, len(exact))
	for _, p := range exact {
		prefixes = append(prefixes, p)
	}

	// Longest first; ties by name so the scan order is deterministic.
	sort.Slice(prefixes, func(i, j int) bool {
		if len(prefixes[i].Name) != len(prefixes[j].Name) {
			return len(prefixes[i].Name) > len(prefixes[j].Name)
		}
		return prefixes[i].Name < prefixes[j].Name
	})

	return &Resolver{
		def:      &def,
		exact:    exact,
		prefixes: prefixes,
	}
}

// Resolve returns the policy for path: exact match, then longest prefix,
// then the default.
func (r *Resolver) Resolve(path string) (Policy, error) {
	if r == nil {
		return Policy{}, ErrPolicyNotFound
	}

	if p, ok := r.exact[path]; ok {
		return p, nil
	}

	for _, p := range r.prefixes {
		if strings.HasPrefix(path, p.Name) {
			return p, nil
		}
	}

	if r.def == nil {
		return Policy{}, ErrPolicyNotFound
	}
	return *r.def, nil
}
