package gateway

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// RouteRule maps a path prefix to a logical service.
type RouteRule struct {
	// PathPrefix may be written "/user", "/user/" or "/user/**".
	PathPrefix string `yaml:"path_prefix" mapstructure:"path_prefix"`

	TargetServiceName string `yaml:"target_service" mapstructure:"target_service"`

	// StripPrefixSegments drops this many leading path segments before forwarding.
	StripPrefixSegments int `yaml:"strip_prefix_segments" mapstructure:"strip_prefix_segments"`
}

// RouteTable is an immutable set of rules matched by longest prefix.
type RouteTable struct {
	rules []compiledRule // longest prefix first
}

type compiledRule struct {
	prefix   string   // normalized: leading slash, no trailing slash, "/" for catch-all
	segments []string // prefix split on "/", empty for catch-all
	rule     RouteRule
}

// NewRouteTable validates and normalizes rules. Empty prefixes, missing
// targets, negative strip counts and prefixes that normalize to the same
// value are rejected.
func NewRouteTable(rules []RouteRule) (*RouteTable, error) {
	seen := make(map[string]string, len(rules))
	compiled := make([]compiledRule, 0, len(rules))
	for i, r := range rules {
		prefix, err := normalizePrefix(r.PathPrefix)
		if err != nil {
			return nil, fmt.Errorf("route %d: %w", i, err)
		}
		if strings.TrimSpace(r.TargetServiceName) == "" {
			return nil, fmt.Errorf("route %d (%s): target service is required", i, r.PathPrefix)
		}
		if r.StripPrefixSegments < 0 {
			return nil, fmt.Errorf("route %d (%s): strip_prefix_segments must be >= 0", i, r.PathPrefix)
		}
		if prev, dup := seen[prefix]; dup {
			return nil, fmt.Errorf("route %d: prefix %q duplicates %q", i, r.PathPrefix, prev)
		}
		seen[prefix] = r.PathPrefix
		compiled = append(compiled, compiledRule{prefix: prefix, segments: splitSegments(prefix), rule: r})
	}

	sort.SliceStable(compiled, func(i, j int) bool {
		return len(compiled[i].prefix) > len(compiled[j].prefix)
	})
	return &RouteTable{rules: compiled}, nil
}

// Match returns the rule with the longest prefix that matches path on a
// segment boundary: "/user" matches "/user" and "/user/5" but not "/users".
func (t *RouteTable) Match(path string) (RouteRule, error) {
	if path == "" {
		path = "/"
	}
	for _, c := range t.rules {
		if matches(c.prefix, path) {
			return c.rule, nil
		}
	}
	return RouteRule{}, &RouteNotFoundError{Path: path}
}

// MatchEscaped matches an escaped request path (url.URL.EscapedPath)
// segment by segment. Segments are decoded before comparison, but an
// encoded slash stays inside its segment: "/product%2Fhello" is one
// segment and does not match "/product". StripSegments on the same escaped
// path then removes exactly the segments that were matched.
func (t *RouteTable) MatchEscaped(rawPath string) (RouteRule, error) {
	segs := splitSegments(rawPath)
	for i, seg := range segs {
		if dec, err := url.PathUnescape(seg); err == nil {
			segs[i] = dec
		}
	}
	for _, c := range t.rules {
		if hasSegments(segs, c.segments) {
			return c.rule, nil
		}
	}
	return RouteRule{}, &RouteNotFoundError{Path: rawPath}
}

// Rules returns the rules in match order.
func (t *RouteTable) Rules() []RouteRule {
	out := make([]RouteRule, len(t.rules))
	for i, c := range t.rules {
		out[i] = c.rule
	}
	return out
}

// Len returns the number of rules.
func (t *RouteTable) Len() int { return len(t.rules) }

func matches(prefix, path string) bool {
	if prefix == "/" {
		return true
	}
	if !strings.HasPrefix(path, prefix) {
		return false
	}
	return len(path) == len(prefix) || path[len(prefix)] == '/'
}

func splitSegments(path string) []string {
	path = strings.TrimPrefix(path, "/")
	if path == "" {
		return nil
	}
	return strings.Split(path, "/")
}

func hasSegments(path, prefix []string) bool {
	if len(prefix) > len(path) {
		return false
	}
	for i := range prefix {
		if path[i] != prefix[i] {
			return false
		}
	}
	return true
}

func normalizePrefix(p string) (string, error) {
	p = strings.TrimSpace(p)
	if p == "" {
		return "", fmt.Errorf("path prefix is required")
	}
	p = strings.TrimSuffix(p, "**")
	if strings.Contains(p, "*") {
		return "", fmt.Errorf("path prefix %q: only a trailing /** wildcard is supported", p)
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	p = strings.TrimRight(p, "/")
	if p == "" {
		return "/", nil
	}
	return p, nil
}

// StripSegments removes the first n segments of path. The result always
// starts with "/"; a trailing slash survives when segments remain.
//
//	StripSegments("/user/admin/5", 1) == "/admin/5"
//	StripSegments("/user", 1)         == "/"
func StripSegments(path string, n int) string {
	if n <= 0 {
		if path == "" {
			return "/"
		}
		return path
	}
	rest := strings.TrimPrefix(path, "/")
	for range n {
		i := strings.IndexByte(rest, '/')
		if i < 0 {
			return "/"
		}
		rest = rest[i+1:]
	}
	return "/" + rest
}
