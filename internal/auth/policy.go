package auth

import (
	"net/http"
	"path"
	"strings"
)

// Access is the requirement a route places on the caller.
type Access int

const (
	// AccessAuthenticated requires a valid principal of any role.
	AccessAuthenticated Access = iota
	// AccessPublic bypasses authentication entirely.
	AccessPublic
	// AccessAdmin requires a valid principal with the ADMIN role.
	AccessAdmin
)

func (a Access) String() string {
	switch a {
	case AccessPublic:
		return "public"
	case AccessAdmin:
		return "admin"
	default:
		return "authenticated"
	}
}

// Rule maps a method and path pattern to an access level. Method "" or "*"
// matches any method. In Pattern, "{name}" matches one segment and a final
// "**" matches any remainder, including nothing.
type Rule struct {
	Method  string
	Pattern string
	Access  Access
}

type compiledRule struct {
	method   string
	segments []string
	access   Access
}

// Policy is an ordered, immutable route policy table. The first matching
// rule wins; unmatched routes require authentication.
type Policy struct {
	rules []compiledRule
}

// NewPolicy compiles rules in order.
func NewPolicy(rules ...Rule) *Policy {
	p := &Policy{rules: make([]compiledRule, 0, len(rules))}
	for _, r := range rules {
		method := strings.ToUpper(strings.TrimSpace(r.Method))
		if method == "" {
			method = "*"
		}
		p.rules = append(p.rules, compiledRule{
			method:   method,
			segments: splitPath(r.Pattern),
			access:   r.Access,
		})
	}
	return p
}

// DefaultRules is the marketplace route table. Admin prefixes come first so
// that "/api/pub/admin" is never mistaken for a public publication id.
func DefaultRules() []Rule {
	return []Rule{
		{Method: "*", Pattern: "/api/admin/**", Access: AccessAdmin},
		{Method: "*", Pattern: "/api/pub/admin/**", Access: AccessAdmin},

		{Method: http.MethodPost, Pattern: "/api/auth/login", Access: AccessPublic},
		{Method: http.MethodPost, Pattern: "/api/users", Access: AccessPublic},
		{Method: http.MethodGet, Pattern: "/api/pub", Access: AccessPublic},
		{Method: http.MethodGet, Pattern: "/api/pub/page", Access: AccessPublic},
		{Method: http.MethodGet, Pattern: "/api/pub/files/**", Access: AccessPublic},
		{Method: http.MethodGet, Pattern: "/api/pub/{id}", Access: AccessPublic},

		{Method: http.MethodGet, Pattern: "/healthz", Access: AccessPublic},
		{Method: http.MethodGet, Pattern: "/readyz", Access: AccessPublic},
		{Method: http.MethodGet, Pattern: "/metrics", Access: AccessPublic},
		{Method: http.MethodGet, Pattern: "/v1/info", Access: AccessPublic},
		{Method: http.MethodOptions, Pattern: "/**", Access: AccessPublic},
	}
}

// DefaultPolicy compiles DefaultRules.
func DefaultPolicy() *Policy {
	return NewPolicy(DefaultRules()...)
}

// Decide returns the access level for a request.
func (p *Policy) Decide(method, requestPath string) Access {
	method = strings.ToUpper(method)
	if method == http.MethodHead {
		method = http.MethodGet
	}
	segments := splitPath(path.Clean("/" + requestPath))
	for _, rule := range p.rules {
		if rule.method != "*" && rule.method != method {
			continue
		}
		if matchSegments(rule.segments, segments) {
			return rule.access
		}
	}
	return AccessAuthenticated
}

func splitPath(p string) []string {
	p = strings.Trim(p, "/")
	if p == "" {
		return nil
	}
	return strings.Split(p, "/")
}

func matchSegments(pattern, segments []string) bool {
	for i, seg := range pattern {
		if seg == "**" && i == len(pattern)-1 {
			return true
		}
		if i >= len(segments) {
			return false
		}
		if strings.HasPrefix(seg, "{") && strings.HasSuffix(seg, "}") {
			continue
		}
		if seg != segments[i] {
			return false
		}
	}
	return len(pattern) == len(segments)
}
