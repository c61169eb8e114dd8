package auth

import (
	"net/http"
	"strings"
)

type routeRule struct {
	prefix string
	suffix string
	// roles by method; "" is the fallback for unlisted methods.
	roles map[string]Role
}

var facadeRoutes = []routeRule{
	{prefix: "/api/v1/alerts", roles: map[string]Role{"": RoleViewer}},
	{prefix: "/api/v1/facades/", suffix: "/latest", roles: map[string]Role{
		http.MethodDelete: RoleAdmin,
		"":                RoleViewer,
	}},
	{prefix: "/api/v1/facades/", roles: map[string]Role{"": RoleViewer}},
}

// Policy maps requests to the minimum role they need.
type Policy struct {
	ExemptPaths    map[string]struct{}
	ExemptPrefixes []string
	rules          []routeRule
}

// NewDefaultPolicy returns the facade API policy with the given paths and
// prefixes left unauthenticated.
func NewDefaultPolicy(exemptPaths []string, exemptPrefixes []string) Policy {
	exempt := make(map[string]struct{}, len(exemptPaths))
	for _, path := range exemptPaths {
		exempt[path] = struct{}{}
	}
	return Policy{ExemptPaths: exempt, ExemptPrefixes: exemptPrefixes, rules: facadeRoutes}
}

// IsExempt reports whether r bypasses token checks entirely.
func (p Policy) IsExempt(r *http.Request) bool {
	if r == nil {
		return true
	}
	path := r.URL.Path
	if _, ok := p.ExemptPaths[path]; ok {
		return true
	}
	for _, prefix := range p.ExemptPrefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

// RequiredRole returns the role r needs. The second result is false for
// paths outside /api/, which are served without a token.
func (p Policy) RequiredRole(r *http.Request) (Role, bool) {
	if r == nil {
		return "", false
	}
	path := r.URL.Path
	for _, rule := range p.rules {
		if !strings.HasPrefix(path, rule.prefix) || !strings.HasSuffix(path, rule.suffix) {
			continue
		}
		if role, ok := rule.roles[r.Method]; ok {
			return role, true
		}
		return rule.roles[""], true
	}
	if !strings.HasPrefix(path, "/api/") {
		return "", false
	}
	switch r.Method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return RoleViewer, true
	default:
		return RoleOperator, true
	}
}
