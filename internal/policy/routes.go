// Package policy decides, per request, whether a caller may proceed.
//
// Requests pass through an ordered chain of interceptors before reaching a
// route handler. The Authorizer interceptor matches the request against a
// RoutePolicy: public routes pass untouched, everything else needs a valid
// bearer token whose authorities are attached to the request context for
// downstream checks such as RequireAuthority.
package policy

import (
	"errors"
	"fmt"
	"path"
	"slices"
	"strings"
)

// Requirement is what a route demands from the caller.
type Requirement int

const (
	Authenticated Requirement = iota
	Public
)

func (r Requirement) String() string {
	switch r {
	case Public:
		return "PUBLIC"
	case Authenticated:
		return "AUTHENTICATED"
	}
	return fmt.Sprintf("Requirement(%d)", int(r))
}

// CatchAll matches every path.
const CatchAll = "/**"

// Rule binds a path pattern to a requirement. A pattern is either an exact
// path ("/auth/login") or a subtree ("/actuator/**", matching "/actuator" and
// everything below it). Methods restricts the rule; empty means any method.
type Rule struct {
	Pattern     string
	Methods     []string
	Requirement Requirement
}

// PermitAll returns a Public rule for pattern.
func PermitAll(pattern string, methods ...string) Rule {
	return Rule{Pattern: pattern, Methods: methods, Requirement: Public}
}

// RequireAuth returns an Authenticated rule for pattern.
func RequireAuth(pattern string, methods ...string) Rule {
	return Rule{Pattern: pattern, Methods: methods, Requirement: Authenticated}
}

func (r Rule) matches(method, p string) bool {
	if len(r.Methods) > 0 && !slices.Contains(r.Methods, method) {
		return false
	}
	if r.Pattern == CatchAll {
		return true
	}
	if base, ok := strings.CutSuffix(r.Pattern, "/**"); ok {
		return p == base || strings.HasPrefix(p, base+"/")
	}
	return p == r.Pattern
}

func (r Rule) String() string {
	if len(r.Methods) == 0 {
		return r.Pattern + " " + r.Requirement.String()
	}
	return strings.Join(r.Methods, ",") + " " + r.Pattern + " " + r.Requirement.String()
}

var (
	ErrCatchAllNotLast = errors.New("policy: catch-all rule must be the last rule")
	ErrPublicCatchAll  = errors.New("policy: catch-all rule must require authentication")
)

// RoutePolicy is an ordered rule list evaluated first-match. Its last rule is
// always the authenticated catch-all.
type RoutePolicy struct {
	rules []Rule
}

// NewRoutePolicy validates rules and appends the authenticated catch-all
// when the list does not already end with it.
func NewRoutePolicy(rules ...Rule) (RoutePolicy, error) {
	out := make([]Rule, 0, len(rules)+1)
	for i, r := range rules {
		if err := validatePattern(r.Pattern); err != nil {
			return RoutePolicy{}, err
		}
		if r.Pattern == CatchAll && len(r.Methods) == 0 {
			if i != len(rules)-1 {
				return RoutePolicy{}, ErrCatchAllNotLast
			}
			if r.Requirement != Authenticated {
				return RoutePolicy{}, ErrPublicCatchAll
			}
		}
		out = append(out, r)
	}
	if n := len(out); n == 0 || out[n-1].Pattern != CatchAll || len(out[n-1].Methods) > 0 {
		out = append(out, RequireAuth(CatchAll))
	}
	return RoutePolicy{rules: out}, nil
}

// MustRoutePolicy is NewRoutePolicy for static rule sets.
func MustRoutePolicy(rules ...Rule) RoutePolicy {
	p, err := NewRoutePolicy(rules...)
	if err != nil {
		panic(err)
	}
	return p
}

func validatePattern(p string) error {
	if !strings.HasPrefix(p, "/") {
		return fmt.Errorf("policy: pattern %q must start with /", p)
	}
	if i := strings.Index(p, "**"); i >= 0 && !strings.HasSuffix(p, "/**") {
		return fmt.Errorf("policy: pattern %q may only use ** as a trailing /** segment", p)
	}
	if strings.Count(p, "**") > 1 {
		return fmt.Errorf("policy: pattern %q has more than one **", p)
	}
	return nil
}

// Match returns the first rule matching method and path. The result is never
// empty because the catch-all matches everything.
func (p RoutePolicy) Match(method, urlPath string) Rule {
	clean := cleanPath(urlPath)
	for _, r := range p.rules {
		if r.matches(method, clean) {
			return r
		}
	}
	return RequireAuth(CatchAll)
}

// Rules returns a copy of the ordered rules.
func (p RoutePolicy) Rules() []Rule { return slices.Clone(p.rules) }

func cleanPath(p string) string {
	if p == "" {
		return "/"
	}
	if p[0] != '/' {
		p = "/" + p
	}
	return path.Clean(p)
}

// DefaultPublicRoutes are the login/validate endpoints plus operator-facing
// diagnostics and documentation.
var DefaultPublicRoutes = []string{
	"/auth/login",
	"/auth/validate",
	"/health",
	"/ready",
	"/h2-console/**",
	"/swagger-ui/**",
	"/v3/api-docs/**",
	"/actuator/**",
}

// DefaultRules turns DefaultPublicRoutes plus extra into PermitAll rules.
func DefaultRules(extra ...string) []Rule {
	rules := make([]Rule, 0, len(DefaultPublicRoutes)+len(extra))
	for _, p := range append(slices.Clone(DefaultPublicRoutes), extra...) {
		rules = append(rules, PermitAll(p))
	}
	return rules
}

