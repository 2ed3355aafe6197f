package policy

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"github.com/example/authgateway/internal/autherr"
	"github.com/example/authgateway/internal/authority"
	"github.com/example/authgateway/internal/token"
)

// TokenValidator verifies a raw bearer token.
type TokenValidator interface {
	Validate(raw string) (token.Claims, error)
}

// MapFunc derives authorities from validated claims.
type MapFunc func(token.Claims) authority.Set

// Principal is the authenticated caller of one request.
type Principal struct {
	Subject     string
	Role        string
	Authorities authority.Set
	Claims      token.Claims
}

type ctxKey int

const principalKey ctxKey = 1

// WithPrincipal attaches p to ctx.
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

// PrincipalFrom returns the principal attached by the Authorizer.
func PrincipalFrom(ctx context.Context) (*Principal, bool) {
	p, ok := ctx.Value(principalKey).(*Principal)
	return p, ok && p != nil
}

// BearerToken extracts the token from an "Authorization: Bearer" header.
// present is false when the request carries no bearer credential at all.
func BearerToken(r *http.Request) (tok string, present bool) {
	h := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(h) < len("Bearer") || !strings.EqualFold(h[:len("Bearer")], "Bearer") {
		return "", false
	}
	rest := h[len("Bearer"):]
	if rest != "" && rest[0] != ' ' {
		return "", false
	}
	return strings.TrimSpace(rest), true
}

// Decision is the outcome of authorizing one request.
type Decision struct {
	Allowed   bool
	Rule      Rule
	Principal *Principal
	Err       error
}

// Authorizer enforces a RoutePolicy using a token validator and an
// authority mapping function.
type Authorizer struct {
	policy    RoutePolicy
	validator TokenValidator
	mapFn     MapFunc
	log       zerolog.Logger
}

func NewAuthorizer(p RoutePolicy, v TokenValidator, mapFn MapFunc, log zerolog.Logger) *Authorizer {
	return &Authorizer{
		policy:    p,
		validator: v,
		mapFn:     mapFn,
		log:       log.With().Str("component", "authorizer").Logger(),
	}
}

// Decide authorizes r without side effects on the request.
func (a *Authorizer) Decide(r *http.Request) Decision {
	rule := a.policy.Match(r.Method, r.URL.Path)
	if rule.Requirement == Public {
		return Decision{Allowed: true, Rule: rule}
	}

	raw, present := BearerToken(r)
	if !present {
		return Decision{Rule: rule, Err: autherr.ErrUnauthenticated}
	}
	claims, err := a.validator.Validate(raw)
	if err != nil {
		return Decision{Rule: rule, Err: err}
	}
	return Decision{
		Allowed: true,
		Rule:    rule,
		Principal: &Principal{
			Subject:     claims.Subject,
			Role:        claims.Role,
			Authorities: a.mapFn(claims),
			Claims:      claims,
		},
	}
}

// Intercept is the Interceptor form of Decide. On success the principal, if
// any, is attached to the returned request's context.
func (a *Authorizer) Intercept(r *http.Request) (*http.Request, error) {
	d := a.Decide(r)
	if !d.Allowed {
		a.logDenied(r, d)
		return nil, d.Err
	}
	if d.Principal == nil {
		return r, nil
	}
	a.log.Debug().
		Str("method", r.Method).
		Str("path", r.URL.Path).
		Str("subject", d.Principal.Subject).
		Strs("authorities", d.Principal.Authorities.Strings()).
		Msg("request authorized")
	return r.WithContext(WithPrincipal(r.Context(), d.Principal)), nil
}

func (a *Authorizer) logDenied(r *http.Request, d Decision) {
	ev := a.log.Info()
	if autherr.KindOf(d.Err) == autherr.KindInvalidSignature {
		ev = a.log.Warn().Bool("security", true)
	}
	ev.Str("method", r.Method).
		Str("path", r.URL.Path).
		Str("rule", d.Rule.String()).
		Str("reason", string(autherr.KindOf(d.Err))).
		Str("remote", r.RemoteAddr).
		Err(d.Err).
		Msg("request denied")
}

// RequireAuthority returns an Interceptor that admits only principals holding
// want. It consults nothing but the authority set attached by the Authorizer.
func RequireAuthority(want authority.Authority) Interceptor {
	return func(r *http.Request) (*http.Request, error) {
		p, ok := PrincipalFrom(r.Context())
		if !ok {
			return nil, autherr.ErrUnauthenticated
		}
		if !p.Authorities.Has(want) {
			return nil, fmt.Errorf("%w: %s lacks %s", autherr.ErrForbidden, p.Subject, want)
		}
		return r, nil
	}
}
