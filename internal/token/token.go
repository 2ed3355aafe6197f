// Package token issues and validates HS256-signed JSON Web Tokens.
//
// A Codec is built once from an immutable Config and is safe for concurrent
// use. Validation is a pure computation: it never touches the network or disk
// and every failure is classified with an autherr sentinel.
package token

import (
	"errors"
	"fmt"
	"maps"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/example/authgateway/internal/autherr"
)

// MinSecretBytes is the shortest accepted HMAC-SHA256 secret (256 bits).
const MinSecretBytes = 32

const (
	DefaultTTL       = time.Hour
	DefaultRoleClaim = "role"
)

var (
	ErrWeakSecret  = fmt.Errorf("token: secret must be at least %d bytes", MinSecretBytes)
	ErrNegativeTTL = errors.New("token: ttl must not be negative")
)

// Config holds the signing parameters. It is copied by NewCodec.
type Config struct {
	Secret    []byte
	TTL       time.Duration
	Skew      time.Duration
	RoleClaim string
	Issuer    string
}

// Claims is the decoded content of a valid token.
// Custom holds every claim as decoded from JSON, including the registered ones.
type Claims struct {
	Subject   string
	Role      string
	Issuer    string
	IssuedAt  time.Time
	ExpiresAt time.Time
	Custom    map[string]any
}

// Codec signs and verifies tokens with a single shared secret.
type Codec struct {
	cfg    Config
	now    func() time.Time
	parser *jwt.Parser
}

// Option configures a Codec.
type Option func(*Codec)

// WithClock replaces time.Now for issuing and validating.
func WithClock(now func() time.Time) Option {
	return func(c *Codec) {
		if now != nil {
			c.now = now
		}
	}
}

func NewCodec(cfg Config, opts ...Option) (*Codec, error) {
	if len(cfg.Secret) < MinSecretBytes {
		return nil, ErrWeakSecret
	}
	if cfg.TTL < 0 {
		return nil, ErrNegativeTTL
	}
	if cfg.Skew < 0 {
		cfg.Skew = 0
	}
	if cfg.RoleClaim == "" {
		cfg.RoleClaim = DefaultRoleClaim
	}
	cfg.Secret = append([]byte(nil), cfg.Secret...)

	c := &Codec{cfg: cfg, now: time.Now}
	for _, opt := range opts {
		opt(c)
	}

	popts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithStrictDecoding(),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(c.now),
	}
	if cfg.Issuer != "" {
		popts = append(popts, jwt.WithIssuer(cfg.Issuer))
	}
	c.parser = jwt.NewParser(popts...)
	return c, nil
}

// TTL returns the lifetime given to issued tokens.
func (c *Codec) TTL() time.Duration { return c.cfg.TTL }

// RoleClaim returns the claim name the role is written under.
func (c *Codec) RoleClaim() string { return c.cfg.RoleClaim }

// Issue signs a fresh token for subject carrying role.
func (c *Codec) Issue(subject, role string) (string, Claims, error) {
	if subject == "" {
		return "", Claims{}, errors.New("token: subject is required")
	}
	now := c.now().Truncate(time.Second)
	exp := now.Add(c.cfg.TTL)

	mc := jwt.MapClaims{
		"sub": subject,
		"iat": jwt.NewNumericDate(now),
		"exp": jwt.NewNumericDate(exp),
	}
	if role != "" {
		mc[c.cfg.RoleClaim] = role
	}
	if c.cfg.Issuer != "" {
		mc["iss"] = c.cfg.Issuer
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, mc).SignedString(c.cfg.Secret)
	if err != nil {
		return "", Claims{}, fmt.Errorf("token: sign: %w", err)
	}

	custom := map[string]any{
		"sub": subject,
		"iat": float64(now.Unix()),
		"exp": float64(exp.Unix()),
	}
	if role != "" {
		custom[c.cfg.RoleClaim] = role
	}
	if c.cfg.Issuer != "" {
		custom["iss"] = c.cfg.Issuer
	}
	return signed, Claims{
		Subject:   subject,
		Role:      role,
		Issuer:    c.cfg.Issuer,
		IssuedAt:  now,
		ExpiresAt: exp,
		Custom:    custom,
	}, nil
}

// Validate verifies raw and returns its claims. Errors wrap one of
// autherr.ErrMalformed, ErrInvalidSignature, ErrExpired or ErrNotYetValid.
func (c *Codec) Validate(raw string) (Claims, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Claims{}, fmt.Errorf("%w: empty token", autherr.ErrMalformed)
	}

	tok, err := c.parser.Parse(raw, c.keyFunc)
	if err != nil {
		return Claims{}, classify(err)
	}
	mc, ok := tok.Claims.(jwt.MapClaims)
	if !ok || !tok.Valid {
		return Claims{}, fmt.Errorf("%w: unexpected claims", autherr.ErrMalformed)
	}

	sub, err := mc.GetSubject()
	if err != nil || sub == "" {
		return Claims{}, fmt.Errorf("%w: missing subject", autherr.ErrMalformed)
	}
	iat, err := mc.GetIssuedAt()
	if err != nil || iat == nil {
		return Claims{}, fmt.Errorf("%w: missing issued-at", autherr.ErrMalformed)
	}
	// Skew only widens the issued-at check; exp is never extended.
	if c.now().Add(c.cfg.Skew).Before(iat.Time) {
		return Claims{}, fmt.Errorf("%w: issued at %s", autherr.ErrNotYetValid, iat.Time.UTC().Format(time.RFC3339))
	}
	exp, err := mc.GetExpirationTime()
	if err != nil || exp == nil {
		return Claims{}, fmt.Errorf("%w: missing expiry", autherr.ErrMalformed)
	}
	iss, _ := mc.GetIssuer()

	return Claims{
		Subject:   sub,
		Role:      roleString(mc[c.cfg.RoleClaim]),
		Issuer:    iss,
		IssuedAt:  iat.Time,
		ExpiresAt: exp.Time,
		Custom:    maps.Clone(map[string]any(mc)),
	}, nil
}

func (c *Codec) keyFunc(t *jwt.Token) (any, error) {
	if t.Method.Alg() != jwt.SigningMethodHS256.Alg() {
		return nil, fmt.Errorf("unexpected signing method: %s", t.Method.Alg())
	}
	return c.cfg.Secret, nil
}

func classify(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
		return fmt.Errorf("%w: %w", autherr.ErrInvalidSignature, err)
	case errors.Is(err, jwt.ErrTokenExpired):
		return fmt.Errorf("%w: %w", autherr.ErrExpired, err)
	case errors.Is(err, jwt.ErrTokenNotValidYet), errors.Is(err, jwt.ErrTokenUsedBeforeIssued):
		return fmt.Errorf("%w: %w", autherr.ErrNotYetValid, err)
	default:
		return fmt.Errorf("%w: %w", autherr.ErrMalformed, err)
	}
}

func roleString(v any) string {
	switch r := v.(type) {
	case string:
		return r
	case []any:
		parts := make([]string, 0, len(r))
		for _, p := range r {
			if s, ok := p.(string); ok {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, ",")
	}
	return ""
}
