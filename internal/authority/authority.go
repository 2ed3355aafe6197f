// Package authority turns token claims into normalized authority tags.
package authority

import (
	"slices"
	"strings"

	"github.com/example/authgateway/internal/token"
)

const (
	DefaultClaim  = "role"
	DefaultPrefix = "ROLE_"
)

// Authority is a normalized permission tag such as ROLE_ADMIN.
type Authority string

// Set is an immutable set of authorities.
type Set struct {
	items map[Authority]struct{}
}

// NewSet builds a Set from the given authorities.
func NewSet(as ...Authority) Set {
	s := Set{items: make(map[Authority]struct{}, len(as))}
	for _, a := range as {
		s.items[a] = struct{}{}
	}
	return s
}

func (s Set) Has(a Authority) bool {
	_, ok := s.items[a]
	return ok
}

func (s Set) Len() int { return len(s.items) }

// Strings returns the authorities sorted.
func (s Set) Strings() []string {
	out := make([]string, 0, len(s.items))
	for a := range s.items {
		out = append(out, string(a))
	}
	slices.Sort(out)
	return out
}

// Mapper reads one claim and prefixes each of its values.
type Mapper struct {
	claim  string
	prefix string
}

// NewMapper returns a Mapper reading claim and prefixing with prefix.
// An empty claim falls back to DefaultClaim; prefix is used as given.
func NewMapper(claim, prefix string) Mapper {
	if claim == "" {
		claim = DefaultClaim
	}
	return Mapper{claim: claim, prefix: prefix}
}

// Default returns the role -> ROLE_ mapper.
func Default() Mapper { return NewMapper(DefaultClaim, DefaultPrefix) }

// Map derives the authority set for c. A missing claim yields an empty set.
func (m Mapper) Map(c token.Claims) Set {
	v, ok := c.Custom[m.claim]
	if !ok && m.claim == DefaultClaim {
		v, ok = c.Role, c.Role != ""
	}
	if !ok {
		return NewSet()
	}

	var values []string
	switch r := v.(type) {
	case string:
		values = strings.Split(r, ",")
	case []string:
		values = r
	case []any:
		for _, e := range r {
			if s, ok := e.(string); ok {
				values = append(values, s)
			}
		}
	}

	out := make([]Authority, 0, len(values))
	for _, val := range values {
		val = strings.TrimSpace(val)
		if val == "" {
			continue
		}
		out = append(out, Authority(m.prefix+val))
	}
	return NewSet(out...)
}
