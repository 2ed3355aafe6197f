// Package autherr classifies authentication and authorization failures.
//
// Every failure the gateway can produce maps to one Kind. The kind decides the
// HTTP status and the error code written to clients, while the wrapped cause
// is kept for logs only.
package autherr

import (
	"errors"
	"net/http"
)

// Kind names a class of failure.
type Kind string

const (
	KindInvalidCredentials Kind = "InvalidCredentials"
	KindMalformed          Kind = "Malformed"
	KindInvalidSignature   Kind = "InvalidSignature"
	KindExpired            Kind = "Expired"
	KindNotYetValid        Kind = "NotYetValid"
	KindUnauthenticated    Kind = "Unauthenticated"
	KindForbidden          Kind = "Forbidden"
	KindRateLimited        Kind = "RateLimited"
)

// Error is a classified failure. The sentinels below are the only instances;
// callers wrap them with fmt.Errorf("...: %w", autherr.ErrExpired).
type Error struct {
	Kind    Kind
	Code    string
	Status  int
	Message string
}

func (e *Error) Error() string { return e.Message }

var (
	ErrInvalidCredentials = &Error{KindInvalidCredentials, "INVALID_CREDENTIALS", http.StatusUnauthorized, "invalid username or password"}
	ErrMalformed          = &Error{KindMalformed, "MALFORMED_TOKEN", http.StatusUnauthorized, "token is malformed"}
	ErrInvalidSignature   = &Error{KindInvalidSignature, "INVALID_SIGNATURE", http.StatusUnauthorized, "token signature is invalid"}
	ErrExpired            = &Error{KindExpired, "TOKEN_EXPIRED", http.StatusUnauthorized, "token has expired"}
	ErrNotYetValid        = &Error{KindNotYetValid, "TOKEN_NOT_YET_VALID", http.StatusUnauthorized, "token is not valid yet"}
	ErrUnauthenticated    = &Error{KindUnauthenticated, "UNAUTHORIZED", http.StatusUnauthorized, "authentication required"}
	ErrForbidden          = &Error{KindForbidden, "FORBIDDEN", http.StatusForbidden, "insufficient authority"}
	ErrRateLimited        = &Error{KindRateLimited, "RATE_LIMITED", http.StatusTooManyRequests, "too many requests"}
)

// As returns the classified error inside err, if any.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// KindOf returns the kind of err, or "" when err is not classified.
func KindOf(err error) Kind {
	if e, ok := As(err); ok {
		return e.Kind
	}
	return ""
}

// IsTokenFailure reports whether err came from token validation.
func IsTokenFailure(err error) bool {
	switch KindOf(err) {
	case KindMalformed, KindInvalidSignature, KindExpired, KindNotYetValid:
		return true
	}
	return false
}
