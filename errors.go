package main

import (
	"encoding/json"
	"net/http"

	"github.com/example/authgateway/internal/autherr"
)

// APIError represents a structured API error response
type APIError struct {
	Code    string `json:"error_code"`
	Message string `json:"error_message"`
	Details string `json:"details,omitempty"`
}

// writeError writes a structured error response
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeErrorDetails(w, status, code, message, "")
}

func writeErrorDetails(w http.ResponseWriter, status int, code, message, details string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(APIError{
		Code:    code,
		Message: message,
		Details: details,
	})
}

// deny is the terminal response for a request stopped by an interceptor.
// Token failures collapse into one generic 401. The authorizer has already
// logged the specific reason.
func (a *App) deny(w http.ResponseWriter, r *http.Request, err error) {
	e, ok := autherr.As(err)
	if !ok {
		a.log.Error().Err(err).Str("path", r.URL.Path).Msg("interceptor failed")
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Internal server error")
		return
	}

	switch {
	case autherr.IsTokenFailure(err):
		w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token"`)
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Invalid or expired token")
	case e.Kind == autherr.KindUnauthenticated:
		w.Header().Set("WWW-Authenticate", "Bearer")
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Authentication required")
	case e.Kind == autherr.KindForbidden:
		a.log.Info().Str("path", r.URL.Path).Err(err).Msg("access forbidden")
		writeError(w, http.StatusForbidden, "FORBIDDEN", "Access denied")
	case e.Kind == autherr.KindRateLimited:
		w.Header().Set("Retry-After", "60")
		writeError(w, e.Status, e.Code, "Rate limit exceeded")
	default:
		writeError(w, e.Status, e.Code, e.Message)
	}
}
