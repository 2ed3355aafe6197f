package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/example/authgateway/internal/autherr"
	"github.com/example/authgateway/internal/policy"
	"github.com/example/authgateway/internal/token"
)

type loginRequest struct {
	Username string `json:"username" validate:"required,max=64"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token     string    `json:"token"`
	TokenType string    `json:"tokenType"`
	ExpiresAt time.Time `json:"expiresAt"`
	Role      string    `json:"role,omitempty"`
}

type claimsResponse struct {
	Subject   string `json:"sub"`
	Role      string `json:"role,omitempty"`
	Issuer    string `json:"iss,omitempty"`
	IssuedAt  int64  `json:"iat"`
	ExpiresAt int64  `json:"exp"`
}

type validateResponse struct {
	Valid       bool           `json:"valid"`
	Claims      claimsResponse `json:"claims"`
	Authorities []string       `json:"authorities"`
}

func newClaimsResponse(c token.Claims) claimsResponse {
	return claimsResponse{
		Subject:   c.Subject,
		Role:      c.Role,
		Issuer:    c.Issuer,
		IssuedAt:  c.IssuedAt.Unix(),
		ExpiresAt: c.ExpiresAt.Unix(),
	}
}

// decodeJSON decodes and validates the request body into v, writing a 400 on failure.
func (a *App) decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid request body")
		return false
	}
	if err := a.validate.Struct(v); err != nil {
		writeErrorDetails(w, http.StatusBadRequest, "INVALID_REQUEST", "Request validation failed", err.Error())
		return false
	}
	return true
}

// HandleLogin exchanges credentials for a token
// POST /auth/login
func (a *App) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var in loginRequest
	if !a.decodeJSON(w, r, &in) {
		return
	}

	res, err := a.Auth.Login(r.Context(), in.Username, in.Password)
	if err != nil {
		if errors.Is(err, autherr.ErrInvalidCredentials) {
			writeError(w, http.StatusUnauthorized, "INVALID_CREDENTIALS", "Invalid username or password")
			return
		}
		a.log.Error().Err(err).Str("request_id", requestID(r.Context())).Msg("login failed")
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Internal server error")
		return
	}

	writeJSON(w, http.StatusOK, loginResponse{
		Token:     res.Token,
		TokenType: "Bearer",
		ExpiresAt: res.Claims.ExpiresAt.UTC(),
		Role:      res.Claims.Role,
	})
}

// HandleTokenValidate validates a token taken from the body, the
// Authorization header or the token query parameter
// POST|GET /auth/validate
func (a *App) HandleTokenValidate(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("token")
	if bearer, ok := policy.BearerToken(r); ok && raw == "" {
		raw = bearer
	}
	if raw == "" && r.Method == http.MethodPost && r.ContentLength != 0 {
		var in struct {
			Token string `json:"token"`
		}
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&in); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid request body")
			return
		}
		raw = in.Token
	}
	if raw == "" {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Token is required")
		return
	}

	res, err := a.Auth.Validate(raw)
	if err != nil {
		e, ok := autherr.As(err)
		if !ok {
			writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Internal server error")
			return
		}
		ev := a.log.Info()
		if e.Kind == autherr.KindInvalidSignature {
			ev = a.log.Warn().Bool("security", true)
		}
		ev.Str("request_id", requestID(r.Context())).Str("reason", string(e.Kind)).Err(err).Msg("token rejected")
		w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token"`)
		writeError(w, http.StatusUnauthorized, e.Code, e.Message)
		return
	}

	writeJSON(w, http.StatusOK, validateResponse{
		Valid:       true,
		Claims:      newClaimsResponse(res.Claims),
		Authorities: res.Authorities.Strings(),
	})
}

func (a *App) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (a *App) handleReady(w http.ResponseWriter, r *http.Request) {
	if p, ok := a.DB.(interface{ ping() bool }); ok && !p.ping() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]bool{"ready": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ready": true})
}

func (a *App) handleNotFound(w http.ResponseWriter, r *http.Request) {
	writeError(w, http.StatusNotFound, "NOT_FOUND", "Resource not found")
}

func (a *App) handleMethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed")
}
