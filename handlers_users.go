package main

import (
	"errors"
	"net/http"
	"time"

	"github.com/example/authgateway/internal/auth"
	"github.com/example/authgateway/internal/autherr"
	"github.com/example/authgateway/internal/policy"
)

type userResponse struct {
	ID        int64     `json:"id"`
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"createdAt"`
}

func newUserResponse(u *auth.User) userResponse {
	return userResponse{ID: u.ID, Username: u.Username, Role: u.Role, CreatedAt: u.CreatedAt.UTC()}
}

// HandleMe returns the authenticated caller
// GET /api/me
func (a *App) HandleMe(w http.ResponseWriter, r *http.Request) {
	p, ok := policy.PrincipalFrom(r.Context())
	if !ok {
		a.deny(w, r, autherr.ErrUnauthenticated)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"username":    p.Subject,
		"role":        p.Role,
		"authorities": p.Authorities.Strings(),
		"expiresAt":   p.Claims.ExpiresAt.UTC(),
	})
}

// HandleListUsers lists all users
// GET /api/admin/users
func (a *App) HandleListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := a.Auth.Users(r.Context())
	if err != nil {
		a.log.Error().Err(err).Str("request_id", requestID(r.Context())).Msg("list users")
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to list users")
		return
	}
	out := make([]userResponse, 0, len(users))
	for _, u := range users {
		out = append(out, newUserResponse(u))
	}
	writeJSON(w, http.StatusOK, map[string]any{"users": out})
}

type createUserRequest struct {
	Username string `json:"username" validate:"required,min=3,max=64"`
	Password string `json:"password" validate:"required,min=6,max=72"`
	Role     string `json:"role" validate:"required,alphanum,max=32"`
}

// HandleCreateUser registers a new user
// POST /api/admin/users
func (a *App) HandleCreateUser(w http.ResponseWriter, r *http.Request) {
	var in createUserRequest
	if !a.decodeJSON(w, r, &in) {
		return
	}

	u, err := a.Auth.Register(r.Context(), in.Username, in.Password, in.Role)
	switch {
	case errors.Is(err, auth.ErrUserExists):
		writeError(w, http.StatusConflict, "USER_EXISTS", "User with this username already exists")
		return
	case errors.Is(err, auth.ErrInvalidUser):
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	case err != nil:
		a.log.Error().Err(err).Str("request_id", requestID(r.Context())).Msg("create user")
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to create user")
		return
	}
	writeJSON(w, http.StatusCreated, newUserResponse(u))
}
