package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/example/authgateway/internal/auth"
	cfg "github.com/example/authgateway/internal/config"
)

func testConfig() *cfg.Config {
	return &cfg.Config{
		DBAdapter:          "memory",
		JwtSecret:          "0123456789abcdef0123456789abcdef",
		JwtTTL:             time.Hour,
		RoleClaim:          "role",
		AuthorityPrefix:    "ROLE_",
		BcryptCost:         bcrypt.MinCost,
		LoginRatePerMinute: 1000,
	}
}

func newTestApp(t *testing.T, c *cfg.Config) (*App, http.Handler) {
	t.Helper()
	app, err := NewApp(c, NewMemoryDB(), zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, app.Auth.Seed(context.Background(), auth.DefaultSeed))
	return app, app.Router()
}

func do(t *testing.T, h http.Handler, method, path, bearer string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func login(t *testing.T, h http.Handler, username, pw string) string {
	t.Helper()
	rec := do(t, h, http.MethodPost, "/auth/login", "", map[string]string{"username": username, "password": pw})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	return decode[loginResponse](t, rec).Token
}

func alterLast(s string) string {
	if s[len(s)-1] == 'A' {
		return s[:len(s)-1] + "B"
	}
	return s[:len(s)-1] + "A"
}

func TestLoginValidateScenario(t *testing.T) {
	_, h := newTestApp(t, testConfig())

	rec := do(t, h, http.MethodPost, "/auth/login", "", map[string]string{"username": "admin", "password": "123456"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	lr := decode[loginResponse](t, rec)
	require.NotEmpty(t, lr.Token)
	assert.Equal(t, "Bearer", lr.TokenType)
	assert.Equal(t, "ADMIN", lr.Role)

	rec = do(t, h, http.MethodPost, "/auth/validate", "", map[string]string{"token": lr.Token})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	vr := decode[validateResponse](t, rec)
	assert.True(t, vr.Valid)
	assert.Equal(t, "admin", vr.Claims.Subject)
	assert.Equal(t, "ADMIN", vr.Claims.Role)
	assert.Equal(t, []string{"ROLE_ADMIN"}, vr.Authorities)
	assert.Equal(t, vr.Claims.IssuedAt+3600, vr.Claims.ExpiresAt)

	rec = do(t, h, http.MethodPost, "/auth/login", "", map[string]string{"username": "admin", "password": "wrongpass"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "INVALID_CREDENTIALS", decode[APIError](t, rec).Code)

	rec = do(t, h, http.MethodPost, "/auth/validate", "", map[string]string{"token": alterLast(lr.Token)})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	code := decode[APIError](t, rec).Code
	assert.Contains(t, []string{"INVALID_SIGNATURE", "MALFORMED_TOKEN"}, code)
}

func TestLoginUnknownUserMatchesWrongPassword(t *testing.T) {
	_, h := newTestApp(t, testConfig())
	a := do(t, h, http.MethodPost, "/auth/login", "", map[string]string{"username": "admin", "password": "nope"})
	b := do(t, h, http.MethodPost, "/auth/login", "", map[string]string{"username": "ghost", "password": "nope"})
	assert.Equal(t, a.Code, b.Code)
	assert.Equal(t, a.Body.String(), b.Body.String())
}

func TestLoginBadRequest(t *testing.T) {
	_, h := newTestApp(t, testConfig())

	rec := do(t, h, http.MethodPost, "/auth/login", "", map[string]string{"password": "123456"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader("{not json"))
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "INVALID_REQUEST", decode[APIError](t, rec).Code)
}

func TestLoginUnusablePasswordIsInvalidCredentials(t *testing.T) {
	_, h := newTestApp(t, testConfig())

	for name, pw := range map[string]string{
		"empty":    "",
		"too long": strings.Repeat("a", 73),
	} {
		rec := do(t, h, http.MethodPost, "/auth/login", "", map[string]string{"username": "admin", "password": pw})
		assert.Equal(t, http.StatusUnauthorized, rec.Code, name)
		body := decode[APIError](t, rec)
		assert.Equal(t, "INVALID_CREDENTIALS", body.Code, name)
		assert.Empty(t, body.Details, name)
	}
}

func TestValidateTokenSources(t *testing.T) {
	_, h := newTestApp(t, testConfig())
	tok := login(t, h, "user", "password")

	rec := do(t, h, http.MethodGet, "/auth/validate?token="+tok, "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, h, http.MethodGet, "/auth/validate", tok, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"ROLE_USER"}, decode[validateResponse](t, rec).Authorities)

	rec = do(t, h, http.MethodPost, "/auth/validate", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodPost, "/auth/validate", "", map[string]string{"token": "a.b.c"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "MALFORMED_TOKEN", decode[APIError](t, rec).Code)
}

func TestValidateExpiredToken(t *testing.T) {
	c := testConfig()
	c.JwtTTL = 0
	_, h := newTestApp(t, c)
	tok := login(t, h, "admin", "123456")

	rec := do(t, h, http.MethodPost, "/auth/validate", "", map[string]string{"token": tok})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "TOKEN_EXPIRED", decode[APIError](t, rec).Code)
}

func TestProtectedRoutes(t *testing.T) {
	_, h := newTestApp(t, testConfig())
	admin := login(t, h, "admin", "123456")
	user := login(t, h, "user", "password")

	rec := do(t, h, http.MethodGet, "/api/me", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Bearer", rec.Header().Get("WWW-Authenticate"))

	rec = do(t, h, http.MethodGet, "/api/me", alterLast(user), nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "UNAUTHORIZED", decode[APIError](t, rec).Code, "reason is not leaked")

	rec = do(t, h, http.MethodGet, "/api/me", user, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	me := decode[map[string]any](t, rec)
	assert.Equal(t, "user", me["username"])
	assert.Equal(t, []any{"ROLE_USER"}, me["authorities"])

	rec = do(t, h, http.MethodGet, "/api/admin/users", user, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = do(t, h, http.MethodGet, "/api/admin/users", admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[struct{ Users []userResponse }](t, rec)
	require.Len(t, list.Users, 2)
	assert.Equal(t, "admin", list.Users[0].Username)
	assert.NotContains(t, rec.Body.String(), "$2a$")
}

func TestAdminCreatesUser(t *testing.T) {
	_, h := newTestApp(t, testConfig())
	admin := login(t, h, "admin", "123456")

	body := map[string]string{"username": "carol", "password": "s3cret!", "role": "USER"}
	rec := do(t, h, http.MethodPost, "/api/admin/users", admin, body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "carol", decode[userResponse](t, rec).Username)

	rec = do(t, h, http.MethodPost, "/api/admin/users", admin, body)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = do(t, h, http.MethodPost, "/api/admin/users", admin, map[string]string{"username": "x", "password": "y", "role": "USER"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	carol := login(t, h, "carol", "s3cret!")
	rec = do(t, h, http.MethodPost, "/api/admin/users", carol, body)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestPublicAndUnknownRoutes(t *testing.T) {
	_, h := newTestApp(t, testConfig())

	rec := do(t, h, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	rec = do(t, h, http.MethodGet, "/ready", "garbage-token", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, h, http.MethodGet, "/nowhere", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	tok := login(t, h, "user", "password")
	rec = do(t, h, http.MethodGet, "/nowhere", tok, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, h, http.MethodGet, "/auth/login", "", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	rec = do(t, h, http.MethodGet, "/actuator/health", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code, "public by policy, not served")
}

func TestExtraPublicRoutes(t *testing.T) {
	c := testConfig()
	c.PublicRoutes = []string{"/api/me"}
	_, h := newTestApp(t, c)

	rec := do(t, h, http.MethodGet, "/api/me", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code, "handler still needs a principal")
	assert.Equal(t, "UNAUTHORIZED", decode[APIError](t, rec).Code)
}

func TestLoginRateLimit(t *testing.T) {
	c := testConfig()
	c.LoginRatePerMinute = 2
	_, h := newTestApp(t, c)

	body := map[string]string{"username": "admin", "password": "wrong"}
	for i := 0; i < 2; i++ {
		rec := do(t, h, http.MethodPost, "/auth/login", "", body)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	}
	rec := do(t, h, http.MethodPost, "/auth/login", "", body)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "RATE_LIMITED", decode[APIError](t, rec).Code)

	rec = do(t, h, http.MethodPost, "/auth/validate", "", map[string]string{"token": "a.b.c"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code, "validate is not rate limited")
}

func TestCORS(t *testing.T) {
	c := testConfig()
	c.CORSAllowedOrigins = []string{"https://app.example.com"}
	_, h := newTestApp(t, c)

	req := httptest.NewRequest(http.MethodOptions, "/auth/login", nil)
	req.Header.Set("Origin", "https://app.example.com")
	req.Header.Set("Access-Control-Request-Method", "POST")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://app.example.com", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}
