package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"

	"github.com/example/authgateway/internal/auth"
	"github.com/example/authgateway/internal/authority"
	cfg "github.com/example/authgateway/internal/config"
	"github.com/example/authgateway/internal/logging"
	"github.com/example/authgateway/internal/migrations"
	"github.com/example/authgateway/internal/password"
	"github.com/example/authgateway/internal/policy"
	"github.com/example/authgateway/internal/token"
)

type App struct {
	DB    DB
	Auth  *auth.Service
	Authz *policy.Authorizer

	log            zerolog.Logger
	validate       *validator.Validate
	loginLimiter   *RateLimiter
	adminAuthority authority.Authority
	corsOrigins    []string
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	json.NewEncoder(w).Encode(v)
}

// NewApp wires the token codec, authority mapper, route policy and auth
// service from c. All of them are immutable once built.
func NewApp(c *cfg.Config, db DB, log zerolog.Logger, codecOpts ...token.Option) (*App, error) {
	codec, err := token.NewCodec(token.Config{
		Secret:    []byte(c.JwtSecret),
		TTL:       c.JwtTTL,
		Skew:      c.JwtClockSkew,
		RoleClaim: c.RoleClaim,
		Issuer:    c.JwtIssuer,
	}, codecOpts...)
	if err != nil {
		return nil, err
	}
	mapper := authority.NewMapper(c.RoleClaim, c.AuthorityPrefix)

	routes, err := policy.NewRoutePolicy(policy.DefaultRules(c.PublicRoutes...)...)
	if err != nil {
		return nil, err
	}

	app := &App{
		DB:             db,
		Auth:           auth.NewService(db, password.NewHasher(password.WithCost(c.BcryptCost)), codec, mapper, log),
		Authz:          policy.NewAuthorizer(routes, codec, mapper.Map, log),
		log:            log,
		validate:       validator.New(validator.WithRequiredStructEnabled()),
		adminAuthority: authority.Authority(c.AuthorityPrefix + auth.RoleAdmin),
		corsOrigins:    c.CORSAllowedOrigins,
	}
	if c.LoginRatePerMinute > 0 {
		app.loginLimiter = NewRateLimiter(c.LoginRatePerMinute)
	}
	return app, nil
}

// Router builds the HTTP surface. Every request, including unmatched ones,
// passes the authorization chain before reaching a handler.
func (a *App) Router() *mux.Router {
	authorize := policy.Chain(a.deny, a.Authz.Intercept)

	r := mux.NewRouter()
	r.Use(SecurityHeaders)
	r.Use(a.Logging)
	r.Use(a.CORS)
	r.Use(authorize)

	fallback := func(h http.HandlerFunc) http.Handler {
		return SecurityHeaders(a.Logging(a.CORS(authorize(h))))
	}
	r.NotFoundHandler = fallback(a.handleNotFound)
	r.MethodNotAllowedHandler = fallback(a.handleMethodNotAllowed)

	r.HandleFunc("/health", a.handleHealth).Methods("GET")
	r.HandleFunc("/ready", a.handleReady).Methods("GET")

	var login http.Handler = http.HandlerFunc(a.HandleLogin)
	if a.loginLimiter != nil {
		login = policy.Chain(a.deny, a.loginLimiter.Intercept)(login)
	}
	r.Handle("/auth/login", login).Methods("POST")
	r.HandleFunc("/auth/validate", a.HandleTokenValidate).Methods("GET", "POST")

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/me", a.HandleMe).Methods("GET")

	admin := api.PathPrefix("/admin").Subrouter()
	admin.Use(policy.Chain(a.deny, policy.RequireAuthority(a.adminAuthority)))
	admin.HandleFunc("/users", a.HandleListUsers).Methods("GET")
	admin.HandleFunc("/users", a.HandleCreateUser).Methods("POST")

	return r
}

func openDB(c *cfg.Config, log zerolog.Logger) (DB, error) {
	switch c.DBAdapter {
	case "sqlite":
		return NewSQLiteDB(c.SQLiteFile)
	case "postgres":
		log.Info().Str("dir", c.MigrationsDir).Msg("applying database migrations")
		if err := migrations.Apply(c.MigrationsDir, c.PostgresDSN, log); err != nil {
			return nil, fmt.Errorf("migrations: %w", err)
		}
		return NewPostgresDB(c.PostgresDSN)
	case "memory":
		log.Warn().Msg("using in-memory database (not recommended for production)")
		return NewMemoryDB(), nil
	default:
		return nil, fmt.Errorf("unsupported DB_ADAPTER: %s", c.DBAdapter)
	}
}

func main() {
	c, err := cfg.New()
	if err != nil {
		l := logging.New("info", "json", os.Stderr)
		l.Fatal().Err(err).Msg("config")
	}
	log := logging.New(c.LogLevel, c.LogFormat, os.Stdout)

	db, err := openDB(c, log)
	if err != nil {
		log.Fatal().Err(err).Str("adapter", c.DBAdapter).Msg("database init")
	}
	log.Info().Str("adapter", c.DBAdapter).Msg("database ready")

	app, err := NewApp(c, db, log)
	if err != nil {
		log.Fatal().Err(err).Msg("app init")
	}

	if c.SeedUsers {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		err := app.Auth.Seed(ctx, auth.DefaultSeed)
		cancel()
		if err != nil {
			log.Fatal().Err(err).Msg("seed users")
		}
	}

	srv := &http.Server{Handler: app.Router(), Addr: ":" + c.Port, ReadTimeout: 5 * time.Second, WriteTimeout: 10 * time.Second}

	go func() {
		log.Info().Str("port", c.Port).Dur("token_ttl", c.JwtTTL).Msg("starting server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("shutdown failed")
	}
	if closer, ok := app.DB.(interface{ close() error }); ok {
		_ = closer.close()
	}
	log.Info().Msg("server exited properly")
}
