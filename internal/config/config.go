package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// MinSecretBytes mirrors the HMAC-SHA256 key size.
const MinSecretBytes = 32

type Config struct {
	Port       string
	DBAdapter  string
	SQLiteFile string
	LogLevel   string
	LogFormat  string
	// PostgreSQL connection settings
	PostgresDSN      string
	PostgresHost     string
	PostgresPort     string
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string
	MigrationsDir    string
	// Token settings; read once at startup and never changed.
	JwtSecret       string
	JwtTTL          time.Duration
	JwtClockSkew    time.Duration
	JwtIssuer       string
	RoleClaim       string
	AuthorityPrefix string
	// Extra public routes on top of the built-in allow-list.
	PublicRoutes []string
	BcryptCost   int
	SeedUsers    bool
	// Login attempts allowed per client IP per minute; 0 disables limiting.
	LoginRatePerMinute int
	CORSAllowedOrigins []string
}

func getenv(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

// BuildPostgresDSN constructs a PostgreSQL DSN from individual components or returns the provided DSN
func (c *Config) BuildPostgresDSN() (string, error) {
	if c.PostgresDSN != "" {
		return c.PostgresDSN, nil
	}

	if c.PostgresHost == "" {
		return "", errors.New("POSTGRES_HOST or POSTGRES_DSN must be set")
	}
	if c.PostgresUser == "" {
		return "", errors.New("POSTGRES_USER must be set")
	}
	if c.PostgresDB == "" {
		return "", errors.New("POSTGRES_DB must be set")
	}

	port := c.PostgresPort
	if port == "" {
		port = "5432"
	}

	sslMode := c.PostgresSSLMode
	if sslMode == "" {
		sslMode = "disable"
	}

	dsn := fmt.Sprintf("host=%s port=%s user=%s dbname=%s sslmode=%s",
		c.PostgresHost, port, c.PostgresUser, c.PostgresDB, sslMode)

	if c.PostgresPassword != "" {
		dsn += " password=" + c.PostgresPassword
	}

	return dsn, nil
}

// New loads an optional .env file (ENV_FILE, default ./.env) and then reads
// the environment. Variables already set win over the file.
func New() (*Config, error) {
	if err := loadEnvFile(); err != nil {
		return nil, err
	}
	return FromEnv()
}

// NewDatabase is New without the token settings, for tools that only touch
// the database.
func NewDatabase() (*Config, error) {
	if err := loadEnvFile(); err != nil {
		return nil, err
	}
	return databaseFromEnv()
}

func loadEnvFile() error {
	envFile := getenv("ENV_FILE", ".env")
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("load %s: %w", envFile, err)
	}
	return nil
}

// FromEnv reads the configuration from environment variables only.
func FromEnv() (*Config, error) {
	c, err := databaseFromEnv()
	if err != nil {
		return nil, err
	}

	c.JwtSecret = os.Getenv("JWT_SECRET")
	c.JwtIssuer = getenv("JWT_ISSUER", "")
	c.RoleClaim = getenv("JWT_ROLE_CLAIM", "role")
	c.AuthorityPrefix = getenv("AUTHORITY_PREFIX", "ROLE_")
	c.PublicRoutes = splitList(getenv("PUBLIC_ROUTES", ""))
	c.CORSAllowedOrigins = splitList(getenv("CORS_ALLOWED_ORIGINS", ""))

	if c.JwtTTL, err = durationEnv("JWT_TTL", time.Hour); err != nil {
		return nil, err
	}
	if c.JwtClockSkew, err = durationEnv("JWT_CLOCK_SKEW", 0); err != nil {
		return nil, err
	}
	if c.BcryptCost, err = intEnv("BCRYPT_COST", 10); err != nil {
		return nil, err
	}
	if c.LoginRatePerMinute, err = intEnv("LOGIN_RATE_PER_MINUTE", 30); err != nil {
		return nil, err
	}
	if c.SeedUsers, err = strconv.ParseBool(getenv("SEED_USERS", "true")); err != nil {
		return nil, fmt.Errorf("invalid SEED_USERS: %w", err)
	}

	if len(c.JwtSecret) < MinSecretBytes {
		return nil, fmt.Errorf("JWT_SECRET must be set to at least %d bytes", MinSecretBytes)
	}
	if c.JwtTTL < 0 || c.JwtClockSkew < 0 {
		return nil, errors.New("JWT_TTL and JWT_CLOCK_SKEW must not be negative")
	}
	return c, nil
}

func databaseFromEnv() (*Config, error) {
	c := &Config{
		Port:       getenv("PORT", "8080"),
		DBAdapter:  getenv("DB_ADAPTER", "memory"),
		SQLiteFile: getenv("SQLITE_FILE", "./data/authgateway.db"),
		LogLevel:   getenv("LOG_LEVEL", "info"),
		LogFormat:  getenv("LOG_FORMAT", "json"),
		// PostgreSQL settings
		PostgresDSN:      getenv("POSTGRES_DSN", ""),
		PostgresHost:     getenv("POSTGRES_HOST", getenv("DB_HOST", "localhost")),
		PostgresPort:     getenv("POSTGRES_PORT", getenv("DB_PORT", "5432")),
		PostgresUser:     getenv("POSTGRES_USER", getenv("DB_USER", "auth")),
		PostgresPassword: getenv("POSTGRES_PASSWORD", getenv("DB_PASSWORD", "")),
		PostgresDB:       getenv("POSTGRES_DB", getenv("DB_NAME", "authgateway")),
		PostgresSSLMode:  getenv("POSTGRES_SSLMODE", getenv("DB_SSLMODE", "disable")),
		MigrationsDir:    getenv("MIGRATIONS_DIR", "./migrations"),
	}

	switch c.DBAdapter {
	case "postgres":
		dsn, err := c.BuildPostgresDSN()
		if err != nil {
			return nil, fmt.Errorf("postgres configuration error: %w", err)
		}
		c.PostgresDSN = dsn
	case "sqlite":
		if c.SQLiteFile == "" {
			return nil, errors.New("SQLITE_FILE must be set when DB_ADAPTER=sqlite")
		}
	case "memory":
	default:
		return nil, fmt.Errorf("unsupported DB_ADAPTER: %s (supported: postgres, sqlite, memory)", c.DBAdapter)
	}

	if _, err := strconv.Atoi(c.Port); err != nil {
		return nil, fmt.Errorf("invalid PORT: %s", c.Port)
	}
	return c, nil
}

func durationEnv(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

func intEnv(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
