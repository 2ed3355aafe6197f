// Command migrate manages the PostgreSQL schema of the credential store.
package main

import (
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/golang-migrate/migrate/v4"

	"github.com/example/authgateway/internal/config"
	"github.com/example/authgateway/internal/logging"
	"github.com/example/authgateway/internal/migrations"
)

func main() {
	var (
		command = flag.String("command", "up", "Migration command: up, down, version, force")
		steps   = flag.Int("steps", 0, "Number of migration steps (for up/down)")
		version = flag.Uint("version", 0, "Target version (for force command)")
		dir     = flag.String("dir", "", "Migrations directory (default MIGRATIONS_DIR or ./migrations)")
	)
	flag.Parse()

	cfg, err := config.NewDatabase()
	if err != nil {
		l := logging.New("info", "console", os.Stderr)
		l.Fatal().Err(err).Msg("config error")
	}
	log := logging.New(cfg.LogLevel, "console", os.Stderr)

	if cfg.DBAdapter != "postgres" {
		log.Fatal().Str("adapter", cfg.DBAdapter).Msg("migrations only work with PostgreSQL")
	}

	migrationsDir := cfg.MigrationsDir
	if *dir != "" {
		migrationsDir = *dir
	}

	m, closeFn, err := migrations.Open(migrationsDir, cfg.PostgresDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("open migrator")
	}
	defer closeFn()

	switch *command {
	case "up":
		if err := run(m, true, *steps); err != nil {
			log.Fatal().Err(err).Msg("migration up failed")
		}
		log.Info().Msg("migrations applied")
	case "down":
		if err := run(m, false, *steps); err != nil {
			log.Fatal().Err(err).Msg("migration down failed")
		}
		log.Info().Msg("migrations rolled back")
	case "version":
		v, dirty, err := m.Version()
		if errors.Is(err, migrate.ErrNilVersion) {
			log.Info().Msg("no migrations applied")
			return
		}
		if err != nil {
			log.Fatal().Err(err).Msg("failed to get version")
		}
		if dirty {
			log.Error().Uint("version", v).Msg("database is in a dirty state")
			closeFn()
			os.Exit(1)
		}
		log.Info().Uint("version", v).Msg("current migration version")
	case "force":
		if *version == 0 {
			log.Fatal().Msg("version required for force command (use -version flag)")
		}
		if err := m.Force(int(*version)); err != nil {
			log.Fatal().Err(err).Msg("force migration failed")
		}
		log.Info().Uint("version", *version).Msg("forced database version")
	default:
		log.Fatal().Str("command", *command).Msg("unknown command (supported: up, down, version, force)")
	}
}

func run(m *migrate.Migrate, up bool, steps int) error {
	if steps > 0 {
		if !up {
			steps = -steps
		}
		if err := m.Steps(steps); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			return fmt.Errorf("applying migrations: %w", err)
		}
		return nil
	}
	if up {
		if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			return fmt.Errorf("applying migrations: %w", err)
		}
		return nil
	}
	if err := m.Down(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("rolling back migrations: %w", err)
	}
	return nil
}
