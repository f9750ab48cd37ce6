package main

import (
	"errors"
	"flag"
	"os"

	"github.com/cassiomorais/channelsync/internal/infrastructure/config"
	"github.com/cassiomorais/channelsync/internal/infrastructure/observability"
	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
)

func main() {
	var (
		direction string
		dbURL     string
		path      string
		steps     int
	)

	flag.StringVar(&direction, "direction", "up", "Migration direction: up or down")
	flag.StringVar(&dbURL, "db", "", "Database URL (defaults to the CHANNELSYNC_DATABASE_* settings)")
	flag.StringVar(&path, "path", "internal/infrastructure/postgres/migrations", "Path to migration files")
	flag.IntVar(&steps, "steps", 0, "Number of migrations to apply (0 = all)")
	flag.Parse()

	logger := observability.InitLogger("info", os.Stdout)

	if dbURL == "" {
		cfg, err := config.Load()
		if err != nil {
			logger.Fatal().Err(err).Msg("Failed to load config")
		}
		dbURL = cfg.Database.DatabaseURL()
	}

	m, err := migrate.New("file://"+path, dbURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create migrate instance")
	}
	defer m.Close()

	switch direction {
	case "up":
		if steps > 0 {
			err = m.Steps(steps)
		} else {
			err = m.Up()
		}
	case "down":
		if steps > 0 {
			err = m.Steps(-steps)
		} else {
			err = m.Down()
		}
	default:
		logger.Fatal().Str("direction", direction).Msg("Unknown direction (use 'up' or 'down')")
	}

	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		logger.Fatal().Err(err).Str("direction", direction).Msg("Migration failed")
	}
	version, dirty, _ := m.Version()
	logger.Info().Str("direction", direction).Uint("version", version).Bool("dirty", dirty).Msg("Migrations applied")
}
