package store

import (
	"errors"
	"fmt"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/ILiedAboutCake/Rustla2/internal/config"
)

// MigrationURL returns the golang-migrate database URL for cfg.
func MigrationURL(cfg *config.Config) (string, error) {
	switch cfg.Driver {
	case config.DriverPostgres:
		return cfg.DatabaseURL, nil
	case config.DriverSQLite:
		if strings.HasPrefix(cfg.SQLitePath, "sqlite://") {
			return cfg.SQLitePath, nil
		}
		return "sqlite://" + cfg.SQLitePath, nil
	}
	return "", config.ErrUnknownDriver
}

// RunMigrations applies every embedded migration for driver against databaseURL.
func RunMigrations(driver, databaseURL string) error {
	src, err := iofs.New(migrationsFS, "migrations/"+driver)
	if err != nil {
		return fmt.Errorf("iofs.New: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", src, databaseURL)
	if err != nil {
		return fmt.Errorf("migrate.New: %w", err)
	}
	defer m.Close()
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrate.Up: %w", err)
	}
	return nil
}

// MigrationVersion reports the applied schema version.
func MigrationVersion(driver, databaseURL string) (uint, bool, error) {
	src, err := iofs.New(migrationsFS, "migrations/"+driver)
	if err != nil {
		return 0, false, fmt.Errorf("iofs.New: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", src, databaseURL)
	if err != nil {
		return 0, false, fmt.Errorf("migrate.New: %w", err)
	}
	defer m.Close()
	v, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("migrate.Version: %w", err)
	}
	return v, dirty, nil
}
