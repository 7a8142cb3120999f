package store

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log/slog"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/postgres/*.sql
var postgresMigrations embed.FS

//go:embed migrations/sqlite/*.sql
var sqliteMigrations embed.FS

// runMigrations applies the embedded schema for driver ("postgres" or
// "sqlite3"). It opens its own connection because the migrate database driver
// closes the handle it is given.
func runMigrations(driver, dsn string) error {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return fmt.Errorf("failed to open migration connection: %w", err)
	}

	var (
		dbDriver database.Driver
		files    embed.FS
		dir      string
	)
	switch driver {
	case "postgres":
		dbDriver, err = postgres.WithInstance(db, &postgres.Config{})
		files, dir = postgresMigrations, "migrations/postgres"
	case "sqlite3":
		dbDriver, err = sqlite3.WithInstance(db, &sqlite3.Config{})
		files, dir = sqliteMigrations, "migrations/sqlite"
	default:
		err = fmt.Errorf("unsupported migration driver %q", driver)
	}
	if err != nil {
		db.Close()
		return fmt.Errorf("failed to prepare migration driver: %w", err)
	}

	src, err := iofs.New(files, dir)
	if err != nil {
		dbDriver.Close()
		return fmt.Errorf("failed to open embedded migrations: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, driver, dbDriver)
	if err != nil {
		src.Close()
		dbDriver.Close()
		return fmt.Errorf("failed to create migrator: %w", err)
	}
	defer func() {
		if srcErr, dbErr := m.Close(); srcErr != nil || dbErr != nil {
			slog.Warn("runMigrations: failed to close migrator", "source_error", srcErr, "db_error", dbErr)
		}
	}()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}
	version, dirty, verr := m.Version()
	slog.Debug("runMigrations: schema up to date", "driver", driver, "version", version, "dirty", dirty, "version_error", verr)
	return nil
}
