package migrations

import (
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	pgxmigrate "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
)

//go:embed sqlite/*.sql postgres/*.sql
var files embed.FS

// Run applies the embedded schema for the database's dialect.
func Run(db *sqlx.DB) error {
	var (
		driver database.Driver
		dir    string
		name   string
		err    error
	)
	switch db.DriverName() {
	case "sqlite":
		driver, err = sqlite.WithInstance(db.DB, &sqlite.Config{})
		dir, name = "sqlite", "sqlite"
	case "pgx", "postgres":
		driver, err = pgxmigrate.WithInstance(db.DB, &pgxmigrate.Config{})
		dir, name = "postgres", "pgx5"
	default:
		return fmt.Errorf("no migrations for driver %q", db.DriverName())
	}
	if err != nil {
		return fmt.Errorf("could not create migration driver: %w", err)
	}

	source, err := iofs.New(files, dir)
	if err != nil {
		return fmt.Errorf("could not open migrations: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, name, driver)
	if err != nil {
		return fmt.Errorf("could not create migrate instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("could not run migrations: %w", err)
	}
	return nil
}
