package ledger

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations
var migrationsFS embed.FS

// migrateUp creates the ledger schema on first use and applies newer migrations.
// The migrate instance is not closed: closing it would close db as well.
func migrateUp(db *sql.DB, driver string) error {
	src, err := iofs.New(migrationsFS, "migrations/"+driver)
	if err != nil {
		return fmt.Errorf("failed to load %s migrations: %w", driver, err)
	}

	var target database.Driver
	switch driver {
	case DriverSQLite:
		target, err = sqlite3.WithInstance(db, &sqlite3.Config{})
	case DriverPostgres:
		target, err = postgres.WithInstance(db, &postgres.Config{})
	default:
		return fmt.Errorf("unsupported ledger driver: %s", driver)
	}
	if err != nil {
		return fmt.Errorf("failed to prepare %s migration driver: %w", driver, err)
	}

	m, err := migrate.NewWithInstance("iofs", src, driver, target)
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to apply ledger migrations: %w", err)
	}
	return nil
}
