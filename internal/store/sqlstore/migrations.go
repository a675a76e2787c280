package sqlstore

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/postgres/*.sql migrations/sqlite/*.sql
var migrationFS embed.FS

// Migrate runs all pending database migrations.
// It uses embedded SQL files from the migrations/<dialect> directory.
func (s *Store) Migrate() error {
	// Create source from embedded filesystem
	source, err := iofs.New(migrationFS, "migrations/"+string(s.dialect))
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	db := s.db
	if s.dialect == DialectSQLite {
		// The store pool holds a single connection; migrate on a dedicated handle
		// so the migrator never waits on it.
		db, err = sql.Open("sqlite", s.dsn)
		if err != nil {
			return fmt.Errorf("failed to open migration connection: %w", err)
		}
	}

	// Create database driver
	var driver database.Driver
	switch s.dialect {
	case DialectSQLite:
		driver, err = sqlite.WithInstance(db, &sqlite.Config{})
	default:
		driver, err = postgres.WithInstance(db, &postgres.Config{})
	}
	if err != nil {
		return fmt.Errorf("failed to create migration driver: %w", err)
	}

	// Create migrator
	m, err := migrate.NewWithInstance("iofs", source, string(s.dialect), driver)
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}
	if s.dialect == DialectSQLite {
		defer m.Close()
	}

	// Run migrations
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration failed: %w", err)
	}

	return nil
}
