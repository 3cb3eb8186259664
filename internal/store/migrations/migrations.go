// Package migrations owns the store schema. The migration files are embedded
// so any database the binary opens can be brought up to date on the spot,
// without shipping SQL alongside the executable.
package migrations

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed files/*.sql
var schemaFiles embed.FS

// MigrateUp applies every pending migration. A database already at the
// latest version is left alone.
func MigrateUp(db *sql.DB) error {
	m, err := instance(db)
	if err != nil {
		return err
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("applying migrations: %w", err)
	}
	return nil
}

// CheckDBMigrationStatus verifies the schema matches what this binary
// expects, distinguishing a database with no schema at all, one left dirty
// by an interrupted migration, one behind the binary, and one ahead of it.
func CheckDBMigrationStatus(db *sql.DB) error {
	m, err := instance(db)
	if err != nil {
		return err
	}

	version, dirty, err := m.Version()
	switch {
	case errors.Is(err, migrate.ErrNilVersion):
		return errors.New("store has no schema version, migration never ran")
	case err != nil:
		return fmt.Errorf("reading schema version: %w", err)
	case dirty:
		return fmt.Errorf("schema is dirty at version %d, an earlier migration did not finish", version)
	}

	latest, err := latestVersion()
	if err != nil {
		return err
	}
	if version < latest {
		return fmt.Errorf("schema is at version %d, binary expects %d", version, latest)
	}
	if version > latest {
		return fmt.Errorf("schema version %d is newer than this binary supports (%d)", version, latest)
	}
	return nil
}

// instance builds a migrate handle over the embedded sources and the open
// connection. The handle is never closed here: closing it would close db,
// which the caller owns.
func instance(db *sql.DB) (*migrate.Migrate, error) {
	src, err := iofs.New(schemaFiles, "files")
	if err != nil {
		return nil, fmt.Errorf("reading embedded migrations: %w", err)
	}

	drv, err := sqlite3.WithInstance(db, &sqlite3.Config{})
	if err != nil {
		src.Close()
		return nil, fmt.Errorf("wrapping connection for migration: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, "sqlite3", drv)
	if err != nil {
		src.Close()
		return nil, fmt.Errorf("creating migrator: %w", err)
	}
	return m, nil
}

// latestVersion walks the embedded sources for the highest version number.
func latestVersion() (uint, error) {
	src, err := iofs.New(schemaFiles, "files")
	if err != nil {
		return 0, fmt.Errorf("reading embedded migrations: %w", err)
	}
	defer src.Close()

	version, err := src.First()
	if err != nil {
		return 0, fmt.Errorf("listing embedded migrations: %w", err)
	}
	for {
		next, err := src.Next(version)
		if err != nil {
			// Next errors once the sources run out.
			return version, nil
		}
		version = next
	}
}
