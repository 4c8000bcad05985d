package storage

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	apperrors "github.com/listing-scanner/internal/errors"
	"github.com/listing-scanner/internal/logging"
	"github.com/listing-scanner/migrations"
)

// newMigrator reads migrations from dir, or from the embedded set when dir
// is empty
func newMigrator(databaseURL, dir string) (*migrate.Migrate, error) {
	var fsys fs.FS = migrations.Postgres
	path := "postgres"
	if dir != "" {
		fsys, path = os.DirFS(dir), "."
	}
	source, err := iofs.New(fsys, path)
	if err != nil {
		return nil, fmt.Errorf("failed to open migrations: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", source, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrate instance: %w", err)
	}
	return m, nil
}

// RunMigrations brings the schema up to the latest embedded version
func RunMigrations(databaseURL string) error {
	return RunMigrationsFrom(databaseURL, "")
}

// RunMigrationsFrom brings the schema up to the latest version found in dir.
// A dirty schema is refused: it needs a human to look at it.
func RunMigrationsFrom(databaseURL, dir string) error {
	m, err := newMigrator(databaseURL, dir)
	if err != nil {
		return apperrors.NewMigrationError("cannot initialize migrations", err)
	}
	defer func() {
		_, _ = m.Close() // nolint:errcheck // cleanup in defer
	}()

	version, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return apperrors.NewMigrationError("cannot read schema version", err)
	}
	if dirty {
		return apperrors.NewMigrationError(fmt.Sprintf("schema is dirty at version %d", version), nil)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return apperrors.NewMigrationError("failed to run migrations", err)
	}

	after, _, err := m.Version()
	if err == nil {
		logging.WithFields(map[string]interface{}{
			"from": version,
			"to":   after,
		}).Info("Schema migrations applied")
	}
	return nil
}

// MigrationVersion returns the current migration version
func MigrationVersion(databaseURL string) (version uint, dirty bool, err error) {
	m, migrateErr := newMigrator(databaseURL, "")
	if migrateErr != nil {
		return 0, false, migrateErr
	}
	defer func() {
		_, _ = m.Close() // nolint:errcheck // cleanup in defer
	}()

	version, dirty, err = m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, fmt.Errorf("failed to get migration version: %w", err)
	}

	return version, dirty, nil
}
