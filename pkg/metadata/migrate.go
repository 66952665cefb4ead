package metadata

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	migratemysql "github.com/golang-migrate/migrate/v4/database/mysql"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"gitlab.wikimedia.org/repos/sre/mediabackups/internal/logger"
	"gitlab.wikimedia.org/repos/sre/mediabackups/pkg/config"
	"gitlab.wikimedia.org/repos/sre/mediabackups/pkg/metadata/migrations"
)

// Migrate applies every schema migration not yet on the metadata
// database. It is safe to run repeatedly.
func Migrate(ctx context.Context, cfg config.MetadataConfig) error {
	m, cleanup, err := newMigrator(ctx, cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("running migrations: %w", err)
	}
	logMigrationVersion(m)
	return nil
}

// MigrateTo migrates the schema up or down to an exact version.
func MigrateTo(ctx context.Context, cfg config.MetadataConfig, version uint) error {
	m, cleanup, err := newMigrator(ctx, cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	if err := m.Migrate(version); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrating to version %d: %w", version, err)
	}
	logMigrationVersion(m)
	return nil
}

// MigrationVersion returns the schema version on the database and
// whether a failed migration left it dirty. Version zero means no
// migration has run yet.
func MigrationVersion(ctx context.Context, cfg config.MetadataConfig) (uint, bool, error) {
	m, cleanup, err := newMigrator(ctx, cfg)
	if err != nil {
		return 0, false, err
	}
	defer cleanup()

	version, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("reading migration version: %w", err)
	}
	return version, dirty, nil
}

// newMigrator opens a plain database/sql connection and wires the
// embedded migration files to it. The migration DDL is written for
// MySQL/MariaDB, the production backend; tests on sqlite build their
// schema through AutoMigrate instead.
func newMigrator(ctx context.Context, cfg config.MetadataConfig) (*migrate.Migrate, func(), error) {
	if cfg.DBType != "mysql" && cfg.DBType != "" {
		return nil, nil, fmt.Errorf("%w: schema migrations are written for mysql, not %q",
			ErrConnection, cfg.DBType)
	}

	// migration files carry several statements each
	dsn := mysqlConfig(cfg)
	dsn.MultiStatements = true
	db, err := sql.Open("mysql", dsn.FormatDSN())
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrConnection, err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("%w: %v", ErrConnection, err)
	}

	driver, err := migratemysql.WithInstance(db, &migratemysql.Config{
		MigrationsTable: "schema_migrations",
		DatabaseName:    dsn.DBName,
	})
	if err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("preparing migration driver: %w", err)
	}
	source, err := iofs.New(migrations.FS, ".")
	if err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("loading embedded migrations: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", source, dsn.DBName, driver)
	if err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("preparing migrations: %w", err)
	}
	cleanup := func() {
		if sourceErr, dbErr := m.Close(); sourceErr != nil || dbErr != nil {
			logger.Warn("migrator did not close cleanly",
				"source_error", sourceErr, "db_error", dbErr)
		}
	}
	return m, cleanup, nil
}

func logMigrationVersion(m *migrate.Migrate) {
	version, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		logger.Info("metadata schema has no migrations applied")
		return
	}
	if err != nil {
		logger.Warn("could not read the schema version", logger.Err(err))
		return
	}
	if dirty {
		logger.Warn("schema version is dirty, a previous migration failed", "version", version)
		return
	}
	logger.Info("metadata schema migrated", "version", version)
}
