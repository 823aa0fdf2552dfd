package migrations

import (
	"errors"
	"fmt"
	"os"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/uptrace/bun"

	"ms-railway/internal/config"
	"ms-railway/internal/logger"
)

// SchemaVersion is the last migration that only creates tables. Later
// versions load the demo network.
const SchemaVersion uint = 1

// Runner applies the SQL files under the configured directory to Postgres.
type Runner struct {
	db       *bun.DB
	cfg      config.MigrationConfig
	log      *logger.Logger
	migrator *migrate.Migrate
}

func NewRunner(db *bun.DB, cfg config.MigrationConfig, log *logger.Logger) *Runner {
	if log == nil {
		log = logger.NewNop()
	}
	return &Runner{db: db, cfg: cfg, log: log}
}

func (r *Runner) Initialize() error {
	if r.migrator != nil {
		return nil
	}
	if _, err := os.Stat(r.cfg.Path); os.IsNotExist(err) {
		return fmt.Errorf("migrations directory does not exist: %s", r.cfg.Path)
	}
	if r.db == nil {
		return errors.New("migrations: no database")
	}

	driver, err := postgres.WithInstance(r.db.DB, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("failed to create postgres migration driver: %w", err)
	}
	migrator, err := migrate.NewWithDatabaseInstance("file://"+r.cfg.Path, "postgres", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}
	r.migrator = migrator
	return nil
}

// Run brings the schema up to date. Without Seed it stops at SchemaVersion;
// a database already past that version is left where it is.
func (r *Runner) Run() error {
	if err := r.Initialize(); err != nil {
		return err
	}

	version, dirty, err := r.migrator.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return fmt.Errorf("failed to get migration version: %w", err)
	}
	if dirty {
		r.log.Warn("MIGRATION", fmt.Sprintf("Dirty migration at version %d, forcing", version))
		if err := r.migrator.Force(int(version)); err != nil {
			return fmt.Errorf("failed to fix dirty migration: %w", err)
		}
	}

	switch {
	case r.cfg.Seed:
		r.log.Info("MIGRATION", "Running all migrations including seed data")
		err = r.migrator.Up()
	case version < SchemaVersion:
		r.log.Info("MIGRATION", "Running schema migrations only")
		err = r.migrator.Migrate(SchemaVersion)
	default:
		err = nil
	}
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	if version, _, err := r.migrator.Version(); err == nil {
		r.log.LogDatabase("MIGRATE", "schema_migrations", fmt.Sprintf("version %d", version))
	}
	return nil
}

// Down rolls back every migration.
func (r *Runner) Down() error {
	if err := r.Initialize(); err != nil {
		return err
	}
	if err := r.migrator.Down(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration down failed: %w", err)
	}
	return nil
}

func (r *Runner) Close() error {
	if r.migrator == nil {
		return nil
	}
	sourceErr, databaseErr := r.migrator.Close()
	if sourceErr != nil {
		return fmt.Errorf("error closing migrator source: %w", sourceErr)
	}
	if databaseErr != nil {
		return fmt.Errorf("error closing migrator database: %w", databaseErr)
	}
	return nil
}
