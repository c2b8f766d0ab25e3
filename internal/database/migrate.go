package database

import (
	"database/sql"
	"embed"
	"fmt"
	"log/slog"

	_ "github.com/lib/pq"
	"github.com/pressly/goose/v3"

	"github.com/carterwilliams/bastion/internal/config"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// RunMigrations applies pending goose migrations. Uses a separate
// database/sql connection because goose does not speak pgx pools.
func RunMigrations(cfg *config.DatabaseConfig, logger *slog.Logger) error {
	version, err := MigrateDSN(cfg.DSN())
	if err != nil {
		return err
	}

	logger.Info("database migrations applied", slog.Int64("version", version))
	return nil
}

// MigrateDSN applies the embedded migrations against a raw connection
// string and returns the resulting schema version.
func MigrateDSN(dsn string) (int64, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return 0, fmt.Errorf("failed to open migration connection: %w", err)
	}
	defer db.Close()

	goose.SetBaseFS(migrationFS)
	goose.SetLogger(goose.NopLogger())

	if err := goose.SetDialect("postgres"); err != nil {
		return 0, fmt.Errorf("failed to set goose dialect: %w", err)
	}

	if err := goose.Up(db, "migrations"); err != nil {
		return 0, fmt.Errorf("failed to apply migrations: %w", err)
	}

	version, err := goose.GetDBVersion(db)
	if err != nil {
		return 0, fmt.Errorf("failed to read migration version: %w", err)
	}

	return version, nil
}
