package database

import (
	"database/sql"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib" // database/sql driver for goose
	"github.com/pressly/goose"

	"github.com/expirytrack/collector/internal/config"
)

// Migrate applies pending schema migrations from cfg.MigrationsDir using
// goose. It opens its own database/sql connection; the pgx pool is not
// involved.
func Migrate(cfg config.DBConfig) error {
	db, err := sql.Open("pgx", BuildConnString(cfg))
	if err != nil {
		return fmt.Errorf("open migration connection: %w", err)
	}
	defer db.Close()

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set goose dialect: %w", err)
	}
	if err := goose.Up(db, cfg.MigrationsDir); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}
