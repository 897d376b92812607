package db

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"log"

	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

const migrationsDir = "migrations"

func prepareGoose() error {
	goose.SetBaseFS(migrationFiles)
	return goose.SetDialect("postgres")
}

// RunMigrations brings the analysis_processes, user_insights and activity
// source tables up to date. A nil database is a no-op so in-memory boots skip it.
func RunMigrations(ctx context.Context, database *sql.DB) error {
	return Migrate(ctx, database, "up")
}

// Migrate runs a goose command against the embedded migrations.
// Supported commands are up, down, status and version.
func Migrate(ctx context.Context, database *sql.DB, command string) error {
	if database == nil {
		return nil
	}
	if err := prepareGoose(); err != nil {
		return err
	}
	switch command {
	case "up":
		if err := goose.UpContext(ctx, database, migrationsDir); err != nil {
			return err
		}
	case "down":
		if err := goose.DownContext(ctx, database, migrationsDir); err != nil {
			return err
		}
	case "status":
		return goose.StatusContext(ctx, database, migrationsDir)
	case "version":
	default:
		return fmt.Errorf("unsupported migrate command %q", command)
	}
	version, err := goose.GetDBVersionContext(ctx, database)
	if err != nil {
		return err
	}
	log.Printf("db migrations %s: version=%d", command, version)
	return nil
}
