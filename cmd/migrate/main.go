package main

import (
	"errors"
	"flag"
	"fmt"
	"os"

	"psd2gateway/internal/common/config"
	"psd2gateway/internal/common/logging"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
)

func main() {
	dir := flag.String("path", "migrations", "directory holding the migration files")
	steps := flag.Int("steps", 1, "number of migrations to roll back with down")
	flag.Parse()
	args := flag.Args()

	if len(args) < 1 {
		fmt.Println("Usage: migrate [-path dir] [-steps n] <command>")
		fmt.Println("Commands:")
		fmt.Println("  up       Apply all pending migrations")
		fmt.Println("  down     Roll back the last -steps migrations")
		fmt.Println("  drop     Drop the sca schema objects (refused in production)")
		fmt.Println("  version  Show current migration version")
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logging.Setup(logging.Config{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
	})

	m, err := migrate.New("file://"+*dir, cfg.DatabaseURL)
	if err != nil {
		logging.Error("Failed to create migrator", "error", err)
		os.Exit(1)
	}
	defer m.Close()

	switch command := args[0]; command {
	case "up":
		logging.Info("Applying migrations", "path", *dir)
		if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			logging.Error("Migration failed", "error", err)
			os.Exit(1)
		}
		logging.Info("Migrations applied successfully")

	case "down":
		logging.Info("Rolling back migrations", "steps", *steps)
		if err := m.Steps(-*steps); err != nil {
			logging.Error("Rollback failed", "error", err)
			os.Exit(1)
		}
		logging.Info("Rollback completed")

	case "drop":
		if cfg.IsProduction() {
			logging.Error("Refusing to drop tables in production")
			os.Exit(1)
		}
		logging.Warn("Dropping all tables")
		if err := m.Drop(); err != nil {
			logging.Error("Drop failed", "error", err)
			os.Exit(1)
		}
		logging.Info("All tables dropped")

	case "version":
		version, dirty, err := m.Version()
		if errors.Is(err, migrate.ErrNilVersion) {
			fmt.Println("Version: none")
			return
		}
		if err != nil {
			logging.Error("Failed to get version", "error", err)
			os.Exit(1)
		}
		fmt.Printf("Version: %d, Dirty: %v\n", version, dirty)

	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", command)
		os.Exit(1)
	}
}
