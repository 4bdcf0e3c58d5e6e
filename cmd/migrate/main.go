// Command migrate applies the donation schema in migrations/.
package main

import (
	"database/sql"
	"flag"
	"fmt"
	"os"
	"strconv"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"

	"fundly/pkg/config"
	"fundly/pkg/logger"
)

func main() {
	dir := flag.String("path", "migrations", "directory holding the migration files")
	flag.Usage = func() {
		fmt.Fprintln(os.Stderr, "Usage: migrate [-path DIR] up|down|version|force VERSION")
	}
	flag.Parse()

	_ = godotenv.Load()
	cfg := config.Load()
	log := logger.New("migrate")

	if cfg.Database.URL == "" {
		log.Fatal("DATABASE_URL is required", nil)
	}
	if flag.NArg() < 1 {
		flag.Usage()
		os.Exit(2)
	}
	command := flag.Arg(0)

	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		log.Fatal("Failed to connect to database", map[string]interface{}{"error": err.Error()})
	}
	defer db.Close()

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		log.Fatal("Failed to create migration driver", map[string]interface{}{"error": err.Error()})
	}

	m, err := migrate.NewWithDatabaseInstance("file://"+*dir, "postgres", driver)
	if err != nil {
		log.Fatal("Failed to create migrate instance", map[string]interface{}{"error": err.Error()})
	}

	switch command {
	case "up":
		if err := m.Up(); err != nil && err != migrate.ErrNoChange {
			log.Fatal("Migration failed", map[string]interface{}{"error": err.Error()})
		}
		log.Info("Migrations applied", nil)

	case "down":
		if err := m.Down(); err != nil && err != migrate.ErrNoChange {
			log.Fatal("Migration rollback failed", map[string]interface{}{"error": err.Error()})
		}
		log.Info("Migrations rolled back", nil)

	case "version":
		version, dirty, err := m.Version()
		if err != nil {
			log.Fatal("Failed to get version", map[string]interface{}{"error": err.Error()})
		}
		log.Info("Current version", map[string]interface{}{"version": version, "dirty": dirty})

	case "force":
		if flag.NArg() < 2 {
			flag.Usage()
			os.Exit(2)
		}
		version, err := strconv.Atoi(flag.Arg(1))
		if err != nil {
			log.Fatal("Invalid version", map[string]interface{}{"version": flag.Arg(1)})
		}
		if err := m.Force(version); err != nil {
			log.Fatal("Force migration failed", map[string]interface{}{"error": err.Error()})
		}
		log.Info("Forced version", map[string]interface{}{"version": version})

	default:
		log.Fatal("Unknown command", map[string]interface{}{"command": command})
	}
}
