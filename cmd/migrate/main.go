package main

import (
	"database/sql"
	"flag"
	"log"
	"os"

	_ "github.com/lib/pq"
	"github.com/pressly/goose/v3"

	"github.com/kestrelpay/onboard-auth/internal/config"
)

// Applies goose migrations against the configured database.
//
//	go run ./cmd/migrate            # migrate up
//	go run ./cmd/migrate -down      # roll back one migration
//	go run ./cmd/migrate -status    # print migration status
func main() {
	down := flag.Bool("down", false, "roll back the most recent migration")
	status := flag.Bool("status", false, "print migration status")
	dir := flag.String("dir", "migrations", "migrations directory")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	db, err := sql.Open("postgres", cfg.Database.DSN())
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		log.Fatalf("failed to ping database: %v", err)
	}

	if err := goose.SetDialect("postgres"); err != nil {
		log.Fatalf("failed to set dialect: %v", err)
	}

	switch {
	case *status:
		err = goose.Status(db, *dir)
	case *down:
		err = goose.Down(db, *dir)
	default:
		err = goose.Up(db, *dir)
	}
	if err != nil {
		log.Fatalf("migration failed: %v", err)
	}

	os.Exit(0)
}
