// Command migrate applies or rolls back the gateway's own Postgres tables
// (audit log and webhook event ledger).
package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"

	"github.com/aethex/platform/internal/platform/migrations"
)

func main() {
	var (
		envFile = flag.String("env", ".env", "Optional .env file with DATABASE_URL")
		dsn     = flag.String("database-url", "", "Postgres connection string (defaults to $DATABASE_URL)")
		plain   = flag.Bool("plain", false, "Run the idempotent SQL without migration bookkeeping")
	)
	flag.Parse()

	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Fatalf("load env (%s): %v", *envFile, err)
	}
	if *dsn == "" {
		*dsn = os.Getenv("DATABASE_URL")
	}
	if *dsn == "" {
		log.Fatal("DATABASE_URL is required")
	}

	direction := flag.Arg(0)
	if direction == "" {
		direction = "up"
	}

	if err := run(*dsn, direction, *plain); err != nil {
		log.Fatalf("migrate %s: %v", direction, err)
	}
	fmt.Printf("migrate %s: ok\n", direction)
}

func run(dsn, direction string, plain bool) error {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping database: %w", err)
	}

	switch direction {
	case "up":
		if plain {
			return migrations.Apply(ctx, db)
		}
		return migrations.Up(db)
	case "down":
		return migrations.Down(db)
	default:
		return fmt.Errorf("unknown direction %q (want up or down)", direction)
	}
}
