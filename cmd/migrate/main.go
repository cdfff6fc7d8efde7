package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"aivest/internal/db"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
)

const (
	cmdUp      = "up"
	cmdDown    = "down"
	cmdVersion = "version"
	cmdStatus  = "status"

	usage = "usage: go run ./cmd/migrate [up|down|version|status] [steps]"
)

var (
	loadEnvFunc = godotenv.Load
	openPool    = func(ctx context.Context, dsn string) (db.MigrationPool, func(), error) {
		pool, err := pgxpool.New(ctx, dsn)
		if err != nil {
			return nil, nil, err
		}
		return pool, pool.Close, nil
	}
)

func main() {
	loadEnvFunc()

	if len(os.Args) < 2 {
		log.Fatal(usage)
	}

	dsn := os.Getenv("DATABASE_URL")
	if strings.TrimSpace(dsn) == "" {
		log.Fatal("DATABASE_URL is required")
	}

	ctx := context.Background()
	pool, closePool, err := openPool(ctx, dsn)
	if err != nil {
		log.Fatalf("connect to postgres: %v", err)
	}
	defer closePool()

	if err := run(ctx, pool, os.Args[1:]); err != nil {
		log.Fatal(err)
	}
}

func run(ctx context.Context, pool db.MigrationPool, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("%s", usage)
	}
	m, err := db.NewMigrator(ctx, pool, db.MigrationsFS)
	if err != nil {
		return fmt.Errorf("prepare migrator: %w", err)
	}

	switch args[0] {
	case cmdUp:
		applied, err := m.Up(ctx)
		if err != nil {
			return fmt.Errorf("apply migrations up: %w", err)
		}
		log.Printf("migrations up complete (%d applied)", applied)
	case cmdDown:
		steps, err := parseSteps(args[1:])
		if err != nil {
			return err
		}
		rolledBack, err := m.Down(ctx, steps)
		if err != nil {
			return fmt.Errorf("apply migrations down: %w", err)
		}
		log.Printf("migrations down complete (%d rolled back)", rolledBack)
	case cmdVersion:
		version, name, err := m.Version(ctx)
		if err != nil {
			return fmt.Errorf("read current version: %w", err)
		}
		if version == 0 {
			log.Println("no migrations applied")
			return nil
		}
		log.Printf("current version: %d (%s)", version, name)
	case cmdStatus:
		pending, err := m.Pending(ctx)
		if err != nil {
			return fmt.Errorf("list pending migrations: %w", err)
		}
		if len(pending) == 0 {
			log.Println("schema is up to date")
			return nil
		}
		for _, p := range pending {
			log.Printf("pending: %04d_%s", p.Version, p.Name)
		}
	default:
		return fmt.Errorf("unknown command %q. %s", args[0], usage)
	}
	return nil
}

func parseSteps(args []string) (int, error) {
	if len(args) == 0 {
		return 1, nil
	}
	n, err := strconv.Atoi(args[0])
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid down steps: %q", args[0])
	}
	return n, nil
}
