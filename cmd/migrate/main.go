package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/bikebuddy/server/internal/adapters/postgres"
	"github.com/bikebuddy/server/internal/pkg/config"
	"github.com/bikebuddy/server/internal/pkg/logging"
)

func main() {
	if len(os.Args) < 2 {
		log.Fatal("usage: migrate <up|status>")
	}

	cfg, err := config.Load("bikebuddy-migrate")
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logging.Setup(cfg.Log.Level, cfg.Log.Format)

	switch os.Args[1] {
	case "up":
		ctx := context.Background()
		db, err := postgres.New(ctx, cfg.Database.DSN(), 2)
		if err != nil {
			log.Fatalf("db: %v", err)
		}
		defer db.Close()

		applied, err := postgres.Migrate(ctx, db.Pool)
		if err != nil {
			log.Fatalf("migrate: %v", err)
		}
		for _, f := range applied {
			fmt.Printf("OK  %s\n", f)
		}
		log.Printf("%d migrations applied", len(applied))
	case "status":
		files, err := postgres.MigrationFiles()
		if err != nil {
			log.Fatalf("list migrations: %v", err)
		}
		for _, f := range files {
			fmt.Println(f)
		}
	default:
		log.Fatalf("unknown command: %s", os.Args[1])
	}
}
