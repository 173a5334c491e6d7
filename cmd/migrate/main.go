// Command migrate applies the engine schema and exits. The engine also
// migrates on boot; this exists for CI and for provisioning a database
// ahead of a deploy.
package main

import (
	"context"
	"database/sql"
	"flag"
	"log"
	"time"

	_ "github.com/lib/pq"

	"github.com/ignite/warmup-engine/internal/config"
	"github.com/ignite/warmup-engine/internal/store"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.LoadFromEnv(*configPath)
	if err != nil {
		log.Fatalf("[Migrate] Load config: %v", err)
	}
	if cfg.Database.URL == "" {
		log.Fatal("[Migrate] DATABASE_URL is required")
	}

	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		log.Fatalf("[Migrate] Open database: %v", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		log.Fatalf("[Migrate] Database unreachable: %v", err)
	}
	if err := store.Migrate(ctx, db); err != nil {
		log.Fatalf("[Migrate] Apply schema: %v", err)
	}
	log.Println("[Migrate] Schema applied")
}
