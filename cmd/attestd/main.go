package main

import (
	"context"
	"log"

	"attestd/internal/config"
	"attestd/internal/infra/db"
	httpinfra "attestd/internal/infra/http"
)

func main() {
	cfg := config.FromEnv()

	store, err := db.NewStore(cfg)
	if err != nil {
		log.Fatalf("failed to init store: %v", err)
	}

	srv := httpinfra.NewServer(cfg, store)
	srv.StartSweeper(context.Background())
	if err := srv.Run(); err != nil {
		log.Fatalf("server exited: %v", err)
	}
}
