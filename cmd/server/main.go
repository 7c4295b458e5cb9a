package main

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/asynkron/protoactor-go/actor"

	"marshtalk/internal/config"
	"marshtalk/internal/database"
	"marshtalk/internal/engine"
	"marshtalk/internal/handlers"
	"marshtalk/internal/middleware"
	"marshtalk/internal/stream"
	"marshtalk/internal/utils"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	metrics := utils.NewMetricsCollector()

	store, err := openStore(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize store: %v", err)
	}
	defer store.Close(context.Background())

	// Initialize actor system
	system := actor.NewActorSystem()
	marshEngine := engine.NewEngine(system, store, metrics)

	hub := stream.NewHub()

	server := handlers.NewServer(system, marshEngine, store, hub, metrics)
	router := handlers.NewRouter(server, middleware.DefaultCORSConfig(cfg.AllowedOrigins))

	serverAddr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	log.Printf("Starting server on %s (store: %s)", serverAddr, cfg.Database.Type)
	if err := http.ListenAndServe(serverAddr, router); err != nil {
		log.Fatalf("Server failed to start: %v", err)
	}
}

func openStore(cfg *config.Config) (database.Store, error) {
	switch cfg.Database.Type {
	case "memory":
		return database.NewMemoryStore(), nil
	default:
		store, err := database.NewPostgresStore(cfg.Database.URI)
		if err != nil {
			return nil, err
		}
		if err := store.InitializeTables(context.Background()); err != nil {
			return nil, err
		}
		return store, nil
	}
}
