package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fortuna/squadron/internal/api/rest"
	"github.com/fortuna/squadron/internal/config"
	"github.com/fortuna/squadron/internal/store"
	"github.com/fortuna/squadron/internal/store/repository"
)

func main() {
	log.Println("Starting squadron API server")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	db, err := store.NewDatabase(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	log.Println("✓ Connected to database")

	if err := db.RunMigrations(); err != nil {
		log.Fatalf("Failed to run database migrations: %v", err)
	}
	log.Println("✓ Database migrations applied")

	server := rest.NewServer(cfg.APIPort, repository.NewPlayerRepository(db))
	go func() {
		log.Printf("✓ REST API listening on :%s", cfg.APIPort)
		if err := server.Start(); err != nil {
			log.Printf("REST server error: %v", err)
		}
	}()

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	log.Println("Shutting down API server gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("API server shutdown error: %v", err)
	}

	log.Println("API server stopped")
}
