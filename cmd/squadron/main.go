package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"github.com/fortuna/squadron/internal/cache"
	"github.com/fortuna/squadron/internal/config"
	"github.com/fortuna/squadron/internal/fetch"
	"github.com/fortuna/squadron/internal/registry"
	"github.com/fortuna/squadron/internal/store"
	"github.com/fortuna/squadron/internal/store/repository"
)

const serviceName = "squadron"

// One scheduled update run: discover the current rosters, reconcile against
// the registry, onboard a bounded slice of new players, refresh the stalest
// known ones. Exits zero even when individual players failed; only an
// unusable configuration or store is a hard failure.
func main() {
	log.Printf("Starting %s update run", serviceName)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if len(cfg.ListingSources) == 0 {
		log.Fatalf("No listing URLs configured (set LISTING_URLS)")
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

	// Page cache is optional: without Redis every fetch hits the network.
	var pageCache fetch.PageCache
	if cfg.RedisURL != "" {
		redisCache, err := cache.NewPageCache(cfg.RedisURL, cfg.PageCacheTTL)
		if err != nil {
			log.Printf("⚠️  Page cache unavailable: %v (continuing without it)", err)
		} else {
			defer redisCache.Close()
			pageCache = redisCache
			log.Println("✓ Connected to Redis page cache")
		}
	}

	client, err := fetch.NewClient(fetch.Options{
		Timeout:  cfg.RequestTimeout,
		MinDelay: cfg.MinDelay,
		MaxDelay: cfg.MaxDelay,
		Cache:    pageCache,
	})
	if err != nil {
		log.Fatalf("Failed to create fetch client: %v", err)
	}

	repo := repository.NewPlayerRepository(db)
	engine := registry.NewEngine(client, repo, registry.Config{
		ListingSources: cfg.ListingSources,
		NewPlayerQuota: cfg.NewPlayerQuota,
		RefreshQuota:   cfg.RefreshQuota,
	})

	// A signal ends the run early; everything merged so far is already
	// committed, so the next run simply picks up where this one stopped.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if _, err := engine.Run(ctx); err != nil {
		log.Fatalf("❌ Update run aborted: %v", err)
	}

	if total, present, err := repo.CountPlayers(ctx); err == nil {
		log.Printf("  registry now holds %d players (%d present)", total, present)
	}

	log.Printf("✓ %s update run complete", serviceName)
}
