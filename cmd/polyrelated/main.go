package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/rewired-gh/polyrelated/internal/api"
	"github.com/rewired-gh/polyrelated/internal/config"
	"github.com/rewired-gh/polyrelated/internal/events"
	"github.com/rewired-gh/polyrelated/internal/logger"
	"github.com/rewired-gh/polyrelated/internal/related"
	"github.com/rewired-gh/polyrelated/internal/storage"
	"github.com/rewired-gh/polyrelated/internal/telegram"
	"github.com/rewired-gh/polyrelated/internal/trending"
)

var configPath = flag.String("config", "configs/config.yaml", "Path to configuration file")

func main() {
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	if err := logger.Init(cfg.Logging.Level, cfg.Logging.Format); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()
	logger.Info("Configuration loaded from %s", *configPath)

	// Setup graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Initialize storage
	store, err := storage.New(ctx, cfg.Storage.Driver, cfg.Storage.DSN)
	if err != nil {
		logger.Fatal("Failed to initialize storage: %v", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("Failed to close storage: %v", err)
		}
	}()

	if build, err := store.LatestBuild(ctx); err != nil {
		logger.Warn("No index build found, similarity results will be empty until build-index runs: %v", err)
	} else {
		logger.Info("Serving index build %s (%d rows, %d edges, finished %s)",
			build.ID, build.Rows, build.Edges, build.FinishedAt.Format("2006-01-02 15:04:05"))
	}

	resolver := related.New(store, resolverOptions(cfg.Resolver))

	server, err := api.NewServer(resolver, trending.NewService(store), api.Options{
		CacheSize:   cfg.API.CacheSize,
		ServiceName: cfg.API.ServiceName,
	}, logger.Zap())
	if err != nil {
		logger.Fatal("Failed to initialize API server: %v", err)
	}

	// Purge cached responses whenever a new index lands
	if cfg.NATS.Enabled {
		bus, err := events.Connect(cfg.NATS.URL, cfg.NATS.Subject)
		if err != nil {
			logger.Fatal("Failed to connect to NATS: %v", err)
		}
		defer bus.Close()

		if _, err := bus.OnIndexBuilt(func(_ context.Context, ev events.IndexBuilt) {
			logger.Info("Index build %s published (%d edges, %d relations)", ev.BuildID, ev.Edges, ev.Relations)
			server.PurgeCache()
		}); err != nil {
			logger.Fatal("Failed to subscribe to %s: %v", cfg.NATS.Subject, err)
		}
		logger.Info("Subscribed to index notifications on %s", cfg.NATS.Subject)
	} else {
		logger.Debug("NATS notifications disabled")
	}

	// Start Telegram command listener
	if cfg.Telegram.Enabled {
		telegramClient, err := telegram.NewClient(cfg.Telegram.BotToken, resolver,
			cfg.Resolver.DefaultLimit, cfg.Telegram.MaxRetries, cfg.Telegram.RetryDelayBase)
		if err != nil {
			logger.Fatal("Failed to initialize Telegram client: %v", err)
		}
		telegramClient.ListenForCommands(ctx)
	} else {
		logger.Debug("Telegram commands disabled")
	}

	if err := server.Start(ctx, cfg.API.ListenAddr); err != nil {
		logger.Error("API server stopped with error: %v", err)
	}
	logger.Info("Service stopped")
}

func resolverOptions(c config.ResolverConfig) related.Options {
	return related.Options{
		DefaultLimit:        c.DefaultLimit,
		MaxLimit:            c.MaxLimit,
		MinSimilarity:       c.MinSimilarity,
		CandidatePool:       c.CandidatePool,
		EventConfidence:     c.EventConfidence,
		SectorConfidence:    c.SectorConfidence,
		SectorEntityBoost:   c.SectorEntityBoost,
		SectorEntityOverlap: c.SectorEntityOverlap,
		EntityBase:          c.EntityBase,
		EntityStep:          c.EntityStep,
		EntityMax:           c.EntityMax,
		FuzzyStrong:         c.FuzzyStrong,
		FuzzyMatch:          c.FuzzyMatch,
		FuzzyRelaxed:        c.FuzzyRelaxed,
		FuzzyBroad:          c.FuzzyBroad,
	}
}
