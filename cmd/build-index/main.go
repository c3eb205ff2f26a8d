package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/rewired-gh/polyrelated/internal/config"
	"github.com/rewired-gh/polyrelated/internal/events"
	"github.com/rewired-gh/polyrelated/internal/indexer"
	"github.com/rewired-gh/polyrelated/internal/logger"
	"github.com/rewired-gh/polyrelated/internal/storage"
	"github.com/rewired-gh/polyrelated/internal/structural"
	"github.com/rewired-gh/polyrelated/internal/textvec"
)

var configPath = flag.String("config", "configs/config.yaml", "Path to configuration file")

func main() {
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}
	if err := logger.Init(cfg.Logging.Level, cfg.Logging.Format); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	store, err := storage.New(ctx, cfg.Storage.Driver, cfg.Storage.DSN)
	if err != nil {
		logger.Fatal("Failed to initialize storage: %v", err)
	}
	defer store.Close()

	var publisher indexer.Publisher
	if cfg.NATS.Enabled {
		bus, err := events.Connect(cfg.NATS.URL, cfg.NATS.Subject)
		if err != nil {
			logger.Warn("NATS unavailable, build will not be announced: %v", err)
		} else {
			defer bus.Close()
			publisher = bus
		}
	}

	opts := indexer.Options{
		Vectorizer: textvec.Vectorizer{
			MinDF:       cfg.Index.MinDF,
			MaxFeatures: cfg.Index.MaxFeatures,
			NGramMax:    cfg.Index.NGramMax,
		},
		K:       cfg.Index.TopK,
		Workers: cfg.Index.Workers,
		Structural: structural.Options{
			SectorCap:      cfg.Index.SectorCap,
			EventStrength:  cfg.Resolver.EventConfidence,
			SectorStrength: cfg.Resolver.SectorConfidence,
		},
	}

	build, err := indexer.New(store, publisher, opts).Run(ctx)
	if err != nil {
		logger.Fatal("Index build failed: %v", err)
	}
	logger.Info("Index build %s complete: %d rows, %d edges, %d relations",
		build.ID, build.Rows, build.Edges, build.Relations)
}
