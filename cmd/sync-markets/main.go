package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rewired-gh/polyrelated/internal/config"
	"github.com/rewired-gh/polyrelated/internal/logger"
	"github.com/rewired-gh/polyrelated/internal/models"
	"github.com/rewired-gh/polyrelated/internal/polymarket"
	"github.com/rewired-gh/polyrelated/internal/storage"
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

	client := polymarket.NewClient(cfg.Polymarket.APIBaseURL, cfg.Polymarket.Timeout, polymarket.Options{
		PageSize:          cfg.Polymarket.PageSize,
		MaxPages:          cfg.Polymarket.MaxPages,
		RequestsPerSecond: cfg.Polymarket.RequestsPerSecond,
		MaxRetries:        cfg.Polymarket.MaxRetries,
		RetryDelayBase:    cfg.Polymarket.RetryDelayBase,
	})

	if err := syncMarkets(ctx, client, store, cfg.Polymarket.Categories); err != nil {
		logger.Fatal("Catalogue sync failed: %v", err)
	}
}

func syncMarkets(ctx context.Context, client *polymarket.Client, store *storage.Storage, categories []string) error {
	startTime := time.Now()

	tags, err := client.ResolveTags(ctx, categories)
	if err != nil {
		return err
	}
	logger.Info("Resolved %d of %d category tags", len(tags), len(categories))

	seen := make(map[string]struct{})
	var markets []models.Market
	for _, category := range categories {
		label := strings.ToLower(strings.TrimSpace(category))
		tag, ok := tags[label]
		if !ok {
			logger.Warn("No gamma tag found for category %q", category)
			continue
		}

		events, err := client.FetchEvents(ctx, tag.ID)
		if err != nil {
			return err
		}

		added := 0
		for _, event := range events {
			for _, m := range polymarket.Flatten(event, label, startTime) {
				if _, dup := seen[m.ID]; dup {
					continue
				}
				seen[m.ID] = struct{}{}
				markets = append(markets, m)
				added++
			}
		}
		logger.Info("Category %s: %d events, %d new markets", label, len(events), added)
	}

	if err := store.UpsertMarkets(ctx, markets); err != nil {
		return err
	}
	total, err := store.CountMarkets(ctx)
	if err != nil {
		return err
	}
	logger.Info("Synced %d markets (catalogue size %d) in %v", len(markets), total, time.Since(startTime))
	return nil
}
