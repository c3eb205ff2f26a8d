package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config represents the complete application configuration
type Config struct {
	Polymarket PolymarketConfig `mapstructure:"polymarket"`
	Index      IndexConfig      `mapstructure:"index"`
	Resolver   ResolverConfig   `mapstructure:"resolver"`
	Storage    StorageConfig    `mapstructure:"storage"`
	API        APIConfig        `mapstructure:"api"`
	Telegram   TelegramConfig   `mapstructure:"telegram"`
	NATS       NATSConfig       `mapstructure:"nats"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// PolymarketConfig holds Polymarket gamma API configuration
type PolymarketConfig struct {
	APIBaseURL        string        `mapstructure:"api_base_url"`
	Categories        []string      `mapstructure:"categories"`
	Timeout           time.Duration `mapstructure:"timeout"`
	PageSize          int           `mapstructure:"page_size"`
	MaxPages          int           `mapstructure:"max_pages"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
	MaxRetries        int           `mapstructure:"max_retries"`
	RetryDelayBase    time.Duration `mapstructure:"retry_delay_base"`
}

// IndexConfig holds the batch similarity build parameters
type IndexConfig struct {
	TopK        int `mapstructure:"top_k"`
	MinDF       int `mapstructure:"min_df"`
	MaxFeatures int `mapstructure:"max_features"`
	NGramMax    int `mapstructure:"ngram_max"`
	Workers     int `mapstructure:"workers"`
	SectorCap   int `mapstructure:"sector_cap"`
}

// ResolverConfig holds query-time relatedness settings and confidence constants
type ResolverConfig struct {
	DefaultLimit        int     `mapstructure:"default_limit"`
	MaxLimit            int     `mapstructure:"max_limit"`
	MinSimilarity       float64 `mapstructure:"min_similarity"`
	CandidatePool       int     `mapstructure:"candidate_pool"`
	EventConfidence     float64 `mapstructure:"event_confidence"`
	SectorConfidence    float64 `mapstructure:"sector_confidence"`
	SectorEntityBoost   float64 `mapstructure:"sector_entity_confidence"`
	SectorEntityOverlap int     `mapstructure:"sector_entity_overlap"`
	EntityBase          float64 `mapstructure:"entity_base"`
	EntityStep          float64 `mapstructure:"entity_step"`
	EntityMax           float64 `mapstructure:"entity_max"`
	FuzzyStrong         float64 `mapstructure:"fuzzy_strong"`
	FuzzyMatch          float64 `mapstructure:"fuzzy_match"`
	FuzzyRelaxed        float64 `mapstructure:"fuzzy_relaxed"`
	FuzzyBroad          float64 `mapstructure:"fuzzy_broad"`
}

// StorageConfig holds catalogue database configuration
type StorageConfig struct {
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
}

// APIConfig holds HTTP server configuration
type APIConfig struct {
	ListenAddr  string `mapstructure:"listen_addr"`
	CacheSize   int    `mapstructure:"cache_size"`
	ServiceName string `mapstructure:"service_name"`
}

// TelegramConfig holds Telegram bot configuration
type TelegramConfig struct {
	BotToken       string        `mapstructure:"bot_token"`
	Enabled        bool          `mapstructure:"enabled"`
	MaxRetries     int           `mapstructure:"max_retries"`
	RetryDelayBase time.Duration `mapstructure:"retry_delay_base"`
}

// NATSConfig holds index notification configuration
type NATSConfig struct {
	URL     string `mapstructure:"url"`
	Subject string `mapstructure:"subject"`
	Enabled bool   `mapstructure:"enabled"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads configuration from file and environment variables
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetConfigFile(path)

	setDefaults(v)

	// Enable environment variable override
	v.SetEnvPrefix("POLY_RELATED")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// setDefaults configures default values for all configuration options
func setDefaults(v *viper.Viper) {
	// Polymarket defaults
	v.SetDefault("polymarket.api_base_url", "https://gamma-api.polymarket.com")
	v.SetDefault("polymarket.categories", []string{"politics", "crypto", "finance", "business", "tech"})
	v.SetDefault("polymarket.timeout", "30s")
	v.SetDefault("polymarket.page_size", 100)
	v.SetDefault("polymarket.max_pages", 50)
	v.SetDefault("polymarket.requests_per_second", 5.0)
	v.SetDefault("polymarket.max_retries", 3)
	v.SetDefault("polymarket.retry_delay_base", "1s")

	// Index defaults
	v.SetDefault("index.top_k", 5)
	v.SetDefault("index.min_df", 2)
	v.SetDefault("index.max_features", 200000)
	v.SetDefault("index.ngram_max", 2)
	v.SetDefault("index.workers", 4)
	v.SetDefault("index.sector_cap", 200)

	// Resolver defaults
	v.SetDefault("resolver.default_limit", 10)
	v.SetDefault("resolver.max_limit", 50)
	v.SetDefault("resolver.min_similarity", 0.5)
	v.SetDefault("resolver.candidate_pool", 50)
	v.SetDefault("resolver.event_confidence", 1.0)
	v.SetDefault("resolver.sector_confidence", 0.7)
	v.SetDefault("resolver.sector_entity_confidence", 0.9)
	v.SetDefault("resolver.sector_entity_overlap", 2)
	v.SetDefault("resolver.entity_base", 0.6)
	v.SetDefault("resolver.entity_step", 0.1)
	v.SetDefault("resolver.entity_max", 0.9)
	v.SetDefault("resolver.fuzzy_strong", 0.8)
	v.SetDefault("resolver.fuzzy_match", 0.75)
	v.SetDefault("resolver.fuzzy_relaxed", 0.6)
	v.SetDefault("resolver.fuzzy_broad", 0.5)

	// Storage defaults
	v.SetDefault("storage.driver", "sqlite")
	v.SetDefault("storage.dsn", "./data/polyrelated.db")

	// API defaults
	v.SetDefault("api.listen_addr", ":8080")
	v.SetDefault("api.cache_size", 1024)
	v.SetDefault("api.service_name", "polyrelated")

	// Telegram defaults
	v.SetDefault("telegram.enabled", false)
	v.SetDefault("telegram.max_retries", 3)
	v.SetDefault("telegram.retry_delay_base", "1s")

	// NATS defaults
	v.SetDefault("nats.enabled", false)
	v.SetDefault("nats.url", "nats://127.0.0.1:4222")
	v.SetDefault("nats.subject", "polyrelated.index.built")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// Validate checks that all configuration values are valid
func (c *Config) Validate() error {
	// Validate Polymarket config
	if c.Polymarket.APIBaseURL == "" {
		return fmt.Errorf("polymarket.api_base_url is required")
	}
	if len(c.Polymarket.Categories) == 0 {
		return fmt.Errorf("polymarket.categories must contain at least one category")
	}
	if c.Polymarket.PageSize < 1 {
		return fmt.Errorf("polymarket.page_size must be at least 1")
	}
	if c.Polymarket.RequestsPerSecond <= 0 {
		return fmt.Errorf("polymarket.requests_per_second must be positive")
	}

	// Validate Index config
	if c.Index.TopK < 1 {
		return fmt.Errorf("index.top_k must be at least 1")
	}
	if c.Index.MinDF < 1 {
		return fmt.Errorf("index.min_df must be at least 1")
	}
	if c.Index.MaxFeatures < 1 {
		return fmt.Errorf("index.max_features must be at least 1")
	}
	if c.Index.NGramMax < 1 || c.Index.NGramMax > 3 {
		return fmt.Errorf("index.ngram_max must be between 1 and 3")
	}
	if c.Index.Workers < 1 {
		return fmt.Errorf("index.workers must be at least 1")
	}
	if c.Index.SectorCap < 0 {
		return fmt.Errorf("index.sector_cap must not be negative")
	}

	// Validate Resolver config
	if c.Resolver.DefaultLimit < 1 {
		return fmt.Errorf("resolver.default_limit must be at least 1")
	}
	if c.Resolver.MaxLimit < c.Resolver.DefaultLimit {
		return fmt.Errorf("resolver.max_limit must be at least resolver.default_limit")
	}
	confidences := map[string]float64{
		"resolver.min_similarity":           c.Resolver.MinSimilarity,
		"resolver.event_confidence":         c.Resolver.EventConfidence,
		"resolver.sector_confidence":        c.Resolver.SectorConfidence,
		"resolver.sector_entity_confidence": c.Resolver.SectorEntityBoost,
		"resolver.entity_base":              c.Resolver.EntityBase,
		"resolver.entity_step":              c.Resolver.EntityStep,
		"resolver.entity_max":               c.Resolver.EntityMax,
		"resolver.fuzzy_strong":             c.Resolver.FuzzyStrong,
		"resolver.fuzzy_match":              c.Resolver.FuzzyMatch,
		"resolver.fuzzy_relaxed":            c.Resolver.FuzzyRelaxed,
		"resolver.fuzzy_broad":              c.Resolver.FuzzyBroad,
	}
	for key, value := range confidences {
		if value < 0.0 || value > 1.0 {
			return fmt.Errorf("%s must be between 0.0 and 1.0", key)
		}
	}

	// Validate Storage config
	validDrivers := map[string]bool{"sqlite": true, "postgres": true}
	if !validDrivers[c.Storage.Driver] {
		return fmt.Errorf("storage.driver must be one of: sqlite, postgres")
	}
	if c.Storage.DSN == "" {
		return fmt.Errorf("storage.dsn is required")
	}

	// Validate API config
	if c.API.ListenAddr == "" {
		return fmt.Errorf("api.listen_addr is required")
	}
	if c.API.CacheSize < 1 {
		return fmt.Errorf("api.cache_size must be at least 1")
	}

	// Validate Telegram config
	if c.Telegram.Enabled && c.Telegram.BotToken == "" {
		return fmt.Errorf("telegram.bot_token is required when telegram is enabled")
	}

	// Validate NATS config
	if c.NATS.Enabled {
		if c.NATS.URL == "" {
			return fmt.Errorf("nats.url is required when nats is enabled")
		}
		if c.NATS.Subject == "" {
			return fmt.Errorf("nats.subject is required when nats is enabled")
		}
	}

	// Validate Logging config
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	return nil
}
