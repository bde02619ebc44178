// Package config provides configuration management functionality.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds application configuration
type Config struct {
	DataDir          string // Base directory for the market database (always absolute)
	LogLevel         string
	Port             int
	DevMode          bool
	BenchmarkTicker  string // Benchmark for the ratio endpoint (default QQQ)
	SyncSchedule     string // Cron spec for the nightly full sync run
	SyncWorkers      int    // Worker pool width for the deep-update stage
	DeepTopQueried   int    // Top-N by query popularity selected for deep updates
	DeepTopMarketCap int    // Top-M by market capitalization selected for deep updates
	ShallowBatchSize int    // Tickers per bulk-quote request in the shallow stage
	TranslateBatch   int    // Names per translation request

	ListingFeeds []ListingFeed
}

// ListingFeed describes one listing feed to reconcile against the store.
type ListingFeed struct {
	URL             string
	DefaultExchange string // Exchange assigned when the feed has no per-row exchange column
	HasExchangeCode bool   // True for "other listed" feeds carrying an Exchange column
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	dataDir := getEnv("MARKET_DATA_DIR", "")
	if dataDir == "" {
		dataDir = "./data"
	}

	// Always resolve to absolute path
	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}

	// Ensure directory exists
	if err := os.MkdirAll(absDataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	cfg := &Config{
		DataDir:          absDataDir,
		Port:             getEnvAsInt("PORT", 8000),
		DevMode:          getEnvAsBool("DEV_MODE", false),
		LogLevel:         getEnv("LOG_LEVEL", "info"),
		BenchmarkTicker:  getEnv("BENCHMARK_TICKER", "QQQ"),
		SyncSchedule:     getEnv("SYNC_SCHEDULE", "0 30 5 * * *"),
		SyncWorkers:      getEnvAsInt("SYNC_WORKERS", 5),
		DeepTopQueried:   getEnvAsInt("DEEP_TOP_QUERIED", 100),
		DeepTopMarketCap: getEnvAsInt("DEEP_TOP_MARKET_CAP", 100),
		ShallowBatchSize: getEnvAsInt("SHALLOW_BATCH_SIZE", 50),
		TranslateBatch:   getEnvAsInt("TRANSLATE_BATCH_SIZE", 100),
		ListingFeeds: []ListingFeed{
			{
				URL:             getEnv("NASDAQ_LISTED_URL", "https://www.nasdaqtrader.com/dynamic/symdir/nasdaqlisted.txt"),
				DefaultExchange: "NASDAQ",
				HasExchangeCode: false,
			},
			{
				URL:             getEnv("OTHER_LISTED_URL", "https://www.nasdaqtrader.com/dynamic/symdir/otherlisted.txt"),
				DefaultExchange: "NYSE",
				HasExchangeCode: true,
			},
		},
	}

	// Validate required fields
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks if required configuration is present
func (c *Config) Validate() error {
	if c.SyncWorkers <= 0 {
		return fmt.Errorf("SYNC_WORKERS must be positive, got %d", c.SyncWorkers)
	}
	if c.ShallowBatchSize <= 0 {
		return fmt.Errorf("SHALLOW_BATCH_SIZE must be positive, got %d", c.ShallowBatchSize)
	}
	if c.TranslateBatch <= 0 {
		return fmt.Errorf("TRANSLATE_BATCH_SIZE must be positive, got %d", c.TranslateBatch)
	}
	if c.BenchmarkTicker == "" {
		return fmt.Errorf("BENCHMARK_TICKER must not be empty")
	}
	return nil
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}
