// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration read from the environment.
type Config struct {
	Port            string
	FrontendURL     string
	DBPath          string
	AuctionFile     string
	UpstreamTimeout time.Duration
	ArchiveQueue    int
	Transport       TransportConfig
}

// TransportConfig controls WebSocket session behavior.
type TransportConfig struct {
	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration
	FlushInterval     time.Duration
	MaxBatchSize      int
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Port:            getEnv("PORT", "8080"),
		FrontendURL:     getEnv("FRONTEND_URL", ""),
		DBPath:          getEnv("DB_PATH", "./data/auctions.db"),
		AuctionFile:     getEnv("AUCTION_CONFIG", "./auction.yaml"),
		UpstreamTimeout: getEnvDuration("UPSTREAM_TIMEOUT", 20*time.Second),
		ArchiveQueue:    getEnvInt("ARCHIVE_QUEUE_SIZE", 64),
		Transport: TransportConfig{
			HeartbeatInterval: getEnvDuration("HEARTBEAT_INTERVAL", 30*time.Second),
			HeartbeatTimeout:  getEnvDuration("HEARTBEAT_TIMEOUT", 75*time.Second),
			FlushInterval:     getEnvDuration("FLUSH_INTERVAL", 250*time.Millisecond),
			MaxBatchSize:      getEnvInt("MAX_BATCH_SIZE", 16),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	if c.AuctionFile == "" {
		return fmt.Errorf("AUCTION_CONFIG cannot be empty")
	}
	if c.UpstreamTimeout <= 0 {
		return fmt.Errorf("UPSTREAM_TIMEOUT must be > 0")
	}
	if c.ArchiveQueue <= 0 {
		return fmt.Errorf("ARCHIVE_QUEUE_SIZE must be > 0")
	}
	if c.Transport.HeartbeatInterval <= 0 || c.Transport.HeartbeatTimeout <= c.Transport.HeartbeatInterval {
		return fmt.Errorf("HEARTBEAT_TIMEOUT must exceed HEARTBEAT_INTERVAL")
	}
	if c.Transport.FlushInterval <= 0 {
		return fmt.Errorf("FLUSH_INTERVAL must be > 0")
	}
	if c.Transport.MaxBatchSize <= 0 {
		return fmt.Errorf("MAX_BATCH_SIZE must be > 0")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}
