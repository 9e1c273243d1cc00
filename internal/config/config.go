// Package config loads barter engine settings from the environment.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds every runtime setting. Zero values for the optional backends
// (database, cache, outbox, broker, tracing) disable them.
type Config struct {
	Port string `env:"PORT" envDefault:"8081"`

	// Persistence. DATABASE_URL wins over SQLITE_PATH; with neither set the
	// engine runs on the in-memory store.
	DatabaseURL string        `env:"DATABASE_URL"`
	SQLitePath  string        `env:"SQLITE_PATH"`
	RedisURL    string        `env:"REDIS_URL"`
	CacheTTL    time.Duration `env:"CACHE_TTL" envDefault:"30s"`

	// Engine.
	StoreOwner             string        `env:"STORE_OWNER" envDefault:"registry-owner"`
	SweepGrace             time.Duration `env:"SWEEP_GRACE" envDefault:"0s"`
	SweepInterval          time.Duration `env:"SWEEP_INTERVAL" envDefault:"1m"`
	MatchMode              string        `env:"MATCH_MODE" envDefault:"existential"`
	RequireSupplyOwnership bool          `env:"REQUIRE_SUPPLY_OWNERSHIP" envDefault:"false"`

	// Capacity. Zero means unlimited.
	MaxOffers           int `env:"MAX_OFFERS" envDefault:"0"`
	MaxItemsPerOffer    int `env:"MAX_ITEMS_PER_OFFER" envDefault:"64"`
	MaxOffersPerCreator int `env:"MAX_OFFERS_PER_CREATOR" envDefault:"0"`

	// Events.
	OutboxDir      string        `env:"OUTBOX_DIR"`
	RelayInterval  time.Duration `env:"RELAY_INTERVAL" envDefault:"1s"`
	KafkaBrokers   []string      `env:"KAFKA_BROKERS" envSeparator:","`
	KafkaTopic     string        `env:"KAFKA_TOPIC" envDefault:"barter.events"`
	OTLPEndpoint   string        `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	RequestTimeout time.Duration `env:"REQUEST_TIMEOUT" envDefault:"10s"`
}

// Load parses the environment into a Config and validates it.
func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the engine cannot run with.
func (c *Config) Validate() error {
	if c.StoreOwner == "" {
		return fmt.Errorf("config: STORE_OWNER must not be empty")
	}
	if c.SweepGrace < 0 {
		return fmt.Errorf("config: SWEEP_GRACE must not be negative")
	}
	if c.SweepInterval < 0 || c.RelayInterval <= 0 {
		return fmt.Errorf("config: SWEEP_INTERVAL must not be negative and RELAY_INTERVAL must be positive")
	}
	if c.MaxOffers < 0 || c.MaxItemsPerOffer < 0 || c.MaxOffersPerCreator < 0 {
		return fmt.Errorf("config: capacity limits must not be negative")
	}
	return nil
}
