// Package config loads the engine's TOML configuration and watches it for
// changes, collapsing any change to a full supervisor reboot (spec.md §4.6)
// rather than the teacher's diff-then-hot-patch scheme — grounded on
// ghostsworm-quantmesh/config/watcher.go's ConfigWatcher shape.
package config

import (
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"
)

// ExchangeAccount is one configured exchange connection.
type ExchangeAccount struct {
	ExchangeId      string   `toml:"exchange_id"`
	CredentialsPath string   `toml:"credentials_path"`
	EnabledMarkets  []string `toml:"enabled_markets"`
}

// StrategyConfig parameterizes one running strategy instance.
type StrategyConfig struct {
	Name         string `toml:"name"`
	Kind         string `toml:"kind"` // e.g. "pmm"
	ExchangeId   string `toml:"exchange_id"`
	Market       string `toml:"market"`
	Bucket       string `toml:"bucket"`
	TickMs       int64  `toml:"tick_ms"`
	SpreadBps    int64  `toml:"spread_bps"`
	OrderAmount  string `toml:"order_amount"`
	MaxInventory string `toml:"max_inventory"`
}

// BucketAllocation assigns a currency balance ceiling to a strategy bucket.
type BucketAllocation struct {
	Bucket     string `toml:"bucket"`
	ExchangeId string `toml:"exchange_id"`
	Currency   string `toml:"currency"`
	Allocated  string `toml:"allocated"`
}

// Config is the full engine configuration, reloaded as a whole on any
// change to the on-disk file.
type Config struct {
	LogLevel                 string             `toml:"log_level"`
	ReconciliationIntervalMs int64              `toml:"reconciliation_interval_ms"`
	WatchdogTimeoutMs        int64              `toml:"watchdog_timeout_ms"`
	ControlPlaneAddr         string             `toml:"control_plane_addr"`
	Exchanges                []ExchangeAccount  `toml:"exchanges"`
	Strategies               []StrategyConfig   `toml:"strategies"`
	BucketAllocations        []BucketAllocation `toml:"bucket_allocations"`
}

// Credentials holds exchange API keys, loaded from a separate file and
// never logged (spec.md §6).
type Credentials struct {
	ExchangeId string `toml:"exchange_id"`
	ApiKey     string `toml:"api_key"`
	ApiSecret  string `toml:"api_secret"`
}

// Load reads and parses a Config from path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadCredentials reads a Credentials set from path.
func LoadCredentials(path string) ([]Credentials, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read credentials %s: %w", path, err)
	}
	var wrapper struct {
		Credentials []Credentials `toml:"credentials"`
	}
	if err := toml.Unmarshal(data, &wrapper); err != nil {
		return nil, fmt.Errorf("config: parse credentials %s: %w", path, err)
	}
	return wrapper.Credentials, nil
}

// Validate rejects configurations with inconsistent references before the
// supervisor ever attempts to start from them (spec.md §7 Fatal class:
// invalid config at startup).
func (c *Config) Validate() error {
	if len(c.Exchanges) == 0 {
		return fmt.Errorf("config: at least one exchange account is required")
	}
	known := make(map[string]bool, len(c.Exchanges))
	for _, e := range c.Exchanges {
		if e.ExchangeId == "" {
			return fmt.Errorf("config: exchange account missing exchange_id")
		}
		known[e.ExchangeId] = true
	}
	for _, s := range c.Strategies {
		if s.Name == "" {
			return fmt.Errorf("config: strategy missing name")
		}
		if s.Bucket == "" {
			return fmt.Errorf("config: strategy %s missing bucket", s.Name)
		}
		if s.TickMs <= 0 {
			return fmt.Errorf("config: strategy %s must have a positive tick_ms", s.Name)
		}
		if !known[s.ExchangeId] {
			return fmt.Errorf("config: strategy %s references unknown exchange_id %s", s.Name, s.ExchangeId)
		}
	}
	for _, b := range c.BucketAllocations {
		if !known[b.ExchangeId] {
			return fmt.Errorf("config: bucket allocation %s references unknown exchange_id %s", b.Bucket, b.ExchangeId)
		}
	}
	return nil
}
