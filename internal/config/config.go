// Package config defines all configuration for the escrow service.
// Config is loaded from a YAML file (default: configs/config.yaml) with
// sensitive fields overridable via ESCROW_* environment variables.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the top-level configuration. Maps directly to the YAML file structure.
type Config struct {
	Service ServiceConfig `mapstructure:"service"`
	Custody CustodyConfig `mapstructure:"custody"`
	Oracle  OracleConfig  `mapstructure:"oracle"`
	Upkeep  UpkeepConfig  `mapstructure:"upkeep"`
	Store   StoreConfig   `mapstructure:"store"`
	API     APIConfig     `mapstructure:"api"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// ServiceConfig holds the escrow's own parameters.
//
//   - Owner: identity allowed to change the fee and sweep accrued fees.
//   - FeeBps: initial protocol fee in basis points, withheld from the pot on
//     settlement. Must stay below 10000; the owner can change it at runtime.
//   - MinDuration: minimum allowed bet duration. Creation requests with a
//     shorter duration are rejected.
type ServiceConfig struct {
	Owner       string        `mapstructure:"owner"`
	FeeBps      int           `mapstructure:"fee_bps"`
	MinDuration time.Duration `mapstructure:"min_duration"`
}

// CustodyConfig points at the value-transfer service that holds the actual
// collateral. APIKey authenticates escrow-initiated transfers and is usually
// supplied via ESCROW_CUSTODY_API_KEY rather than the YAML file.
type CustodyConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	APIKey  string        `mapstructure:"api_key"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// OracleConfig holds the price-source endpoints.
//
//   - RPCURL: JSON-RPC endpoint the feed and pool adapters read through.
//   - PoolFactory: factory contract the TWAP family resolves pools from.
//   - TwapWindow: observation window for time-weighted average prices.
type OracleConfig struct {
	RPCURL      string        `mapstructure:"rpc_url"`
	PoolFactory string        `mapstructure:"pool_factory"`
	TwapWindow  time.Duration `mapstructure:"twap_window"`
}

// UpkeepConfig controls the background loop that discovers and closes
// overdue bets. MaxBatch bounds the work done per scan so a single pass
// cannot be starved by an unbounded backlog.
type UpkeepConfig struct {
	Interval time.Duration `mapstructure:"interval"`
	MaxBatch int           `mapstructure:"max_batch"`
}

// StoreConfig sets where the bet registry database lives.
type StoreConfig struct {
	Path string `mapstructure:"path"`
}

// APIConfig controls the HTTP/WebSocket API server.
type APIConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads config from a YAML file with env var overrides.
// Sensitive fields use env vars: ESCROW_CUSTODY_API_KEY, ESCROW_OWNER.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("ESCROW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("service.fee_bps", 100)
	v.SetDefault("service.min_duration", time.Hour)
	v.SetDefault("custody.timeout", 10*time.Second)
	v.SetDefault("oracle.twap_window", 60*time.Second)
	v.SetDefault("upkeep.interval", 30*time.Second)
	v.SetDefault("upkeep.max_batch", 10)
	v.SetDefault("store.path", "data/bets.db")
	v.SetDefault("logging.level", "info")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	// Override sensitive fields from env
	if key := os.Getenv("ESCROW_CUSTODY_API_KEY"); key != "" {
		cfg.Custody.APIKey = key
	}
	if owner := os.Getenv("ESCROW_OWNER"); owner != "" {
		cfg.Service.Owner = owner
	}

	return &cfg, nil
}

// Validate checks all required fields and value ranges.
func (c *Config) Validate() error {
	if c.Service.Owner == "" {
		return fmt.Errorf("service.owner is required (set ESCROW_OWNER)")
	}
	if c.Service.FeeBps < 0 || c.Service.FeeBps >= 10000 {
		return fmt.Errorf("service.fee_bps must be in [0, 10000), got %d", c.Service.FeeBps)
	}
	if c.Service.MinDuration <= 0 {
		return fmt.Errorf("service.min_duration must be > 0")
	}
	if c.Custody.BaseURL == "" {
		return fmt.Errorf("custody.base_url is required")
	}
	if c.Oracle.RPCURL == "" {
		return fmt.Errorf("oracle.rpc_url is required")
	}
	if c.Oracle.TwapWindow <= 0 {
		return fmt.Errorf("oracle.twap_window must be > 0")
	}
	if c.Upkeep.MaxBatch <= 0 {
		return fmt.Errorf("upkeep.max_batch must be > 0")
	}
	if c.API.Enabled && c.API.Port == 0 {
		return fmt.Errorf("api.port is required when api.enabled is true")
	}
	return nil
}
