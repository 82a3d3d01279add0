// Package config defines the top-level configuration for the arbitrage
// engine and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/alanyoungcy/dexarb/internal/domain"
	"github.com/robfig/cron/v3"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by DEXARB_* environment variables.
type Config struct {
	Postgres  PostgresConfig  `toml:"postgres"`
	Redis     RedisConfig     `toml:"redis"`
	S3        S3Config        `toml:"s3"`
	Venues    []VenueConfig   `toml:"venues"`
	PriceFeed PriceFeedConfig `toml:"pricefeed"`
	Scanner   ScannerConfig   `toml:"scanner"`
	Risk      RiskConfig      `toml:"risk"`
	Execution ExecutionConfig `toml:"execution"`
	Archive   ArchiveConfig   `toml:"archive"`
	Server    ServerConfig    `toml:"server"`
	Mode      string          `toml:"mode"`
	LogLevel  string          `toml:"log_level"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
	Namespace  string `toml:"namespace"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// VenueConfig configures one venue client. Name must be one of the venues
// the engine knows how to talk to.
type VenueConfig struct {
	Name       string   `toml:"name"`
	BaseURL    string   `toml:"base_url"`
	Enabled    bool     `toml:"enabled"`
	Timeout    duration `toml:"timeout"`
	RateLimit  int      `toml:"rate_limit"`
	RateWindow duration `toml:"rate_window"`
}

// PriceFeedConfig configures the price aggregator.
type PriceFeedConfig struct {
	// Venue is the authoritative venue polled for every tracked pair.
	Venue        string   `toml:"venue"`
	QuoteSymbol  string   `toml:"quote_symbol"`
	Interval     duration `toml:"interval"`
	FetchTimeout duration `toml:"fetch_timeout"`
	Concurrency  int      `toml:"concurrency"`
}

// ScannerConfig configures the detection loop and its controller.
type ScannerConfig struct {
	UserID          int64    `toml:"user_id"`
	AutoStart       bool     `toml:"auto_start"`
	Interval        duration `toml:"interval"`
	ErrorBackoff    duration `toml:"error_backoff"`
	FetchTimeout    duration `toml:"fetch_timeout"`
	Concurrency     int      `toml:"concurrency"`
	UnitTradeSize   float64  `toml:"unit_trade_size"`
	ExpireAfter     duration `toml:"expire_after"`
	SelectionPolicy string   `toml:"selection_policy"`
	LockTTL         duration `toml:"lock_ttl"`
}

// RiskConfig holds the static token and venue classifications used by the
// risk scorer.
type RiskConfig struct {
	StableSymbols   []string `toml:"stable_symbols"`
	NativeSymbols   []string `toml:"native_symbols"`
	VolatileSymbols []string `toml:"volatile_symbols"`
	ReferenceVenue  string   `toml:"reference_venue"`
	RequireVerdict  bool     `toml:"require_verdict"`
}

// ExecutionConfig configures the execution coordinator.
type ExecutionConfig struct {
	KeyPassphrase     string   `toml:"key_passphrase"`
	Timeout           duration `toml:"timeout"`
	SimulationRPC     string   `toml:"simulation_rpc"`
	SimulationTimeout duration `toml:"simulation_timeout"`
	DefaultTradeFloor float64  `toml:"default_trade_floor"`
}

// ArchiveConfig configures the cold-storage archiver.
type ArchiveConfig struct {
	Enabled       bool   `toml:"enabled"`
	Cron          string `toml:"cron"`
	RetentionDays int    `toml:"retention_days"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	RateLimit   int      `toml:"rate_limit"`
	RateWindow  duration `toml:"rate_window"`
	APIKey      string   `toml:"api_key"`
}

// Defaults returns a Config populated with reasonable default values.
func Defaults() Config {
	return Config{
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "dexarb",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
			Namespace:  "dexarb",
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "dexarb-archive",
			ForcePathStyle: true,
		},
		Venues: []VenueConfig{
			{Name: "jupiter", BaseURL: "https://quote-api.jup.ag/v6", Enabled: true, Timeout: duration{10 * time.Second}, RateLimit: 10, RateWindow: duration{time.Second}},
			{Name: "raydium", BaseURL: "https://api.raydium.io/v2", Enabled: true, Timeout: duration{10 * time.Second}, RateLimit: 5, RateWindow: duration{time.Second}},
			{Name: "orca", Enabled: true},
			{Name: "meteora", BaseURL: "https://dlmm-api.meteora.ag", Enabled: false, Timeout: duration{10 * time.Second}, RateLimit: 5, RateWindow: duration{time.Second}},
		},
		PriceFeed: PriceFeedConfig{
			Venue:        "jupiter",
			QuoteSymbol:  "USDC",
			Interval:     duration{5 * time.Second},
			FetchTimeout: duration{4 * time.Second},
			Concurrency:  8,
		},
		Scanner: ScannerConfig{
			UserID:          1,
			Interval:        duration{5 * time.Second},
			ErrorBackoff:    duration{10 * time.Second},
			FetchTimeout:    duration{4 * time.Second},
			Concurrency:     8,
			UnitTradeSize:   1,
			ExpireAfter:     duration{5 * time.Minute},
			SelectionPolicy: "best_active",
			LockTTL:         duration{30 * time.Second},
		},
		Risk: RiskConfig{
			StableSymbols:   []string{"USDC", "USDT"},
			NativeSymbols:   []string{"SOL"},
			VolatileSymbols: []string{"BONK", "JTO"},
			ReferenceVenue:  "jupiter",
		},
		Execution: ExecutionConfig{
			Timeout:           duration{60 * time.Second},
			SimulationRPC:     "https://api.mainnet-beta.solana.com",
			SimulationTimeout: duration{15 * time.Second},
			DefaultTradeFloor: 100,
		},
		Archive: ArchiveConfig{
			Enabled:       false,
			Cron:          "0 3 1 * *",
			RetentionDays: 90,
		},
		Server: ServerConfig{
			Enabled:     true,
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
			RateLimit:   120,
			RateWindow:  duration{time.Minute},
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

// KnownVenues enumerates the venue names that have a client implementation.
var KnownVenues = map[string]bool{
	"jupiter": true,
	"raydium": true,
	"orca":    true,
	"meteora": true,
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"engine": true,
	"server": true,
	"full":   true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// validPolicies enumerates the auto-execute selection policies.
var validPolicies = map[string]bool{
	"best_active": true,
	"none":        true,
}

// EnabledVenues returns the configuration of every enabled venue.
func (c *Config) EnabledVenues() []VenueConfig {
	out := make([]VenueConfig, 0, len(c.Venues))
	for _, v := range c.Venues {
		if v.Enabled {
			out = append(out, v)
		}
	}
	return out
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: engine, server, full)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Postgres
	if strings.TrimSpace(c.Postgres.DSN) == "" {
		if c.Postgres.Host == "" {
			errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
		}
		if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
			errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
		}
		if c.Postgres.Database == "" {
			errs = append(errs, "postgres: database must not be empty")
		}
	}
	if c.Postgres.PoolMaxConns < 1 {
		errs = append(errs, "postgres: pool_max_conns must be >= 1")
	}
	if c.Postgres.PoolMinConns < 0 || c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
		errs = append(errs, "postgres: pool_min_conns must be between 0 and pool_max_conns")
	}

	// Redis
	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	// Venues
	seen := make(map[string]bool, len(c.Venues))
	for _, v := range c.Venues {
		switch {
		case !KnownVenues[v.Name]:
			errs = append(errs, fmt.Sprintf("venues: unknown venue %q", v.Name))
		case seen[v.Name]:
			errs = append(errs, fmt.Sprintf("venues: %q configured twice", v.Name))
		case v.Enabled && v.Name != "orca" && v.BaseURL == "":
			errs = append(errs, fmt.Sprintf("venues: %s: base_url must not be empty", v.Name))
		}
		seen[v.Name] = true
	}
	if len(c.EnabledVenues()) == 0 {
		errs = append(errs, "venues: at least one venue must be enabled")
	}

	// Price feed
	feedVenue := false
	for _, v := range c.EnabledVenues() {
		if v.Name == c.PriceFeed.Venue {
			feedVenue = true
		}
	}
	if !feedVenue {
		errs = append(errs, fmt.Sprintf("pricefeed: venue %q is not an enabled venue", c.PriceFeed.Venue))
	}
	if c.PriceFeed.QuoteSymbol == "" {
		errs = append(errs, "pricefeed: quote_symbol must not be empty")
	}
	if c.PriceFeed.Interval.Duration <= 0 {
		errs = append(errs, "pricefeed: interval must be > 0")
	}
	if c.PriceFeed.Concurrency < 1 {
		errs = append(errs, "pricefeed: concurrency must be >= 1")
	}

	// Scanner
	if c.Scanner.UserID <= 0 {
		errs = append(errs, "scanner: user_id must be > 0")
	}
	if c.Scanner.Interval.Duration <= 0 {
		errs = append(errs, "scanner: interval must be > 0")
	}
	if c.Scanner.Concurrency < 1 {
		errs = append(errs, "scanner: concurrency must be >= 1")
	}
	if c.Scanner.UnitTradeSize <= 0 {
		errs = append(errs, "scanner: unit_trade_size must be > 0")
	}
	if !validPolicies[c.Scanner.SelectionPolicy] {
		errs = append(errs, fmt.Sprintf("scanner: unknown selection_policy %q (valid: best_active, none)", c.Scanner.SelectionPolicy))
	}

	// Risk
	if c.Risk.ReferenceVenue != "" && !KnownVenues[c.Risk.ReferenceVenue] {
		errs = append(errs, fmt.Sprintf("risk: unknown reference_venue %q", c.Risk.ReferenceVenue))
	}

	// Execution
	if c.Execution.KeyPassphrase == "" {
		errs = append(errs, "execution: key_passphrase must be set")
	}
	if c.Execution.SimulationRPC == "" {
		errs = append(errs, "execution: simulation_rpc must not be empty")
	}
	if c.Execution.Timeout.Duration <= 0 {
		errs = append(errs, "execution: timeout must be > 0")
	}

	// Archive
	if c.Archive.Enabled {
		if _, err := cron.ParseStandard(c.Archive.Cron); err != nil {
			errs = append(errs, fmt.Sprintf("archive: invalid cron %q: %v", c.Archive.Cron, err))
		}
		if c.Archive.RetentionDays < 1 {
			errs = append(errs, "archive: retention_days must be >= 1")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when archive is enabled")
		}
	}

	// Server
	if c.Server.Enabled && (c.Server.Port <= 0 || c.Server.Port > 65535) {
		errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: config validation failed:\n  - %s", domain.ErrConfiguration, strings.Join(errs, "\n  - "))
	}
	return nil
}
