package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies DEXARB_* environment variable overrides, and
// returns the final Config. An empty path skips the file. The returned Config
// has NOT been validated; the caller should invoke Config.Validate() after
// Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		// A [[venues]] table in the file replaces the default venue list.
		var peek struct {
			Venues []VenueConfig `toml:"venues"`
		}
		if _, err := toml.DecodeFile(path, &peek); err != nil {
			return nil, err
		}
		if len(peek.Venues) > 0 {
			cfg.Venues = nil
		}
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known DEXARB_* environment variables and
// overwrites the corresponding Config fields when a variable is set.
func applyEnvOverrides(cfg *Config) {
	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "DEXARB_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "DATABASE_URL") // compatibility alias
	setStr(&cfg.Postgres.Host, "DEXARB_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "DEXARB_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "DEXARB_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "DEXARB_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "DEXARB_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "DEXARB_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "DEXARB_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "DEXARB_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "DEXARB_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "DEXARB_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "DEXARB_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "DEXARB_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "DEXARB_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "DEXARB_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "DEXARB_REDIS_TLS_ENABLED")
	setStr(&cfg.Redis.Namespace, "DEXARB_REDIS_NAMESPACE")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "DEXARB_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "DEXARB_S3_REGION")
	setStr(&cfg.S3.Bucket, "DEXARB_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "DEXARB_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "DEXARB_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "DEXARB_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "DEXARB_S3_FORCE_PATH_STYLE")

	// ── Venues ──
	for i := range cfg.Venues {
		prefix := "DEXARB_VENUE_" + strings.ToUpper(cfg.Venues[i].Name) + "_"
		setStr(&cfg.Venues[i].BaseURL, prefix+"BASE_URL")
		setBool(&cfg.Venues[i].Enabled, prefix+"ENABLED")
		setDuration(&cfg.Venues[i].Timeout, prefix+"TIMEOUT")
		setInt(&cfg.Venues[i].RateLimit, prefix+"RATE_LIMIT")
	}

	// ── Price feed ──
	setStr(&cfg.PriceFeed.Venue, "DEXARB_PRICEFEED_VENUE")
	setStr(&cfg.PriceFeed.QuoteSymbol, "DEXARB_PRICEFEED_QUOTE_SYMBOL")
	setDuration(&cfg.PriceFeed.Interval, "DEXARB_PRICEFEED_INTERVAL")
	setDuration(&cfg.PriceFeed.FetchTimeout, "DEXARB_PRICEFEED_FETCH_TIMEOUT")
	setInt(&cfg.PriceFeed.Concurrency, "DEXARB_PRICEFEED_CONCURRENCY")

	// ── Scanner ──
	setInt64(&cfg.Scanner.UserID, "DEXARB_SCANNER_USER_ID")
	setBool(&cfg.Scanner.AutoStart, "DEXARB_SCANNER_AUTO_START")
	setDuration(&cfg.Scanner.Interval, "DEXARB_SCANNER_INTERVAL")
	setDuration(&cfg.Scanner.ErrorBackoff, "DEXARB_SCANNER_ERROR_BACKOFF")
	setDuration(&cfg.Scanner.FetchTimeout, "DEXARB_SCANNER_FETCH_TIMEOUT")
	setInt(&cfg.Scanner.Concurrency, "DEXARB_SCANNER_CONCURRENCY")
	setFloat64(&cfg.Scanner.UnitTradeSize, "DEXARB_SCANNER_UNIT_TRADE_SIZE")
	setDuration(&cfg.Scanner.ExpireAfter, "DEXARB_SCANNER_EXPIRE_AFTER")
	setStr(&cfg.Scanner.SelectionPolicy, "DEXARB_SCANNER_SELECTION_POLICY")

	// ── Risk ──
	setStringSlice(&cfg.Risk.StableSymbols, "DEXARB_RISK_STABLE_SYMBOLS")
	setStringSlice(&cfg.Risk.NativeSymbols, "DEXARB_RISK_NATIVE_SYMBOLS")
	setStringSlice(&cfg.Risk.VolatileSymbols, "DEXARB_RISK_VOLATILE_SYMBOLS")
	setStr(&cfg.Risk.ReferenceVenue, "DEXARB_RISK_REFERENCE_VENUE")
	setBool(&cfg.Risk.RequireVerdict, "DEXARB_RISK_REQUIRE_VERDICT")

	// ── Execution ──
	setStr(&cfg.Execution.KeyPassphrase, "DEXARB_EXECUTION_KEY_PASSPHRASE")
	setDuration(&cfg.Execution.Timeout, "DEXARB_EXECUTION_TIMEOUT")
	setStr(&cfg.Execution.SimulationRPC, "SOLANA_RPC_URL") // compatibility alias
	setStr(&cfg.Execution.SimulationRPC, "DEXARB_EXECUTION_SIMULATION_RPC")
	setDuration(&cfg.Execution.SimulationTimeout, "DEXARB_EXECUTION_SIMULATION_TIMEOUT")

	// ── Archive ──
	setBool(&cfg.Archive.Enabled, "DEXARB_ARCHIVE_ENABLED")
	setStr(&cfg.Archive.Cron, "DEXARB_ARCHIVE_CRON")
	setInt(&cfg.Archive.RetentionDays, "DEXARB_ARCHIVE_RETENTION_DAYS")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "DEXARB_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "DEXARB_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "DEXARB_SERVER_CORS_ORIGINS")
	setInt(&cfg.Server.RateLimit, "DEXARB_SERVER_RATE_LIMIT")
	setStr(&cfg.Server.APIKey, "DEXARB_SERVER_API_KEY")

	// ── Top-level ──
	setStr(&cfg.Mode, "DEXARB_MODE")
	setStr(&cfg.LogLevel, "DEXARB_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
