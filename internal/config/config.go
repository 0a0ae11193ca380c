// Package config defines the top-level configuration for the okbitok
// arbitrage bot and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a
// TOML file and then optionally overridden by ARBOT_* environment variables.
type Config struct {
	Bybit      VenueConfig      `toml:"bybit"`
	KuCoin     VenueConfig      `toml:"kucoin"`
	Detector   DetectorConfig   `toml:"detector"`
	Simulation SimulationConfig `toml:"simulation"`
	Risk       RiskConfig       `toml:"risk"`
	Failover   FailoverConfig   `toml:"failover"`
	Watchdog   WatchdogConfig   `toml:"watchdog"`
	Postgres   PostgresConfig   `toml:"postgres"`
	Redis      RedisConfig      `toml:"redis"`
	S3         S3Config         `toml:"s3"`
	Ledger     LedgerConfig     `toml:"ledger"`
	Notify     NotifyConfig     `toml:"notify"`
	Control    ControlConfig    `toml:"control"`
	Mode       string           `toml:"mode"`
	LogLevel   string           `toml:"log_level"`
	PairsFile  string           `toml:"pairs_file"`
}

// VenueConfig holds endpoints and credentials for one exchange.
type VenueConfig struct {
	RestHost string `toml:"rest_host"`
	WsHost   string `toml:"ws_host"`

	ApiKey        string `toml:"api_key"`
	ApiSecret     string `toml:"api_secret"`
	ApiPassphrase string `toml:"api_passphrase"`

	// EncryptedSecretPath points at a JSON blob produced by the keymanager;
	// when set it takes precedence over ApiSecret.
	EncryptedSecretPath string `toml:"encrypted_secret_path"`
	SecretPassword      string `toml:"secret_password"`

	// TakerFeeRate is the per-fill taker fee as a fraction (0.0006 = 6 bps).
	TakerFeeRate float64 `toml:"taker_fee_rate"`
}

// DetectorConfig holds the delta detection and debounce parameters.
type DetectorConfig struct {
	// MinDeltaPct is the minimum cross-venue spread (percent) worth acting on.
	MinDeltaPct float64 `toml:"min_delta_pct"`
	// MinDeltaLifetime is how long a delta must persist before it is trusted.
	MinDeltaLifetime duration `toml:"min_delta_lifetime"`
	// DeltaCacheExpiration bounds the debounce window from above.
	DeltaCacheExpiration duration `toml:"delta_cache_expiration"`
	// MaxQuoteAge rejects deltas computed from stale quotes.
	MaxQuoteAge duration `toml:"max_quote_age"`
	// QueueSize bounds the opportunity queue; overflow is dropped and logged.
	QueueSize int `toml:"queue_size"`
}

// SimulationConfig holds the worker pool and simulation parameters.
type SimulationConfig struct {
	Workers           int      `toml:"workers"`
	PositionSizeUSD   float64  `toml:"position_size_usd"`
	Leverage          float64  `toml:"leverage"`
	MaxPriceImpactPct float64  `toml:"max_price_impact_pct"`
	IncludeFunding    bool     `toml:"include_funding"`
	BatchWindow       duration `toml:"batch_window"`
	SimTimeout        duration `toml:"sim_timeout"`
	OrderBookDepth    int      `toml:"order_book_depth"`
}

// RiskConfig holds admission control and position lifecycle parameters.
type RiskConfig struct {
	MinProfitUSD         float64  `toml:"min_profit_usd"`
	TakeProfitUSD        float64  `toml:"take_profit_usd"`
	StopLossPct          float64  `toml:"stop_loss_pct"`
	MaxHoldTime          duration `toml:"max_hold_time"`
	CooldownAfterTimeout duration `toml:"cooldown_after_timeout"`
	SLIgnoreWindow       duration `toml:"sl_ignore_window"`
	MaxParallelPositions int      `toml:"max_parallel_positions"`
	CheckInterval        duration `toml:"check_interval"`
	OrderTimeout         duration `toml:"order_timeout"`
}

// FailoverConfig holds the single-leg failover thresholds.
type FailoverConfig struct {
	TrailingStopPct      float64  `toml:"trailing_stop_pct"`
	InitialTakeProfitPct float64  `toml:"initial_take_profit_pct"`
	CheckInterval        duration `toml:"check_interval"`
}

// WatchdogConfig holds the balance watchdog parameters.
type WatchdogConfig struct {
	BalanceMarginPct float64  `toml:"balance_margin_pct"`
	CheckInterval    duration `toml:"check_interval"`
}

// PostgresConfig holds the optional durable trade ledger connection.
type PostgresConfig struct {
	Enabled       bool   `toml:"enabled"`
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

// RedisConfig holds the quote cache mirror connection.
type RedisConfig struct {
	Enabled    bool   `toml:"enabled"`
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds the S3-compatible ledger archive parameters.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`

	ArchiveAfterDays int `toml:"archive_after_days"`
}

// LedgerConfig holds the CSV trade log location.
type LedgerConfig struct {
	CSVPath string `toml:"csv_path"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// ControlConfig holds the operator Telegram command listener parameters.
// The same bot token as notify may be reused; only ChatID is authorized.
type ControlConfig struct {
	Enabled      bool     `toml:"enabled"`
	BotToken     string   `toml:"bot_token"`
	ChatID       int64    `toml:"chat_id"`
	PollInterval duration `toml:"poll_interval"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "5m", "30s").
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

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Bybit: VenueConfig{
			RestHost:     "https://api.bybit.com",
			WsHost:       "wss://stream.bybit.com/v5/public/linear",
			TakerFeeRate: 0.00055,
		},
		KuCoin: VenueConfig{
			RestHost:     "https://api-futures.kucoin.com",
			TakerFeeRate: 0.0006,
		},
		Detector: DetectorConfig{
			MinDeltaPct:          0.8,
			MinDeltaLifetime:     duration{2 * time.Second},
			DeltaCacheExpiration: duration{10 * time.Second},
			MaxQuoteAge:          duration{5 * time.Second},
			QueueSize:            256,
		},
		Simulation: SimulationConfig{
			Workers:           3,
			PositionSizeUSD:   100,
			Leverage:          3,
			MaxPriceImpactPct: 0.2,
			IncludeFunding:    true,
			BatchWindow:       duration{500 * time.Millisecond},
			SimTimeout:        duration{5 * time.Second},
			OrderBookDepth:    25,
		},
		Risk: RiskConfig{
			MinProfitUSD:         0.5,
			TakeProfitUSD:        1.5,
			StopLossPct:          1.0,
			MaxHoldTime:          duration{120 * time.Minute},
			CooldownAfterTimeout: duration{30 * time.Minute},
			SLIgnoreWindow:       duration{60 * time.Minute},
			MaxParallelPositions: 1,
			CheckInterval:        duration{30 * time.Second},
			OrderTimeout:         duration{10 * time.Second},
		},
		Failover: FailoverConfig{
			TrailingStopPct:      1.0,
			InitialTakeProfitPct: 3.0,
			CheckInterval:        duration{30 * time.Second},
		},
		Watchdog: WatchdogConfig{
			BalanceMarginPct: 20,
			CheckInterval:    duration{30 * time.Second},
		},
		Postgres: PostgresConfig{
			Enabled:       false,
			Host:          "localhost",
			Port:          5432,
			Database:      "arbot",
			User:          "arbot",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Enabled:    false,
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
		},
		S3: S3Config{
			Enabled:          false,
			Endpoint:         "http://localhost:9000",
			Region:           "us-east-1",
			Bucket:           "arbot-data",
			ForcePathStyle:   true,
			ArchiveAfterDays: 90,
		},
		Ledger: LedgerConfig{
			CSVPath: "logs/trade_log.csv",
		},
		Notify: NotifyConfig{
			Events: []string{"position_opened", "position_closed", "stop_loss", "failover_opened", "failover_closed", "order_error", "balance_blocked", "balance_restored"},
		},
		Control: ControlConfig{
			Enabled:      false,
			PollInterval: duration{2 * time.Second},
		},
		Mode:      "paper",
		LogLevel:  "info",
		PairsFile: "data/matched_pairs.csv",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"live":    true,
	"paper":   true,
	"monitor": true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns
// a combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: live, paper, monitor)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Venue credentials are mandatory in live mode; paper and monitor modes
	// only read public endpoints.
	if strings.ToLower(c.Mode) == "live" {
		if c.Bybit.ApiKey == "" {
			errs = append(errs, "bybit: api_key is required for live mode")
		}
		if c.Bybit.ApiSecret == "" && c.Bybit.EncryptedSecretPath == "" {
			errs = append(errs, "bybit: either api_secret or encrypted_secret_path must be set for live mode")
		}
		if c.KuCoin.ApiKey == "" {
			errs = append(errs, "kucoin: api_key is required for live mode")
		}
		if c.KuCoin.ApiSecret == "" && c.KuCoin.EncryptedSecretPath == "" {
			errs = append(errs, "kucoin: either api_secret or encrypted_secret_path must be set for live mode")
		}
		if c.KuCoin.ApiPassphrase == "" {
			errs = append(errs, "kucoin: api_passphrase is required for live mode")
		}
	}
	if c.Bybit.EncryptedSecretPath != "" && c.Bybit.SecretPassword == "" {
		errs = append(errs, "bybit: secret_password is required when encrypted_secret_path is set")
	}
	if c.KuCoin.EncryptedSecretPath != "" && c.KuCoin.SecretPassword == "" {
		errs = append(errs, "kucoin: secret_password is required when encrypted_secret_path is set")
	}
	if c.Bybit.RestHost == "" {
		errs = append(errs, "bybit: rest_host must not be empty")
	}
	if c.KuCoin.RestHost == "" {
		errs = append(errs, "kucoin: rest_host must not be empty")
	}
	if c.Bybit.TakerFeeRate < 0 || c.KuCoin.TakerFeeRate < 0 {
		errs = append(errs, "venue taker_fee_rate must not be negative")
	}

	// Detector
	if c.Detector.MinDeltaPct <= 0 {
		errs = append(errs, "detector: min_delta_pct must be > 0")
	}
	if c.Detector.MinDeltaLifetime.Duration <= 0 {
		errs = append(errs, "detector: min_delta_lifetime must be > 0")
	}
	if c.Detector.DeltaCacheExpiration.Duration <= c.Detector.MinDeltaLifetime.Duration {
		errs = append(errs, "detector: delta_cache_expiration must exceed min_delta_lifetime")
	}
	if c.Detector.MaxQuoteAge.Duration <= 0 {
		errs = append(errs, "detector: max_quote_age must be > 0")
	}
	if c.Detector.QueueSize < 1 {
		errs = append(errs, "detector: queue_size must be >= 1")
	}

	// Simulation
	if c.Simulation.Workers < 1 {
		errs = append(errs, "simulation: workers must be >= 1")
	}
	if c.Simulation.PositionSizeUSD <= 0 {
		errs = append(errs, "simulation: position_size_usd must be > 0")
	}
	if c.Simulation.Leverage < 1 {
		errs = append(errs, "simulation: leverage must be >= 1")
	}
	if c.Simulation.BatchWindow.Duration <= 0 {
		errs = append(errs, "simulation: batch_window must be > 0")
	}

	// Risk
	if c.Risk.StopLossPct <= 0 {
		errs = append(errs, "risk: stop_loss_pct must be > 0")
	}
	if c.Risk.MaxHoldTime.Duration <= 0 {
		errs = append(errs, "risk: max_hold_time must be > 0")
	}
	if c.Risk.MaxParallelPositions < 1 {
		errs = append(errs, "risk: max_parallel_positions must be >= 1")
	}
	if c.Risk.OrderTimeout.Duration <= 0 {
		errs = append(errs, "risk: order_timeout must be > 0")
	}

	// Failover
	if c.Failover.TrailingStopPct <= 0 {
		errs = append(errs, "failover: trailing_stop_pct must be > 0")
	}
	if c.Failover.InitialTakeProfitPct <= 0 {
		errs = append(errs, "failover: initial_take_profit_pct must be > 0")
	}

	// Postgres
	if c.Postgres.Enabled {
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
		if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
		}
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	// S3
	if c.S3.Enabled {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
		if !c.Postgres.Enabled {
			errs = append(errs, "s3: archiving requires postgres.enabled")
		}
	}

	// Control
	if c.Control.Enabled {
		if c.Control.BotToken == "" {
			errs = append(errs, "control: bot_token must not be empty when enabled")
		}
		if c.Control.ChatID == 0 {
			errs = append(errs, "control: chat_id must not be zero when enabled")
		}
	}

	if c.Ledger.CSVPath == "" {
		errs = append(errs, "ledger: csv_path must not be empty")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
