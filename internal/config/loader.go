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
// built-in defaults, applies ARBOT_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known ARBOT_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e.
// not empty). This lets operators inject secrets at deploy time without
// touching the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Bybit ──
	setStr(&cfg.Bybit.RestHost, "ARBOT_BYBIT_REST_HOST")
	setStr(&cfg.Bybit.WsHost, "ARBOT_BYBIT_WS_HOST")
	setStr(&cfg.Bybit.ApiKey, "ARBOT_BYBIT_API_KEY")
	setStr(&cfg.Bybit.ApiSecret, "ARBOT_BYBIT_API_SECRET")
	setStr(&cfg.Bybit.EncryptedSecretPath, "ARBOT_BYBIT_ENCRYPTED_SECRET_PATH")
	setStr(&cfg.Bybit.SecretPassword, "ARBOT_BYBIT_SECRET_PASSWORD")
	setFloat64(&cfg.Bybit.TakerFeeRate, "ARBOT_BYBIT_TAKER_FEE_RATE")

	// ── KuCoin ──
	setStr(&cfg.KuCoin.RestHost, "ARBOT_KUCOIN_REST_HOST")
	setStr(&cfg.KuCoin.WsHost, "ARBOT_KUCOIN_WS_HOST")
	setStr(&cfg.KuCoin.ApiKey, "ARBOT_KUCOIN_API_KEY")
	setStr(&cfg.KuCoin.ApiSecret, "ARBOT_KUCOIN_API_SECRET")
	setStr(&cfg.KuCoin.ApiPassphrase, "ARBOT_KUCOIN_API_PASSPHRASE")
	setStr(&cfg.KuCoin.EncryptedSecretPath, "ARBOT_KUCOIN_ENCRYPTED_SECRET_PATH")
	setStr(&cfg.KuCoin.SecretPassword, "ARBOT_KUCOIN_SECRET_PASSWORD")
	setFloat64(&cfg.KuCoin.TakerFeeRate, "ARBOT_KUCOIN_TAKER_FEE_RATE")

	// ── Detector ──
	setFloat64(&cfg.Detector.MinDeltaPct, "ARBOT_DETECTOR_MIN_DELTA_PCT")
	setDuration(&cfg.Detector.MinDeltaLifetime, "ARBOT_DETECTOR_MIN_DELTA_LIFETIME")
	setDuration(&cfg.Detector.DeltaCacheExpiration, "ARBOT_DETECTOR_DELTA_CACHE_EXPIRATION")
	setDuration(&cfg.Detector.MaxQuoteAge, "ARBOT_DETECTOR_MAX_QUOTE_AGE")
	setInt(&cfg.Detector.QueueSize, "ARBOT_DETECTOR_QUEUE_SIZE")

	// ── Simulation ──
	setInt(&cfg.Simulation.Workers, "ARBOT_SIMULATION_WORKERS")
	setFloat64(&cfg.Simulation.PositionSizeUSD, "ARBOT_SIMULATION_POSITION_SIZE_USD")
	setFloat64(&cfg.Simulation.Leverage, "ARBOT_SIMULATION_LEVERAGE")
	setFloat64(&cfg.Simulation.MaxPriceImpactPct, "ARBOT_SIMULATION_MAX_PRICE_IMPACT_PCT")
	setBool(&cfg.Simulation.IncludeFunding, "ARBOT_SIMULATION_INCLUDE_FUNDING")
	setDuration(&cfg.Simulation.BatchWindow, "ARBOT_SIMULATION_BATCH_WINDOW")
	setDuration(&cfg.Simulation.SimTimeout, "ARBOT_SIMULATION_SIM_TIMEOUT")
	setInt(&cfg.Simulation.OrderBookDepth, "ARBOT_SIMULATION_ORDER_BOOK_DEPTH")

	// ── Risk ──
	setFloat64(&cfg.Risk.MinProfitUSD, "ARBOT_RISK_MIN_PROFIT_USD")
	setFloat64(&cfg.Risk.TakeProfitUSD, "ARBOT_RISK_TAKE_PROFIT_USD")
	setFloat64(&cfg.Risk.StopLossPct, "ARBOT_RISK_STOP_LOSS_PCT")
	setDuration(&cfg.Risk.MaxHoldTime, "ARBOT_RISK_MAX_HOLD_TIME")
	setDuration(&cfg.Risk.CooldownAfterTimeout, "ARBOT_RISK_COOLDOWN_AFTER_TIMEOUT")
	setDuration(&cfg.Risk.SLIgnoreWindow, "ARBOT_RISK_SL_IGNORE_WINDOW")
	setInt(&cfg.Risk.MaxParallelPositions, "ARBOT_RISK_MAX_PARALLEL_POSITIONS")
	setDuration(&cfg.Risk.CheckInterval, "ARBOT_RISK_CHECK_INTERVAL")
	setDuration(&cfg.Risk.OrderTimeout, "ARBOT_RISK_ORDER_TIMEOUT")

	// ── Failover ──
	setFloat64(&cfg.Failover.TrailingStopPct, "ARBOT_FAILOVER_TRAILING_STOP_PCT")
	setFloat64(&cfg.Failover.InitialTakeProfitPct, "ARBOT_FAILOVER_INITIAL_TAKE_PROFIT_PCT")
	setDuration(&cfg.Failover.CheckInterval, "ARBOT_FAILOVER_CHECK_INTERVAL")

	// ── Watchdog ──
	setFloat64(&cfg.Watchdog.BalanceMarginPct, "ARBOT_WATCHDOG_BALANCE_MARGIN_PCT")
	setDuration(&cfg.Watchdog.CheckInterval, "ARBOT_WATCHDOG_CHECK_INTERVAL")

	// ── Postgres ──
	setBool(&cfg.Postgres.Enabled, "ARBOT_POSTGRES_ENABLED")
	setStr(&cfg.Postgres.DSN, "ARBOT_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "ARBOT_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "ARBOT_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "ARBOT_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "ARBOT_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "ARBOT_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "ARBOT_POSTGRES_SSLMODE")
	setInt(&cfg.Postgres.PoolMaxConns, "ARBOT_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "ARBOT_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "ARBOT_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "ARBOT_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "ARBOT_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "ARBOT_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "ARBOT_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "ARBOT_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "ARBOT_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "ARBOT_REDIS_TLS_ENABLED")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "ARBOT_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "ARBOT_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "ARBOT_S3_REGION")
	setStr(&cfg.S3.Bucket, "ARBOT_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "ARBOT_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "ARBOT_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "ARBOT_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "ARBOT_S3_FORCE_PATH_STYLE")
	setInt(&cfg.S3.ArchiveAfterDays, "ARBOT_S3_ARCHIVE_AFTER_DAYS")

	// ── Ledger ──
	setStr(&cfg.Ledger.CSVPath, "ARBOT_LEDGER_CSV_PATH")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "ARBOT_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "ARBOT_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "ARBOT_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "ARBOT_NOTIFY_EVENTS")

	// ── Control ──
	setBool(&cfg.Control.Enabled, "ARBOT_CONTROL_ENABLED")
	setStr(&cfg.Control.BotToken, "ARBOT_CONTROL_BOT_TOKEN")
	setInt64(&cfg.Control.ChatID, "ARBOT_CONTROL_CHAT_ID")
	setDuration(&cfg.Control.PollInterval, "ARBOT_CONTROL_POLL_INTERVAL")

	// ── Top-level ──
	setStr(&cfg.Mode, "ARBOT_MODE")
	setStr(&cfg.LogLevel, "ARBOT_LOG_LEVEL")
	setStr(&cfg.PairsFile, "ARBOT_PAIRS_FILE")
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
