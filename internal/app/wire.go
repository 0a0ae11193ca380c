package app

import (
	"context"
	"fmt"
	"log/slog"

	s3blob "github.com/Alex-bitok/okbitok-arbitrage-bot/internal/blob/s3"
	"github.com/Alex-bitok/okbitok-arbitrage-bot/internal/cache/redis"
	"github.com/Alex-bitok/okbitok-arbitrage-bot/internal/config"
	"github.com/Alex-bitok/okbitok-arbitrage-bot/internal/crypto"
	"github.com/Alex-bitok/okbitok-arbitrage-bot/internal/domain"
	"github.com/Alex-bitok/okbitok-arbitrage-bot/internal/ledger"
	"github.com/Alex-bitok/okbitok-arbitrage-bot/internal/notify"
	"github.com/Alex-bitok/okbitok-arbitrage-bot/internal/platform/bybit"
	"github.com/Alex-bitok/okbitok-arbitrage-bot/internal/platform/kucoin"
	"github.com/Alex-bitok/okbitok-arbitrage-bot/internal/specs"
	"github.com/Alex-bitok/okbitok-arbitrage-bot/internal/store/postgres"
)

// Dependencies bundles everything the application modes need. It is
// constructed by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	// Venue access.
	Clients  map[domain.Venue]domain.VenueClient
	BybitWS  *bybit.WSClient
	KuCoinWS *kucoin.WSClient

	// Instruments.
	Pairs []specs.Pair
	Specs *specs.Registry

	// Optional infrastructure; nil when disabled in config.
	QuoteCache *redis.QuoteCache
	TradeStore domain.TradeStore
	Archiver   *s3blob.Archiver

	// Ledgers always holds at least the CSV log; the Postgres mirror is
	// appended when enabled.
	Ledgers []domain.TradeLedger

	Notifier *notify.Notifier
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config) (*Dependencies, func(), error) {
	logger := slog.Default()

	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// --- Venue clients ---
	bybitAuth, kucoinAuth, err := loadAuths(cfg)
	if err != nil {
		return nil, nil, err
	}
	bybitClient := bybit.NewClient(cfg.Bybit.RestHost, bybitAuth)
	kucoinClient := kucoin.NewClient(cfg.KuCoin.RestHost, kucoinAuth)
	kucoinClient.SetLeverage(cfg.Simulation.Leverage)
	deps.Clients = map[domain.Venue]domain.VenueClient{
		domain.VenueBybit:  bybitClient,
		domain.VenueKuCoin: kucoinClient,
	}

	deps.BybitWS = bybit.NewWSClient(cfg.Bybit.WsHost)
	// KuCoin negotiates its WS endpoint via the REST bullet handshake.
	deps.KuCoinWS = kucoin.NewWSClient(cfg.KuCoin.RestHost)

	// --- Matched pairs and instrument specs ---
	deps.Pairs, err = specs.LoadPairs(cfg.PairsFile)
	if err != nil {
		return nil, nil, fmt.Errorf("wire: pairs: %w", err)
	}
	deps.Specs, err = specs.Load(ctx, []domain.VenueClient{bybitClient, kucoinClient}, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("wire: instrument specs: %w", err)
	}

	// --- Redis quote mirror ---
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })
		deps.QuoteCache = redis.NewQuoteCache(redisClient)
	}

	// --- PostgreSQL trade mirror ---
	if cfg.Postgres.Enabled {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
		}
		deps.TradeStore = postgres.NewTradeStore(pgClient.Pool())
	}

	// --- S3 archive (requires the Postgres store) ---
	if cfg.S3.Enabled && deps.TradeStore != nil {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		deps.Archiver = s3blob.NewArchiver(s3blob.NewWriter(s3Client), deps.TradeStore, logger)
	}

	// --- Trade ledgers ---
	csvLedger, err := ledger.NewCSVLedger(cfg.Ledger.CSVPath, logger)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: csv ledger: %w", err)
	}
	deps.Ledgers = []domain.TradeLedger{csvLedger}
	if deps.TradeStore != nil {
		deps.Ledgers = append(deps.Ledgers, deps.TradeStore)
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	return deps, cleanup, nil
}

// loadAuths resolves venue credentials, decrypting secrets when an encrypted
// path is configured. Venues without an API key get a nil auth and operate on
// public endpoints only.
func loadAuths(cfg *config.Config) (*crypto.BybitAuth, *crypto.KuCoinAuth, error) {
	var bybitAuth *crypto.BybitAuth
	if cfg.Bybit.ApiKey != "" {
		secret, err := crypto.LoadSecret(crypto.SecretConfig{
			RawSecret:     cfg.Bybit.ApiSecret,
			EncryptedPath: cfg.Bybit.EncryptedSecretPath,
			Password:      cfg.Bybit.SecretPassword,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("wire: bybit secret: %w", err)
		}
		bybitAuth = &crypto.BybitAuth{Key: cfg.Bybit.ApiKey, Secret: secret}
	}

	var kucoinAuth *crypto.KuCoinAuth
	if cfg.KuCoin.ApiKey != "" {
		secret, err := crypto.LoadSecret(crypto.SecretConfig{
			RawSecret:     cfg.KuCoin.ApiSecret,
			EncryptedPath: cfg.KuCoin.EncryptedSecretPath,
			Password:      cfg.KuCoin.SecretPassword,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("wire: kucoin secret: %w", err)
		}
		kucoinAuth = &crypto.KuCoinAuth{
			Key:        cfg.KuCoin.ApiKey,
			Secret:     secret,
			Passphrase: cfg.KuCoin.ApiPassphrase,
		}
	}

	return bybitAuth, kucoinAuth, nil
}
