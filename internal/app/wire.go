package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	s3blob "github.com/alanyoungcy/sentibot/internal/blob/s3"
	"github.com/alanyoungcy/sentibot/internal/cache/local"
	"github.com/alanyoungcy/sentibot/internal/cache/redis"
	"github.com/alanyoungcy/sentibot/internal/config"
	"github.com/alanyoungcy/sentibot/internal/crypto"
	"github.com/alanyoungcy/sentibot/internal/domain"
	"github.com/alanyoungcy/sentibot/internal/notify"
	"github.com/alanyoungcy/sentibot/internal/platform/binance"
	"github.com/alanyoungcy/sentibot/internal/platform/paper"
	"github.com/alanyoungcy/sentibot/internal/server/handler"
	"github.com/alanyoungcy/sentibot/internal/store/memory"
	"github.com/alanyoungcy/sentibot/internal/store/postgres"
	"github.com/alanyoungcy/sentibot/internal/store/sqlite"
)

// priceCacheTTL bounds how long an observed price is served from Redis.
const priceCacheTTL = 5 * time.Minute

// Dependencies bundles every domain-level dependency the modes need. It is
// constructed by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	// Stores
	PositionStore domain.PositionStore
	OrderStore    domain.OrderStore
	AuditStore    domain.AuditStore
	StoreName     string

	// Exchange
	Venue domain.Venue

	// Caches and coordination. SignalBus and PriceCache are nil without
	// Redis.
	PriceCache  domain.PriceCache
	RateLimiter domain.RateLimiter
	LockManager domain.LockManager
	SignalBus   domain.SignalBus

	// Cold storage, nil unless archiving is enabled.
	Archiver domain.Archiver

	Notifier *notify.Notifier
	Health   map[string]handler.HealthCheck
}

// Wire constructs all concrete dependency implementations from cfg and
// returns them together with a cleanup function that releases resources in
// reverse order.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, err
	}

	deps := &Dependencies{
		StoreName: cfg.Store.Driver,
		Health:    make(map[string]handler.HealthCheck),
	}

	// --- Store ---
	switch cfg.Store.Driver {
	case "postgres":
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
			return fail(fmt.Errorf("wire: postgres: %w", err))
		}
		closers = append(closers, pgClient.Close)
		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				return fail(fmt.Errorf("wire: postgres migrations: %w", err))
			}
		}
		pool := pgClient.Pool()
		deps.PositionStore = postgres.NewPositionStore(pool)
		deps.OrderStore = postgres.NewOrderStore(pool)
		deps.AuditStore = postgres.NewAuditStore(pool)
		deps.Health["postgres"] = pgClient.Health

	case "sqlite":
		db, err := sqlite.Open(ctx, cfg.Store.SQLitePath)
		if err != nil {
			return fail(fmt.Errorf("wire: sqlite: %w", err))
		}
		closers = append(closers, func() { _ = db.Close() })
		deps.PositionStore = db.Positions()
		deps.OrderStore = db.Orders()
		deps.AuditStore = db.Audit()
		deps.Health["sqlite"] = db.Health

	default:
		deps.PositionStore = memory.NewPositionStore()
		deps.OrderStore = memory.NewOrderStore()
		deps.AuditStore = memory.NewAuditStore()
	}

	// --- Redis (optional) ---
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
			Namespace:  cfg.Redis.Namespace,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: redis: %w", err))
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.PriceCache = redis.NewPriceCache(redisClient, priceCacheTTL)
		deps.RateLimiter = redis.NewRateLimiter(redisClient, cfg.Binance.RequestsPerMinute, time.Minute)
		deps.LockManager = redis.NewLockManager(redisClient)
		deps.SignalBus = redis.NewSignalBus(redisClient)
		deps.Health["redis"] = redisClient.Ping
	} else {
		deps.RateLimiter = local.NewRateLimiter(cfg.Binance.RequestsPerMinute, time.Minute)
		deps.LockManager = local.NewLockManager()
	}

	// --- Venue ---
	switch cfg.Venue.Kind {
	case "binance":
		secret, err := crypto.LoadSecret(crypto.SecretConfig{
			Raw:           cfg.Binance.APISecret,
			EncryptedPath: cfg.Binance.EncryptedSecretPath,
			Password:      cfg.Binance.SecretPassword,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: binance secret: %w", err))
		}
		deps.Venue = binance.New(binance.Config{
			BaseURL:    cfg.Binance.BaseURL,
			APIKey:     cfg.Binance.APIKey,
			APISecret:  secret,
			RecvWindow: time.Duration(cfg.Binance.RecvWindowMs) * time.Millisecond,
			Testnet:    cfg.Binance.Testnet,
		}, deps.RateLimiter)

	default:
		pv := paper.New(paper.Config{
			QuoteAsset:    cfg.Trading.QuoteAsset,
			StartingQuote: cfg.Venue.PaperBalance,
			Prices:        cfg.Venue.PaperPrices,
			Jitter:        cfg.Venue.PaperJitter,
		})
		if err := seedPaperHoldings(ctx, pv, deps.PositionStore); err != nil {
			return fail(fmt.Errorf("wire: seed paper holdings: %w", err))
		}
		deps.Venue = pv
	}

	// --- S3 archive (optional) ---
	if cfg.Archive.Enabled {
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
			return fail(fmt.Errorf("wire: s3: %w", err))
		}
		deps.Archiver = s3blob.NewArchiver(
			s3blob.NewWriter(s3Client).WithPrefix(cfg.S3.Prefix),
			deps.PositionStore,
			deps.OrderStore,
			deps.AuditStore,
		)
		deps.Health["s3"] = s3Client.Health
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	logger.InfoContext(ctx, "dependencies wired",
		slog.String("store", deps.StoreName),
		slog.String("venue", deps.Venue.Name()),
		slog.Bool("redis", cfg.Redis.Enabled),
		slog.Bool("archive", deps.Archiver != nil),
		slog.Int("notify_senders", len(senders)),
	)
	return deps, cleanup, nil
}

// seedPaperHoldings credits the base asset of every open position so a warm
// restart can still sell what the store says is held.
func seedPaperHoldings(ctx context.Context, pv *paper.Venue, positions domain.PositionStore) error {
	open, err := positions.ListOpen(ctx)
	if err != nil {
		return err
	}
	for _, p := range open {
		pv.Credit(pv.BaseAsset(p.Symbol), p.Quantity)
	}
	return nil
}
