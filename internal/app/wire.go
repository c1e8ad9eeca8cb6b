package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	s3blob "github.com/alanyoungcy/marginbot/internal/blob/s3"
	"github.com/alanyoungcy/marginbot/internal/cache/redis"
	"github.com/alanyoungcy/marginbot/internal/config"
	"github.com/alanyoungcy/marginbot/internal/crypto"
	"github.com/alanyoungcy/marginbot/internal/domain"
	"github.com/alanyoungcy/marginbot/internal/notify"
	"github.com/alanyoungcy/marginbot/internal/observability"
	"github.com/alanyoungcy/marginbot/internal/platform/gateway"
	"github.com/alanyoungcy/marginbot/internal/platform/indexer"
	"github.com/alanyoungcy/marginbot/internal/platform/sui"
	"github.com/alanyoungcy/marginbot/internal/server/handler"
	"github.com/alanyoungcy/marginbot/internal/store/postgres"
)

// Dependencies bundles every infrastructure dependency that the application
// modes need to operate. It is constructed by Wire and torn down by the
// returned cleanup function.
type Dependencies struct {
	// Stores
	ManagerStore     domain.ManagerStore
	AuditStore       domain.AuditStore
	LiquidationStore domain.LiquidationStore

	// Caches
	SnapshotCache     domain.SnapshotCache
	LiquidatableCache domain.LiquidatableCache
	BalanceCache      domain.BalanceCache
	PoolCache         domain.PoolCache
	RateLimiter       domain.RateLimiter
	LockManager       domain.LockManager
	SignalBus         domain.SignalBus

	// Archive, nil unless archive.enabled.
	Archiver domain.Archiver

	// Collaborators
	Indexer *indexer.Client
	Chain   *sui.Client
	// Gateway and Signer are nil in monitor mode.
	Gateway *gateway.Client
	Signer  *crypto.Signer

	Notifier *notify.Notifier
	Metrics  *observability.Metrics

	// Pingers are reported by the health endpoint.
	Pingers map[string]handler.Pinger
}

// pingFunc adapts a health function to handler.Pinger.
type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	network := cfg.NetworkID()
	deps := &Dependencies{Pingers: make(map[string]handler.Pinger)}

	// --- PostgreSQL ---
	pgClient, err := postgres.New(ctx, postgres.ClientConfig{
		DSN:      cfg.Supabase.DSN,
		Host:     cfg.Supabase.Host,
		Port:     cfg.Supabase.Port,
		Database: cfg.Supabase.Database,
		User:     cfg.Supabase.User,
		Password: cfg.Supabase.Password,
		SSLMode:  cfg.Supabase.SSLMode,
		MaxConns: cfg.Supabase.PoolMaxConns,
		MinConns: cfg.Supabase.PoolMinConns,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: postgres: %w", err)
	}
	closers = append(closers, pgClient.Close)
	deps.Pingers["postgres"] = pgClient

	if cfg.Supabase.RunMigrations {
		if err := pgClient.RunMigrations(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
		}
	}

	pool := pgClient.Pool()
	deps.ManagerStore = postgres.NewManagerStore(pool)
	deps.AuditStore = postgres.NewAuditStore(pool)
	deps.LiquidationStore = postgres.NewLiquidationStore(pool)

	// --- Redis ---
	redisClient, err := redis.New(ctx, redis.ClientConfig{
		Addr:       cfg.Redis.Addr,
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		PoolSize:   cfg.Redis.PoolSize,
		MaxRetries: cfg.Redis.MaxRetries,
		TLSEnabled: cfg.Redis.TLSEnabled,
		KeyPrefix:  cfg.RedisPrefix(),
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: redis: %w", err)
	}
	closers = append(closers, func() { _ = redisClient.Close() })
	deps.Pingers["redis"] = redisClient

	deps.SnapshotCache = redis.NewSnapshotCache(redisClient, cfg.Redis.SnapshotTTL.Duration)
	deps.LiquidatableCache = redis.NewLiquidatableCache(redisClient, cfg.Poll.LiquidationInterval.Duration*2)
	deps.BalanceCache = redis.NewBalanceCache(redisClient, cfg.Redis.BalanceTTL.Duration)
	deps.PoolCache = redis.NewPoolCache(redisClient)
	deps.RateLimiter = redis.NewRateLimiter(redisClient, 1, time.Second) // Wait paces liquidation dispatches
	deps.LockManager = redis.NewLockManager(redisClient)
	deps.SignalBus = redis.NewSignalBus(redisClient)

	// --- S3 archive ---
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
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		deps.Pingers["s3"] = pingFunc(s3Client.Health)
		deps.Archiver = s3blob.NewArchiver(
			s3blob.NewWriter(s3Client),
			s3blob.NewReader(s3Client),
			deps.AuditStore,
			deps.LiquidationStore,
		)
	}

	// --- Collaborators ---
	deps.Indexer = indexer.NewClient(cfg.IndexerURL(), cfg.Indexer.Timeout.Duration)
	deps.Chain = sui.NewClient(cfg.RPCURL(), cfg.Gateway.Timeout.Duration, cfg.Gateway.FinalityPollInterval.Duration)

	if cfg.Executes() {
		seed, err := crypto.LoadKey(crypto.KeyConfig{
			RawPrivateKey:    cfg.Wallet.PrivateKey,
			EncryptedKeyPath: cfg.Wallet.EncryptedKeyPath,
			KeyPassword:      cfg.Wallet.KeyPassword,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: wallet: %w", err)
		}
		signer, err := crypto.NewSigner(seed)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: signer: %w", err)
		}
		if want, err := domain.NormalizeObjectID(cfg.Wallet.Address); cfg.Wallet.Address != "" && (err != nil || want != signer.Address()) {
			logger.Warn("wire: configured wallet address does not match key",
				slog.String("configured", cfg.Wallet.Address),
				slog.String("derived", signer.Address()),
			)
		}
		deps.Signer = signer
		deps.Gateway = gateway.NewClient(cfg.Gateway.URL, network, signer, cfg.Gateway.Timeout.Duration)
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

	deps.Metrics = observability.NewMetrics()

	return deps, cleanup, nil
}
