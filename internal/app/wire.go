package app

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/alanyoungcy/lmsrmarket/internal/access"
	s3blob "github.com/alanyoungcy/lmsrmarket/internal/blob/s3"
	"github.com/alanyoungcy/lmsrmarket/internal/cache/redis"
	"github.com/alanyoungcy/lmsrmarket/internal/chain"
	"github.com/alanyoungcy/lmsrmarket/internal/config"
	"github.com/alanyoungcy/lmsrmarket/internal/domain"
	"github.com/alanyoungcy/lmsrmarket/internal/fees"
	"github.com/alanyoungcy/lmsrmarket/internal/ledger"
	"github.com/alanyoungcy/lmsrmarket/internal/notify"
	"github.com/alanyoungcy/lmsrmarket/internal/resolution"
	"github.com/alanyoungcy/lmsrmarket/internal/server/handler"
	"github.com/alanyoungcy/lmsrmarket/internal/server/middleware"
	"github.com/alanyoungcy/lmsrmarket/internal/service"
	"github.com/alanyoungcy/lmsrmarket/internal/store/memory"
	"github.com/alanyoungcy/lmsrmarket/internal/store/postgres"
	"github.com/alanyoungcy/lmsrmarket/internal/store/sqlite"
)

// metricsNamespace prefixes every exported Prometheus metric.
const metricsNamespace = "lmsr"

// balanceSource is a balance lookup that owns its RPC connection.
type balanceSource interface {
	access.BalanceLookup
	Close()
}

// dialBalances connects the token-gating balance lookup. Tests swap it out.
var dialBalances = func(ctx context.Context, rpcURL string, timeout time.Duration) (balanceSource, error) {
	b, err := chain.Dial(ctx, rpcURL, timeout)
	if err != nil {
		return nil, err
	}
	return b, nil
}

// Dependencies bundles every dependency that the application modes need to
// operate. It is constructed by Wire and torn down by the returned cleanup
// function.
type Dependencies struct {
	// Stores
	LedgerStore domain.LedgerStore
	AuditStore  domain.AuditStore

	// Caches and coordination. PriceCache and LockManager are nil without
	// Redis.
	PriceCache  domain.PriceCache
	RateLimiter domain.RateLimiter
	LockManager domain.LockManager
	SignalBus   domain.SignalBus

	// Blob storage; nil unless S3 is enabled.
	Archiver domain.Archiver

	// Metrics
	Registry *prometheus.Registry
	Metrics  *service.Metrics

	// Core
	Clock    domain.Clock
	Gate     *access.Gate
	Ledger   *ledger.Ledger
	Resolver *resolution.Resolver
	Service  *service.MarketService

	// Notifications
	Notifier *notify.Notifier

	// Readiness checks for the external services in use.
	Probes map[string]handler.Probe
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources. The ledger is hydrated from the
// store before Wire returns.
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
		Clock:  domain.SystemClock{},
		Probes: make(map[string]handler.Probe),
	}

	// --- Ledger store ---
	switch strings.ToLower(cfg.Store.Driver) {
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
		deps.Probes["postgres"] = pgClient.Ping

		// Run migrations if enabled.
		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				return fail(fmt.Errorf("wire: postgres migrations: %w", err))
			}
		}
		deps.LedgerStore = pgClient.LedgerStore()
		deps.AuditStore = pgClient.AuditStore()

	case "sqlite":
		st, err := sqlite.Open(cfg.SQLite.Path)
		if err != nil {
			return fail(fmt.Errorf("wire: sqlite: %w", err))
		}
		closers = append(closers, func() { _ = st.Close() })
		deps.LedgerStore = st
		deps.AuditStore = st

	case "memory":
		logger.Warn("wire: using in-memory store; state is lost on restart")
		st := memory.New()
		deps.LedgerStore = st
		deps.AuditStore = st

	default:
		return fail(fmt.Errorf("wire: unknown store driver %q", cfg.Store.Driver))
	}

	// --- Redis, or in-process stand-ins ---
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
			return fail(fmt.Errorf("wire: redis: %w", err))
		}
		closers = append(closers, func() { _ = redisClient.Close() })
		deps.Probes["redis"] = redisClient.Ping

		deps.PriceCache = redis.NewPriceCache(redisClient, cfg.Redis.PriceTTL.Duration)
		deps.RateLimiter = redis.NewRateLimiter(redisClient)
		deps.LockManager = redis.NewLockManager(redisClient)
		deps.SignalBus = redis.NewSignalBus(redisClient)
	} else {
		logger.Info("wire: redis disabled; using in-process bus and rate limiter")
		deps.RateLimiter = middleware.NewLocalLimiter(10 * time.Minute)
		deps.SignalBus = memory.NewBus()
	}

	// --- S3 archive ---
	if cfg.S3.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			Prefix:         cfg.S3.Prefix,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: s3: %w", err))
		}
		closers = append(closers, func() { _ = s3Client.Close() })
		if err := s3Client.Health(ctx); err != nil {
			return fail(fmt.Errorf("wire: %w", err))
		}
		deps.Probes["s3"] = s3Client.Health

		deps.Archiver = s3blob.NewArchiver(
			s3blob.NewWriter(s3Client),
			s3blob.NewReader(s3Client),
			deps.LedgerStore,
			deps.AuditStore,
			deps.Clock,
		)
	}

	// --- Metrics ---
	deps.Registry = prometheus.NewRegistry()
	deps.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	deps.Metrics = service.PrometheusMetrics(metricsNamespace, deps.Registry)

	// --- Access gate ---
	var balances access.BalanceLookup
	if cfg.Chain.RPCURL != "" {
		src, err := dialBalances(ctx, cfg.Chain.RPCURL, cfg.Chain.Timeout.Duration)
		if err != nil {
			return fail(fmt.Errorf("wire: chain: %w", err))
		}
		closers = append(closers, src.Close)
		balances = src
	}
	gate, err := newGate(cfg.Access, balances, logger)
	if err != nil {
		return fail(fmt.Errorf("wire: %w", err))
	}
	deps.Gate = gate

	// --- Ledger, resolver and service ---
	publisher := service.NewBusPublisher(deps.SignalBus, deps.PriceCache, deps.Metrics, logger)
	deps.Ledger = ledger.New(
		deps.LedgerStore,
		deps.AuditStore,
		gate,
		fees.NewDistributor(gate),
		deps.Clock,
		publisher,
		ledger.Config{
			MinDuration:    cfg.Market.MinDuration.Duration,
			MaxDuration:    cfg.Market.MaxDuration.Duration,
			MaxOutcomes:    cfg.Market.MaxOutcomes,
			MaxQuestionLen: cfg.Market.MaxQuestionLen,
		},
		logger,
	)
	if err := deps.Ledger.Load(ctx); err != nil {
		return fail(fmt.Errorf("wire: %w", err))
	}

	minBond, err := cfg.Resolution.MinBondAmount()
	if err != nil {
		return fail(fmt.Errorf("wire: resolution: %w", err))
	}
	deps.Resolver, err = resolution.NewResolver(deps.Ledger, resolution.Config{
		DisputeWindow: cfg.Resolution.DisputeWindow.Duration,
		MinBond:       minBond,
		BondPolicy:    resolution.BondPolicy(cfg.Resolution.BondPolicy),
	}, logger)
	if err != nil {
		return fail(fmt.Errorf("wire: %w", err))
	}

	deps.Service = service.NewMarketService(
		deps.Ledger,
		deps.Resolver,
		gate,
		deps.AuditStore,
		deps.PriceCache,
		deps.Archiver,
		deps.Metrics,
		logger,
	)

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender("", cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	logger.Info("wire: ready",
		slog.String("store", cfg.Store.Driver),
		slog.Bool("redis", cfg.Redis.Enabled),
		slog.Bool("archive", deps.Archiver != nil),
		slog.Bool("token_gating", balances != nil),
		slog.Int("notify_senders", len(senders)),
		slog.Int("markets", deps.Service.Count()),
	)
	return deps, cleanup, nil
}

// newGate builds the creation gate from the access section. An empty protocol
// recipient defaults to the owner.
func newGate(cfg config.AccessConfig, balances access.BalanceLookup, logger *slog.Logger) (*access.Gate, error) {
	owner := common.HexToAddress(cfg.Owner)
	recipient := owner
	if cfg.ProtocolRecipient != "" {
		recipient = common.HexToAddress(cfg.ProtocolRecipient)
	}
	minBalance, err := cfg.MinBalanceInt()
	if err != nil {
		return nil, fmt.Errorf("access: %w", err)
	}
	var token domain.Address
	if cfg.GatingToken != "" {
		token = common.HexToAddress(cfg.GatingToken)
	}
	return access.NewGate(
		access.Config{Owner: owner, ProtocolRecipient: recipient},
		access.CreationSettings{
			GatingToken:    token,
			MinBalance:     new(big.Int).Set(minBalance),
			PublicCreation: cfg.PublicCreation,
		},
		access.FeeSchedule{
			ProtocolBps:   domain.Bps(cfg.ProtocolFeeBps),
			MaxCreatorBps: domain.Bps(cfg.MaxCreatorFeeBps),
		},
		domain.Bps(cfg.MaxTotalFeeBps),
		balances,
		logger,
	)
}
