package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/lmsrmarket/internal/cache/redis"
	"github.com/alanyoungcy/lmsrmarket/internal/crypto"
	"github.com/alanyoungcy/lmsrmarket/internal/notify"
	"github.com/alanyoungcy/lmsrmarket/internal/resolution"
	"github.com/alanyoungcy/lmsrmarket/internal/server"
	"github.com/alanyoungcy/lmsrmarket/internal/server/handler"
	"github.com/alanyoungcy/lmsrmarket/internal/server/ws"
	"github.com/alanyoungcy/lmsrmarket/internal/service"
)

// ServerMode serves the HTTP and WebSocket API and settles expired
// assertions in the background.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "entering server mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startSettler(ctx, g, deps)
	a.startNotifier(ctx, g, deps)
	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps)
	}
	return wait(g)
}

// ArchiveMode only exports trade events to object storage on a schedule.
func (a *App) ArchiveMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "entering archive mode")
	if deps.Archiver == nil {
		return fmt.Errorf("app: archive mode requires s3.enabled")
	}

	g, ctx := errgroup.WithContext(ctx)
	a.startArchiver(ctx, g, deps)
	return wait(g)
}

// FullMode runs the API, the settler and the archive worker in one process.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "entering full mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startSettler(ctx, g, deps)
	a.startNotifier(ctx, g, deps)
	if deps.Archiver != nil {
		a.startArchiver(ctx, g, deps)
	} else {
		a.logger.InfoContext(ctx, "archive: s3 disabled, skipping archive worker")
	}
	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps)
	}
	return wait(g)
}

// wait blocks on g and treats cancellation as a clean exit.
func wait(g *errgroup.Group) error {
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func (a *App) startSettler(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	settler := resolution.NewSettler(
		deps.Resolver,
		deps.Ledger,
		deps.LockManager,
		a.cfg.Resolution.SettleInterval.Duration,
		a.logger,
	)
	g.Go(func() error {
		return settler.Run(ctx)
	})
}

// startNotifier forwards lifecycle events to chat alerts when a sender is
// configured. With Redis every instance sees every event, so operators should
// configure senders on one instance only.
func (a *App) startNotifier(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	if !deps.Notifier.Enabled() {
		return
	}
	watcher := notify.NewWatcher(deps.SignalBus, redis.AllMarketsPattern, deps.Notifier, a.logger)
	g.Go(func() error {
		return watcher.Run(ctx)
	})
}

func (a *App) startArchiver(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	worker := service.NewArchiveWorker(
		deps.Ledger,
		deps.Archiver,
		deps.LockManager,
		a.cfg.Archive.Interval.Duration,
		a.logger,
	)
	g.Go(func() error {
		return worker.Run(ctx)
	})
}

// startHTTPServer adds the API server and the WebSocket hub to the given
// errgroup. The server is shut down gracefully when the context is
// cancelled.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	startedAt := time.Now().UTC()
	svc := deps.Service

	hub := ws.NewHub(deps.SignalBus, a.logger, ws.Config{
		Channel:   redis.AllMarketsPattern,
		Stream:    redis.EventStream,
		StartedAt: startedAt,
	})
	g.Go(func() error {
		return hub.Run(ctx)
	})

	srv := server.NewServer(
		server.Config{
			Port:        a.cfg.Server.Port,
			CORSOrigins: a.cfg.Server.CORSOrigins,
			APIKey:      a.cfg.Server.APIKey,
			RateLimit:   a.cfg.Server.RateLimit,
			RateWindow:  a.cfg.Server.RateWindow.Duration,
		},
		server.Handlers{
			Health:     handler.NewHealthHandler(svc, startedAt, a.logger).WithProbes(deps.Probes),
			Markets:    handler.NewMarketHandler(svc, a.logger),
			Trades:     handler.NewTradeHandler(svc, a.logger),
			Resolution: handler.NewResolutionHandler(svc, deps.Clock, a.logger),
			Balances:   handler.NewBalanceHandler(svc, a.logger),
			Admin:      handler.NewAdminHandler(svc, a.logger),
			Metrics:    promhttp.HandlerFor(deps.Registry, promhttp.HandlerOpts{}),
		},
		server.Deps{
			Verifier: crypto.NewVerifier(a.cfg.Server.SignatureMaxSkew.Duration, nil),
			Limiter:  deps.RateLimiter,
		},
		hub,
		a.logger,
	)

	g.Go(func() error {
		a.logger.InfoContext(ctx, "HTTP server listening",
			slog.Int("port", a.cfg.Server.Port),
			slog.String("url", fmt.Sprintf("http://localhost:%d", a.cfg.Server.Port)),
		)
		return srv.Start()
	})

	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}
