package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/sentibot/internal/config"
	"github.com/alanyoungcy/sentibot/internal/domain"
	"github.com/alanyoungcy/sentibot/internal/executor"
	"github.com/alanyoungcy/sentibot/internal/feed"
	"github.com/alanyoungcy/sentibot/internal/monitor"
	"github.com/alanyoungcy/sentibot/internal/pipeline"
	"github.com/alanyoungcy/sentibot/internal/server"
	"github.com/alanyoungcy/sentibot/internal/server/handler"
	"github.com/alanyoungcy/sentibot/internal/server/ws"
	"github.com/alanyoungcy/sentibot/internal/service"
	"github.com/alanyoungcy/sentibot/internal/strategy"
)

// core is the trading chain shared by every mode. queue, signals and exec
// are nil in monitor mode.
type core struct {
	risk       *service.RiskService
	orders     *service.OrderService
	prices     *service.PriceService
	summary    *service.SummaryService
	supervisor *monitor.Supervisor

	queue   *feed.Queue
	signals *strategy.Sentiment
	exec    *executor.Executor
}

func (a *App) buildCore(deps *Dependencies, trading bool) (*core, error) {
	cfg := a.cfg
	c := &core{}

	c.risk = service.NewRiskService(deps.PositionStore, deps.Venue, service.RiskConfig{
		MaxDailyTrades:   cfg.Risk.MaxDailyTrades,
		DailyLossLimit:   cfg.Risk.DailyLossLimit,
		MaxOpenPositions: cfg.Risk.MaxOpenPositions,
		QuoteAsset:       cfg.Trading.QuoteAsset,
	}, a.logger)

	c.orders = service.NewOrderService(
		deps.PositionStore, deps.OrderStore, deps.AuditStore, deps.Venue, c.risk, deps.LockManager,
		service.OrderConfig{
			TradeAmountUSDT:    cfg.Trading.TradeAmountUSDT,
			TradeAmounts:       cfg.Trading.TradeAmounts,
			StopLossPercentage: cfg.Trading.StopLossPercentage,
			LockTTL:            cfg.Trading.LockTTL.Duration,
			LockWait:           cfg.Trading.LockWait.Duration,
			SettleTimeout:      cfg.Monitor.CloseTimeout.Duration,
		},
		a.logger,
	).WithNotifier(deps.Notifier)
	if deps.SignalBus != nil {
		c.orders.WithBus(deps.SignalBus)
	}

	c.prices = service.NewPriceService(deps.Venue, deps.PriceCache, deps.SignalBus, a.logger)
	c.summary = service.NewSummaryService(deps.PositionStore, deps.OrderStore, deps.Venue, c.risk, 0, a.logger)

	c.supervisor = monitor.NewSupervisor(deps.PositionStore, deps.Venue, c.orders, monitorConfig(cfg.Monitor), a.logger).
		WithPrices(c.prices).
		WithNotifier(deps.Notifier)
	c.orders.WithTracker(c.supervisor)

	if !trading {
		return c, nil
	}

	policy, err := feed.ParseBackpressure(cfg.News.Backpressure)
	if err != nil {
		return nil, err
	}
	c.queue = feed.NewQueue(cfg.News.QueueSize, policy)
	c.signals = strategy.NewSentiment(strategy.Config{
		SupportedCoins:     cfg.Trading.SupportedCoins,
		QuoteAsset:         cfg.Trading.QuoteAsset,
		MinConfidence:      cfg.Trading.MinConfidence,
		SentimentThreshold: cfg.Trading.SentimentThreshold,
	}, deps.PositionStore, a.logger)

	c.exec = executor.NewExecutor(c.queue.C(), c.signals, c.orders, cfg.News.DedupTTL.Duration, a.logger)
	if cfg.Redis.Enabled {
		c.exec.WithDeduper(executor.NewLockDedup(deps.LockManager, cfg.News.DedupTTL.Duration))
	}
	return c, nil
}

func monitorConfig(m config.MonitorConfig) monitor.Config {
	return monitor.Config{
		PollInterval:      m.PollInterval.Duration,
		ReconcileInterval: m.ReconcileInterval.Duration,
		JoinTimeout:       m.JoinTimeout.Duration,
		ShutdownTimeout:   m.ShutdownTimeout.Duration,
		CloseTimeout:      m.CloseTimeout.Duration,
		PriceLogInterval:  m.PriceLogInterval.Duration,
	}
}

// TradeMode runs the full signal pipeline: event feeds, executor, stop-loss
// supervisor and the HTTP API.
func (a *App) TradeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting trade mode")
	c, err := a.buildCore(deps, true)
	if err != nil {
		return fmt.Errorf("trade mode: %w", err)
	}
	g, ctx := errgroup.WithContext(ctx)
	a.startTrading(ctx, g, deps, c)
	a.startServer(ctx, g, deps, c)
	return g.Wait()
}

// MonitorMode runs the stop-loss supervisor and the HTTP API. No new
// positions are opened; stop-losses and manual closes still execute.
func (a *App) MonitorMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting monitor mode")
	c, err := a.buildCore(deps, false)
	if err != nil {
		return fmt.Errorf("monitor mode: %w", err)
	}
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return c.supervisor.Run(ctx) })
	a.startServer(ctx, g, deps, c)
	return g.Wait()
}

// FullMode is trade mode plus the scheduled cold-storage archiver.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")
	c, err := a.buildCore(deps, true)
	if err != nil {
		return fmt.Errorf("full mode: %w", err)
	}
	g, ctx := errgroup.WithContext(ctx)
	a.startTrading(ctx, g, deps, c)
	a.startArchiver(ctx, g, deps)
	a.startServer(ctx, g, deps, c)
	return g.Wait()
}

func (a *App) startTrading(ctx context.Context, g *errgroup.Group, deps *Dependencies, c *core) {
	g.Go(func() error { return c.supervisor.Run(ctx) })
	g.Go(func() error {
		err := c.exec.Run(ctx)
		st := c.exec.Stats()
		a.logger.Info("executor totals",
			slog.Int64("events", st.Events),
			slog.Int64("duplicates", st.Duplicates),
			slog.Int64("signals", st.Signals),
			slog.Int64("executed", st.Executed),
			slog.Int64("denied", st.Denied),
			slog.Int64("failed", st.Failed),
			slog.Int64("queue_dropped", c.queue.Dropped()),
		)
		return err
	})

	if url := a.cfg.News.WebSocketURL; url != "" {
		wsFeed := feed.NewNewsWSFeed(url, nil, c.queue, a.logger)
		g.Go(func() error { return wsFeed.Run(ctx) })
	}
	if deps.SignalBus != nil && a.cfg.News.StreamName != "" {
		feeder := feed.NewStreamFeeder(deps.SignalBus, c.queue, feed.StreamConfig{
			Stream:       a.cfg.News.StreamName,
			Batch:        a.cfg.News.StreamBatch,
			PollInterval: a.cfg.News.PollInterval.Duration,
		}, a.logger)
		g.Go(func() error { return feeder.Run(ctx) })
	}
	if a.cfg.News.WebSocketURL == "" && deps.SignalBus == nil && !a.cfg.Server.Enabled {
		a.logger.WarnContext(ctx, "no event source configured; the executor will stay idle")
	}
}

func (a *App) startArchiver(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	if deps.Archiver == nil {
		a.logger.InfoContext(ctx, "archive disabled")
		return
	}
	arch := pipeline.NewArchiver(deps.Archiver, a.cfg.Archive.RetentionDays, a.logger)
	g.Go(func() error { return arch.RunCron(ctx, a.cfg.Archive.Cron) })
}

func (a *App) startServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, c *core) {
	if !a.cfg.Server.Enabled {
		return
	}

	status := a.statusFunc(deps, c)
	symbols := make([]string, 0, len(a.cfg.Trading.SupportedCoins))
	for _, coin := range a.cfg.Trading.SupportedCoins {
		symbols = append(symbols, strategy.SymbolFor(coin, a.cfg.Trading.QuoteAsset))
	}

	var events handler.EventPublisher
	if c.queue != nil {
		events = c.queue
	}
	handlers := server.Handlers{
		Health:    handler.NewHealthHandler(deps.Health, a.logger),
		Status:    handler.NewStatusHandler(status, config.RedactedConfig(a.cfg)),
		Trading:   handler.NewTradingHandler(c.summary, c.supervisor, c.prices, c.risk, symbols, a.logger),
		Positions: handler.NewPositionHandler(deps.PositionStore, c.orders, c.supervisor, a.logger),
		Orders:    handler.NewOrderHandler(deps.OrderStore, deps.AuditStore, a.logger),
		Events:    handler.NewEventHandler(events, a.logger),
	}

	var hub *ws.Hub
	if deps.SignalBus != nil {
		hub = ws.NewHub(deps.SignalBus, []string{service.PositionsChannel, service.PricesChannel}, status, a.logger)
		g.Go(func() error { return hub.Run(ctx) })
	}

	srv := server.NewServer(server.Config{
		Port:            a.cfg.Server.Port,
		CORSOrigins:     a.cfg.Server.CORSOrigins,
		APIKey:          a.cfg.Server.APIKey,
		RateLimit:       a.cfg.Server.RateLimit,
		RateLimitWindow: a.cfg.Server.RateLimitWindow.Duration,
	}, handlers, hub, deps.RateLimiter, a.logger)

	g.Go(srv.Start)
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}

// statusFunc builds the BotStatus provider shared by /api/status and the
// WebSocket hello frame.
func (a *App) statusFunc(deps *Dependencies, c *core) func() domain.BotStatus {
	return func() domain.BotStatus {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()

		st := domain.BotStatus{
			Mode:          a.cfg.Mode,
			Venue:         deps.Venue.Name(),
			Store:         deps.StoreName,
			UptimeSeconds: int64(time.Since(a.startedAt).Seconds()),
			Monitors:      c.supervisor.Status().TotalMonitors,
		}
		if open, err := deps.PositionStore.ListOpen(ctx); err == nil {
			st.OpenPositions = len(open)
		}
		if c.queue != nil {
			st.QueueDepth = c.queue.Len()
			st.QueueDropped = c.queue.Dropped()
		}
		return st
	}
}
