// Package bootstrap wires the pipeline components from configuration and runs them
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/dbos-inc/dbos-transact-golang/dbos"
	pyroscope "github.com/grafana/pyroscope-go"
	"golang.org/x/sync/errgroup"

	"signal_trader/internal/alert"
	"signal_trader/internal/auth"
	"signal_trader/internal/core"
	"signal_trader/internal/engine/durable"
	"signal_trader/internal/events"
	"signal_trader/internal/infrastructure/health"
	"signal_trader/internal/infrastructure/server"
	"signal_trader/internal/monitoring"
	"signal_trader/internal/routing"
	"signal_trader/internal/scoring"
	"signal_trader/internal/signalgen"
	"signal_trader/internal/store"
	"signal_trader/internal/trading/execution"
	"signal_trader/internal/trading/monitor"
	"signal_trader/internal/venue"
	"signal_trader/pkg/liveserver"
	"signal_trader/pkg/scheduler"
	"signal_trader/pkg/telemetry"
)

// Version is stamped at build time with -ldflags "-X signal_trader/internal/bootstrap.Version=..."
var Version = "dev"

// Runner is a component that runs until ctx is cancelled
type Runner interface {
	Run(ctx context.Context) error
}

// RunnerFunc adapts a function to Runner
type RunnerFunc func(ctx context.Context) error

func (f RunnerFunc) Run(ctx context.Context) error { return f(ctx) }

// PendingExecutor drains PENDING signals; the in-process and durable executors both satisfy it
type PendingExecutor interface {
	server.SignalExecutor
	ExecutePending(ctx context.Context) (int, error)
}

// App holds the wired pipeline
type App struct {
	Cfg    *Config
	Logger core.ILogger

	Store     core.IStore
	Venues    *venue.Registry
	Bus       *events.Bus
	Hub       *liveserver.Hub
	Alerts    *alert.Dispatcher
	Generator *signalgen.Generator
	Router    *routing.Router
	Trades    *execution.TradeExecutor
	Durable   *durable.Executor
	Monitor   *monitor.PositionMonitor
	Reporter  *monitoring.Reporter
	Health    *health.HealthManager
	API       *server.Server
	GRPC      *server.GRPCHealthServer

	pollers   []*scheduler.Poller
	telemetry *telemetry.Telemetry
	profiler  *pyroscope.Profiler
}

// NewApp loads configuration, starts telemetry and logging, and wires the pipeline
func NewApp(ctx context.Context, configPath, envFile, logLevel string) (*App, error) {
	cfg, err := LoadConfig(configPath, envFile)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if logLevel != "" {
		cfg.System.LogLevel = strings.ToUpper(logLevel)
	}

	var tel *telemetry.Telemetry
	if cfg.Telemetry.EnableMetrics {
		tel, err = telemetry.Setup(ctx, telemetry.Options{
			ServiceName:    cfg.Telemetry.ServiceName,
			ServiceVersion: Version,
			SampleRatio:    cfg.Telemetry.TraceSampleRatio,
			Stdout:         cfg.Telemetry.StdoutExport,
		})
		if err != nil {
			return nil, fmt.Errorf("telemetry: %w", err)
		}
	}

	logger, err := InitLogger(cfg)
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}

	app, err := Build(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	app.telemetry = tel

	if cfg.Telemetry.Profiling.Enabled {
		app.profiler, err = telemetry.StartProfiling(telemetry.ProfilingConfig{
			ApplicationName: cfg.Telemetry.ServiceName,
			ServerAddress:   cfg.Telemetry.Profiling.ServerAddress,
			Tags:            map[string]string{"engine": cfg.App.EngineType},
		}, logger)
		if err != nil {
			logger.Warn("Profiling disabled", "error", err)
		}
	}
	return app, nil
}

// Build wires every component from cfg without starting anything
func Build(ctx context.Context, cfg *Config, logger core.ILogger) (*App, error) {
	a := &App{Cfg: cfg, Logger: logger}

	st, err := openStore(cfg)
	if err != nil {
		return nil, fmt.Errorf("store: %w", err)
	}
	a.Store = st

	if a.Venues, err = venue.FromConfig(cfg.Venues, logger); err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("venues: %w", err)
	}

	a.Bus = events.NewBus(logger)
	a.Hub = liveserver.NewHub(logger)
	a.Alerts = alert.NewDispatcher(logger, alert.WithCooldown(cfg.Alert.Cooldown))
	if cfg.Alert.SlackWebhookURL.IsSet() {
		a.Alerts.AddChannel(alert.NewSlackChannel(string(cfg.Alert.SlackWebhookURL)))
	}
	if cfg.Alert.TelegramBotToken.IsSet() && cfg.Alert.TelegramChatID != "" {
		a.Alerts.AddChannel(alert.NewTelegramChannel(string(cfg.Alert.TelegramBotToken), cfg.Alert.TelegramChatID))
	}
	a.Bus.Subscribe(events.NewMetricsSink(telemetry.GetGlobalMetrics()))
	a.Bus.Subscribe(alert.NewEventSink(a.Alerts))
	a.Bus.Subscribe(events.SinkFunc(func(_ context.Context, e events.Event) {
		a.Hub.Broadcast(liveserver.NewMessage(liveserver.Channel(string(e.Type)), e))
	}))

	var metrics core.IMetricsProvider
	var market core.IMarketContextProvider
	if cfg.Scoring.Enabled {
		lc := scoring.NewLunarCrushClient(cfg.Scoring.BaseURL, string(cfg.Scoring.APIKey), cfg.Scoring.Timeout, logger,
			scoring.WithRequestsPerSecond(cfg.Scoring.RequestsPerSecond))
		metrics, market = lc, lc
	}

	a.Generator = signalgen.NewGenerator(st, scoring.DefaultScorer(), metrics, market, a.Bus, signalgen.Config{
		ConfidenceThreshold: cfg.Generator.ConfidenceThreshold,
		BucketDuration:      cfg.Generator.BucketDuration,
		Lookback:            cfg.Generator.Lookback,
		BatchSize:           cfg.Generator.BatchSize,
		DefaultSizePercent:  cfg.Scoring.DefaultSizePercent,
	}, logger)

	a.Router = routing.NewRouter(st, a.Venues, a.Bus, routing.Config{
		DefaultPriority:     cfg.Routing.DefaultPriority,
		FailoverEnabled:     cfg.Routing.Failover(),
		AvailabilityTimeout: cfg.Routing.AvailabilityTimeout,
	}, logger)

	a.Trades = execution.NewTradeExecutor(st, a.Router, a.Venues, a.Bus, execution.Config{
		BatchSize:           cfg.Executor.BatchSize,
		MaxWorkers:          cfg.Executor.MaxWorkers,
		OrderTimeout:        cfg.Executor.OrderTimeout,
		HardStopLossPercent: cfg.Monitor.HardStopLossPercent,
	}, logger)

	if cfg.App.EngineType == "dbos" {
		dbosCtx, err := dbos.NewDBOSContext(ctx, dbos.Config{
			AppName:     cfg.App.Name,
			DatabaseURL: string(cfg.App.DatabaseURL),
		})
		if err != nil {
			_ = st.Close()
			return nil, fmt.Errorf("dbos: %w", err)
		}
		a.Durable = durable.NewExecutor(dbosCtx, a.Trades, st, cfg.Executor.BatchSize, cfg.System.ShutdownTimeout, logger)
	}

	a.Monitor = monitor.NewPositionMonitor(st, a.Venues, a.Bus, monitor.Config{
		Exit: monitor.ExitConfig{
			HardStopLossPercent:       cfg.Monitor.HardStopLossPercent,
			TrailingActivationPercent: cfg.Monitor.TrailingActivationPercent,
		},
		BatchSize:    cfg.Monitor.BatchSize,
		PriceTimeout: cfg.Monitor.PriceTimeout,
	}, logger)

	a.Reporter = monitoring.NewReporter(st, a.Venues, a.Bus, monitoring.Config{
		RoutingWindow: cfg.Health.RoutingWindow,
		StaleAfter:    cfg.Health.StaleAfter,
		MinMarkets:    cfg.Health.MinMarkets,
	}, logger)

	a.buildPollers()
	a.buildHealth()

	deps := server.Dependencies{
		Store:     st,
		Health:    a.Health,
		Routing:   a.Router,
		Reporter:  a.Reporter,
		Generator: a.Generator,
		Executor:  a.Executor(),
		Live: liveserver.NewHandler(a.Hub, logger, liveserver.Options{
			AllowedOrigins: cfg.Server.AllowedOrigins,
			Production:     cfg.Server.Production,
		}),
	}
	keys := make([]string, 0, len(cfg.Server.AdminAPIKeys))
	hints := make([]string, 0, len(cfg.Server.AdminAPIKeys))
	for _, k := range cfg.Server.AdminAPIKeys {
		if k.IsSet() {
			keys = append(keys, string(k))
			hints = append(hints, k.Hint())
		}
	}
	if len(keys) > 0 {
		deps.AdminAuth = auth.NewAPIKeyValidator(keys, cfg.Server.AdminRateLimit, logger)
		logger.Info("Admin endpoints require an API key", "keys", strings.Join(hints, ","))
	} else {
		logger.Warn("Admin endpoints are unauthenticated; set server.admin_api_keys")
	}
	a.API = server.NewServer(cfg.Server.Port, logger, deps)
	a.API.UpdateStatus("engine", cfg.App.EngineType)
	a.API.UpdateStatus("storage", cfg.Storage.Driver)
	a.API.UpdateStatus("venues", strings.Join(a.Venues.Names(), ","))

	if cfg.Server.GRPCPort > 0 {
		a.GRPC = server.NewGRPCHealthServer(cfg.Server.GRPCPort, a.Health, 5*time.Second, logger)
	}
	return a, nil
}

// Executor returns the durable executor when configured, else the in-process one
func (a *App) Executor() PendingExecutor {
	if a.Durable != nil {
		return a.Durable
	}
	return a.Trades
}

func (a *App) buildPollers() {
	cfg := a.Cfg
	if cfg.Generator.Enabled {
		a.pollers = append(a.pollers, scheduler.NewPoller("signal_generator", cfg.Generator.Interval,
			func(ctx context.Context) error {
				_, err := a.Generator.GenerateBatch(ctx)
				return err
			}, a.Logger, scheduler.WithRunOnStart()))
	}
	if cfg.Executor.Enabled {
		exec := a.Executor()
		a.pollers = append(a.pollers, scheduler.NewPoller("trade_executor", cfg.Executor.Interval,
			func(ctx context.Context) error {
				_, err := exec.ExecutePending(ctx)
				return err
			}, a.Logger, scheduler.WithRunOnStart()))
	}
	if cfg.Monitor.Enabled {
		a.pollers = append(a.pollers, a.Monitor.Poller(cfg.Monitor.Interval, scheduler.WithRunOnStart()))
	}
	a.pollers = append(a.pollers, a.Reporter.Poller(cfg.Health.Interval))
}

func (a *App) buildHealth() {
	a.Health = health.NewHealthManager(a.Logger)
	a.Health.Register("store", func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_, err := a.Store.ListSignals(ctx, core.SignalFilter{Limit: 1})
		return err
	})
	for _, p := range a.pollers {
		a.Health.Register(p.Name(), p.Health)
	}
	a.Health.RegisterOptional("pipeline", func() error {
		report := a.Reporter.Last()
		if report == nil || report.Status == monitoring.StatusHealthy {
			return nil
		}
		return fmt.Errorf("%s: %s", report.Status, strings.Join(report.Recommendations, "; "))
	})
}

// Runners returns every long-running component
func (a *App) Runners() []Runner {
	runners := []Runner{
		RunnerFunc(func(ctx context.Context) error {
			a.Hub.Run(ctx)
			return nil
		}),
		RunnerFunc(a.runAPI),
	}
	if a.GRPC != nil {
		runners = append(runners, a.GRPC)
	}
	for _, p := range a.pollers {
		runners = append(runners, p)
	}
	return runners
}

func (a *App) runAPI(ctx context.Context) error {
	if err := a.API.Start(); err != nil {
		return err
	}
	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.Cfg.System.ShutdownTimeout)
	defer cancel()
	return a.API.Stop(shutdownCtx)
}

// Run starts every runner and blocks until SIGINT/SIGTERM or a runner fails
func (a *App) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return a.RunContext(ctx)
}

// RunContext runs until ctx is cancelled, then shuts the pipeline down
func (a *App) RunContext(ctx context.Context) error {
	if a.Durable != nil {
		if err := a.Durable.Start(ctx); err != nil {
			return fmt.Errorf("dbos launch: %w", err)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	a.Logger.Info("Starting signal trader",
		"engine", a.Cfg.App.EngineType,
		"storage", a.Cfg.Storage.Driver,
		"venues", a.Venues.Names(),
		"pollers", len(a.pollers))

	for _, r := range a.Runners() {
		r := r
		g.Go(func() error { return r.Run(gctx) })
	}

	err := g.Wait()
	a.Shutdown()
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error("Signal trader stopped with error", "error", err)
		return err
	}
	a.Logger.Info("Signal trader shut down gracefully")
	return nil
}

// Shutdown releases resources in reverse dependency order
func (a *App) Shutdown() {
	if a.Durable != nil {
		_ = a.Durable.Stop()
	}
	a.Trades.Stop()
	a.Alerts.Wait()

	if err := a.Store.Close(); err != nil {
		a.Logger.Error("Failed to close store", "error", err)
	}
	if a.profiler != nil {
		_ = a.profiler.Stop()
	}
	if a.telemetry != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.telemetry.Shutdown(ctx); err != nil {
			a.Logger.Error("Telemetry shutdown failed", "error", err)
		}
	}
}

func openStore(cfg *Config) (core.IStore, error) {
	switch cfg.Storage.Driver {
	case "memory":
		return store.NewMemoryStore(), nil
	case "postgres":
		pg := cfg.Storage.Postgres
		return store.NewPostgresStore(store.PostgresOption{
			Host:       pg.Host,
			Port:       pg.Port,
			User:       pg.User,
			Password:   string(pg.Password),
			Database:   pg.Database,
			SSLMode:    pg.SSLMode,
			ConnString: string(pg.ConnString),
		})
	default:
		return store.NewSQLiteStore(cfg.Storage.SQLitePath)
	}
}
