package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/saturnino-fabrica-de-software/sentinela/internal/alert"
	"github.com/saturnino-fabrica-de-software/sentinela/internal/api"
	"github.com/saturnino-fabrica-de-software/sentinela/internal/config"
	"github.com/saturnino-fabrica-de-software/sentinela/internal/database"
	"github.com/saturnino-fabrica-de-software/sentinela/internal/escalate"
	"github.com/saturnino-fabrica-de-software/sentinela/internal/events"
	"github.com/saturnino-fabrica-de-software/sentinela/internal/health"
	"github.com/saturnino-fabrica-de-software/sentinela/internal/notify"
	"github.com/saturnino-fabrica-de-software/sentinela/internal/provider"
	"github.com/saturnino-fabrica-de-software/sentinela/internal/provider/mock"
	"github.com/saturnino-fabrica-de-software/sentinela/internal/rule"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger := config.NewLogger(cfg.Environment)
	slog.SetDefault(logger)

	logger.Info("starting sentinela monitor",
		slog.String("environment", cfg.Environment),
		slog.Int("port", cfg.Port),
		slog.Any("units", cfg.Units),
	)

	defs, err := config.LoadDefinitions(cfg.DefinitionsFile, cfg)
	if err != nil {
		return fmt.Errorf("failed to load alert definitions: %w", err)
	}

	bus := events.NewBus()
	bus.Subscribe(events.LogSubscriber(logger))

	files, err := alert.NewFileStore(filepath.Join(cfg.DataDir, "alerts"))
	if err != nil {
		return fmt.Errorf("failed to open alert store: %w", err)
	}
	store, err := alert.NewStore(files, bus, logger)
	if err != nil {
		return fmt.Errorf("failed to load alerts: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var pool *pgxpool.Pool
	var history *alert.Repository
	if cfg.DatabaseURL != "" {
		if err := database.Migrate(cfg.DatabaseURL); err != nil {
			return fmt.Errorf("failed to migrate database: %w", err)
		}
		pool, err = database.NewPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("failed to open database: %w", err)
		}
		defer pool.Close()

		history = alert.NewRepository(pool)
		store.SetHistory(history)

		retention := alert.NewRetentionWorker(history, cfg.HistoryRetention(), time.Hour, logger)
		go retention.Run(ctx)

		logger.Info("alert history enabled",
			slog.Int("retention_days", cfg.HistoryRetentionDays))
	}

	dispatcher := notify.NewDispatcher(defs.Channels, notify.NewSenderRegistry(), bus, logger)
	store.SetNotifier(dispatcher)

	scheduler := escalate.NewScheduler(defs.Policies, store, dispatcher, bus, logger)
	store.SetEscalator(scheduler)

	metrics, recovery := buildProviders(cfg, logger)

	reports, err := health.NewReportStore(filepath.Join(cfg.DataDir, "reports"))
	if err != nil {
		return fmt.Errorf("failed to open report store: %w", err)
	}

	sampler := health.NewSampler(
		health.Config{
			Units:               cfg.Units,
			Interval:            cfg.SampleInterval(),
			CheckTimeout:        cfg.CheckTimeout(),
			RetryAttempts:       cfg.RetryAttempts,
			AutoRecovery:        cfg.AutoRecovery,
			MaxConcurrentChecks: cfg.MaxConcurrentChecks,
			Thresholds: health.Thresholds{
				CriticalScore:  cfg.CriticalScore,
				DegradedScore:  cfg.DegradedScore,
				ErrorRate:      cfg.ErrorRate,
				ResponseTimeMS: cfg.ResponseTimeMS,
			},
		},
		metrics, recovery,
		health.NewSystemCollector(),
		rule.NewEngine(nil, nil, logger),
		defs.Rules,
		store,
		reports,
		bus,
		logger,
	)
	sampler.StartMonitoring(ctx)

	router := api.NewRouter(logger, &api.Dependencies{
		Sampler: sampler,
		Alerts:  store,
		Reports: reports,
		History: history,
		DB:      pool,
	})
	router.Setup()

	errChan := make(chan error, 1)
	go func() {
		addr := fmt.Sprintf(":%d", cfg.Port)
		logger.Info("server listening", slog.String("addr", addr))
		if err := router.Listen(addr); err != nil {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errChan:
		sampler.StopMonitoring()
		return fmt.Errorf("server error: %w", err)
	}

	shutdownDone := make(chan struct{})
	go func() {
		defer close(shutdownDone)
		sampler.StopMonitoring()
		dispatcher.Flush()
		if err := router.Shutdown(); err != nil {
			logger.Error("shutdown error", slog.Any("error", err))
		}
	}()

	select {
	case <-shutdownDone:
		logger.Info("monitor stopped")
	case <-time.After(10 * time.Second):
		logger.Warn("shutdown timed out")
	}

	return nil
}

// buildProviders selects the HTTP collaborators when their URLs are
// configured, falling back to the deterministic in-process stub otherwise.
func buildProviders(cfg *config.Config, logger *slog.Logger) (provider.MetricsProvider, provider.RecoveryService) {
	if cfg.DiagnosticsURL == "" {
		logger.Warn("no diagnostics url configured, using stub provider")
		stub := mock.New()
		return stub, stub
	}

	clientCfg := provider.DefaultConfig()
	clientCfg.BaseURL = cfg.DiagnosticsURL
	clientCfg.Timeout = cfg.CheckTimeout()
	clientCfg.RetryCount = cfg.RetryAttempts
	metrics := provider.NewClient(clientCfg)

	if cfg.RecoveryURL == "" || cfg.RecoveryURL == cfg.DiagnosticsURL {
		return metrics, metrics
	}

	recoveryCfg := clientCfg
	recoveryCfg.BaseURL = cfg.RecoveryURL
	return metrics, provider.NewClient(recoveryCfg)
}
