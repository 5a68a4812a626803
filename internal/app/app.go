// Package app wires the delivery engine, campaign orchestration and HTTP
// surfaces together from a single configuration.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mailkite/mailkite/internal/api"
	"github.com/mailkite/mailkite/internal/campaign"
	"github.com/mailkite/mailkite/internal/config"
	"github.com/mailkite/mailkite/internal/db"
	"github.com/mailkite/mailkite/internal/dkim"
	"github.com/mailkite/mailkite/internal/metrics"
	"github.com/mailkite/mailkite/internal/models"
	"github.com/mailkite/mailkite/internal/queue"
	"github.com/mailkite/mailkite/internal/ratelimit"
	"github.com/mailkite/mailkite/internal/render"
	"github.com/mailkite/mailkite/internal/repository"
	"github.com/mailkite/mailkite/internal/transport"
	"github.com/mailkite/mailkite/internal/worker"
)

// App is the main application
type App struct {
	config     *config.Config
	database   *db.DB
	queue      *queue.BoltStorage
	limiter    ratelimit.Store
	engine     *worker.Engine
	scheduler  *campaign.Scheduler
	apiServer  *api.Server
	metricsSrv *metrics.Server
	collector  *metrics.Collector
	logger     *slog.Logger
}

// New creates a new application
func New(cfg *config.Config) (*App, error) {
	logger := setupLogger(cfg.Logging)

	database, err := db.New(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := database.Migrate(); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	storage, err := queue.NewBoltStorage(cfg.Queue.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open queue: %w", err)
	}

	limiter, err := newRateLimitStore(cfg.RateLimit, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create rate limit store: %w", err)
	}

	var signer *dkim.Signer
	if cfg.DKIM.Enabled {
		signer, err = dkim.NewSignerFromFile(cfg.DKIM.KeyFile, cfg.DKIM.Domain, cfg.DKIM.Selector)
		if err != nil {
			return nil, fmt.Errorf("failed to load DKIM key: %w", err)
		}
		logger.Info("DKIM signing enabled", "domain", cfg.DKIM.Domain, "selector", cfg.DKIM.Selector)
	}

	repos := worker.Repositories{
		Campaigns: repository.NewCampaignRepository(database.DB),
		Contacts:  repository.NewContactRepository(database.DB),
		Profiles:  repository.NewProfileRepository(database.DB),
		Sends:     repository.NewSendRepository(database.DB),
		Bounces:   repository.NewBounceRepository(database.DB),
	}
	tracking := repository.NewTrackingRepository(database.DB)

	renderer := render.New(cfg.Tracking.BaseURL, cfg.Tracking.UnsubscribeBaseURL)

	m := metrics.New()

	mailerFactory := func(profile *models.SmtpProfile) transport.Mailer {
		mailer := transport.NewSMTPMailer(profile, cfg.Worker.SendTimeout, logger)
		if signer != nil {
			mailer.SetDKIMSigner(signer)
		}
		return mailer
	}

	engine := worker.NewEngine(storage, repos, limiter, renderer, mailerFactory, m,
		worker.Config{
			Workers:           cfg.Worker.Workers,
			PollInterval:      cfg.Worker.PollInterval,
			DispatchPerMinute: cfg.Worker.DispatchPerMinute,
			MaxRetries:        cfg.Queue.MaxRetries,
			RetryInterval:     cfg.Queue.RetryInterval,
			SendTimeout:       cfg.Worker.SendTimeout,
		},
		logger,
	)

	orchestrator := campaign.NewOrchestrator(repos.Campaigns, repos.Contacts, storage, logger)
	scheduler := campaign.NewScheduler(orchestrator, time.Minute, logger)

	apiServer := api.NewServer(orchestrator, repos.Campaigns, repos.Contacts, tracking,
		storage, m, &cfg.Server, logger)

	app := &App{
		config:    cfg,
		database:  database,
		queue:     storage,
		limiter:   limiter,
		engine:    engine,
		scheduler: scheduler,
		apiServer: apiServer,
		logger:    logger,
	}

	if cfg.Metrics.Enabled {
		app.metricsSrv = metrics.NewServer(m, cfg.Metrics.ListenAddr, cfg.Metrics.Path,
			logger.With("component", "metrics"))
		app.collector = metrics.NewCollector(m, queueGaugeAdapter{storage}, 15*time.Second)
	}

	return app, nil
}

// newRateLimitStore selects the counter store backend.
func newRateLimitStore(cfg config.RateLimitConfig, logger *slog.Logger) (ratelimit.Store, error) {
	switch cfg.Backend {
	case "", "memory":
		return ratelimit.NewMemoryStore(), nil
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := client.Ping(context.Background()).Err(); err != nil {
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		logger.Info("redis rate limit store enabled", "addr", cfg.Redis.Addr)
		return ratelimit.NewRedisStore(client), nil
	default:
		return nil, fmt.Errorf("unknown rate limit backend %q", cfg.Backend)
	}
}

// queueGaugeAdapter exposes queue depths to the metrics collector.
type queueGaugeAdapter struct {
	storage *queue.BoltStorage
}

func (a queueGaugeAdapter) QueueGauges(ctx context.Context) (*metrics.QueueStats, error) {
	stats, err := a.storage.Stats(ctx)
	if err != nil {
		return nil, err
	}
	return &metrics.QueueStats{
		Pending:  stats.Pending,
		Deferred: stats.Deferred,
		Failed:   stats.Failed,
	}, nil
}

// Run starts all components and waits for shutdown
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("starting mailkite",
		"api_addr", a.config.Server.ListenAddr,
		"workers", a.config.Worker.Workers,
		"dispatch_per_minute", a.config.Worker.DispatchPerMinute,
	)

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a.engine.Start(ctx)
	a.scheduler.Start(ctx)
	if a.collector != nil {
		a.collector.Start(ctx)
	}

	errCh := make(chan error, 2)

	go func() {
		if err := a.apiServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("api server: %w", err)
		}
	}()

	if a.metricsSrv != nil {
		go func() {
			if err := a.metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				errCh <- fmt.Errorf("metrics server: %w", err)
			}
		}()
	}

	select {
	case <-ctx.Done():
		a.logger.Info("shutdown signal received")
	case err := <-errCh:
		a.logger.Error("server error", "error", err)
		cancel()
	}

	return a.Shutdown(context.Background())
}

// RunWorker starts the delivery engine, scheduler and metrics without the
// campaign API. The process still needs exclusive access to its queue and
// database files.
func (a *App) RunWorker(ctx context.Context) error {
	a.logger.Info("starting mailkite worker",
		"workers", a.config.Worker.Workers,
		"dispatch_per_minute", a.config.Worker.DispatchPerMinute,
	)

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a.engine.Start(ctx)
	a.scheduler.Start(ctx)
	if a.collector != nil {
		a.collector.Start(ctx)
	}

	errCh := make(chan error, 1)

	if a.metricsSrv != nil {
		go func() {
			if err := a.metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				errCh <- fmt.Errorf("metrics server: %w", err)
			}
		}()
	}

	select {
	case <-ctx.Done():
		a.logger.Info("shutdown signal received")
	case err := <-errCh:
		a.logger.Error("server error", "error", err)
		cancel()
	}

	return a.Shutdown(context.Background())
}

// Shutdown gracefully shuts down all components. Jobs that were never
// dequeued stay pending in the queue and resume on the next start.
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	// Stop producing and consuming work first.
	a.scheduler.Stop()
	a.engine.Stop()
	if a.collector != nil {
		a.collector.Stop()
	}

	if err := a.apiServer.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("api server shutdown error", "error", err)
	}
	if a.metricsSrv != nil {
		if err := a.metricsSrv.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("metrics server shutdown error", "error", err)
		}
	}

	if err := a.limiter.Close(); err != nil {
		a.logger.Error("rate limit store close error", "error", err)
	}
	if err := a.queue.Close(); err != nil {
		a.logger.Error("queue close error", "error", err)
	}
	if err := a.database.Close(); err != nil {
		a.logger.Error("database close error", "error", err)
	}

	a.logger.Info("shutdown complete")
	return nil
}

// setupLogger creates a logger based on configuration
func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	var handler slog.Handler

	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
