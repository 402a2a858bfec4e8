package main

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/dmitrymomot/newsletter/internal/auth"
	"github.com/dmitrymomot/newsletter/internal/command"
	"github.com/dmitrymomot/newsletter/internal/config"
	"github.com/dmitrymomot/newsletter/internal/content"
	"github.com/dmitrymomot/newsletter/internal/delivery"
	"github.com/dmitrymomot/newsletter/internal/engine"
	"github.com/dmitrymomot/newsletter/internal/httpapi"
	"github.com/dmitrymomot/newsletter/internal/metrics"
	"github.com/dmitrymomot/newsletter/internal/ratelimit"
	"github.com/dmitrymomot/newsletter/internal/server"
	"github.com/dmitrymomot/newsletter/internal/store"
	"github.com/dmitrymomot/newsletter/internal/tasks"
	"github.com/dmitrymomot/newsletter/internal/tracking"
	"github.com/dmitrymomot/newsletter/internal/unsubscribe"
	"github.com/dmitrymomot/newsletter/middlewares"
	"github.com/dmitrymomot/newsletter/pkg/cache"
	"github.com/dmitrymomot/newsletter/pkg/db"
	"github.com/dmitrymomot/newsletter/pkg/health"
	"github.com/dmitrymomot/newsletter/pkg/job"
	"github.com/dmitrymomot/newsletter/pkg/logger"
	"github.com/dmitrymomot/newsletter/pkg/mailer/resend"
	"github.com/dmitrymomot/newsletter/pkg/redis"
	"github.com/dmitrymomot/newsletter/pkg/storage"
)

const pacerKey = "newsletter:send-pacer"

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	log := logger.New(cfg.Log, middlewares.RequestIDExtractor(), logger.ContextAttrsExtractor())

	if err := run(context.Background(), cfg, log); err != nil {
		log.Error("application error", "error", err)
		if cfg.Log.SentryDSN != "" {
			sentry.Flush(2 * time.Second)
		}
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, log *slog.Logger) (err error) {
	// Connections opened before the server starts are closed here when
	// wiring fails; afterwards the shutdown hooks own them.
	var closers []func()
	defer func() {
		if err != nil {
			for i := len(closers) - 1; i >= 0; i-- {
				closers[i]()
			}
		}
	}()

	// Database connection and schema
	pool, err := db.Connect(ctx, cfg.DB)
	if err != nil {
		return err
	}
	closers = append(closers, pool.Close)
	if err := db.Migrate(ctx, pool, store.Migrations, cfg.DB.MigrationsTable, log); err != nil {
		return err
	}

	shutdown := []server.Option{}
	checks := health.Checks{"postgres": db.Healthcheck(pool)}
	st := store.New(pool)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	// Pacing and status cache: shared through Redis when configured,
	// in-process otherwise.
	var limiter ratelimit.Limiter = ratelimit.Interval{Delay: cfg.Engine.BatchDelay}
	var statusCache cache.Cache[engine.StatusView] = cache.NewMemory[engine.StatusView](
		cache.WithDefaultTTL(cfg.Engine.StatusCacheTTL),
		cache.WithMaxEntries(1024),
	)
	if cfg.Redis.Enabled() {
		client, err := redis.Connect(ctx, cfg.Redis)
		if err != nil {
			return err
		}
		closers = append(closers, func() { _ = client.Close() })
		checks["redis"] = redis.Healthcheck(client)
		shutdown = append(shutdown, server.ShutdownHook(redis.Shutdown(client)))

		// A zero delay disables pacing, so there is nothing to coordinate.
		if cfg.Engine.BatchDelay > 0 {
			limiter = ratelimit.Fallback{
				Primary:   ratelimit.NewRedisPacer(client, pacerKey, cfg.Engine.BatchDelay),
				Secondary: limiter,
				OnError: func(err error) {
					log.WarnContext(ctx, "redis pacer unavailable, pacing locally", "error", err)
				},
			}
		}
		statusCache = cache.NewRedis[engine.StatusView](client,
			cache.WithPrefix("newsletter:"),
			cache.WithRedisDefaultTTL(cfg.Engine.StatusCacheTTL),
		)
	}

	engineOpts := []engine.Option{
		engine.WithLogger(log),
		engine.WithMetrics(m),
		engine.WithLimiter(limiter),
		engine.WithStatusCache(statusCache),
	}
	if cfg.Storage.Enabled() {
		archive, err := storage.New(cfg.Storage)
		if err != nil {
			return err
		}
		engineOpts = append(engineOpts, engine.WithArchiver(archive))
	}

	signer, err := unsubscribe.NewSigner(cfg.Tracking.UnsubscribeSecret, unsubscribe.WithTTL(cfg.Tracking.UnsubscribeTTL))
	if err != nil {
		return err
	}

	worker := delivery.NewWorker(st, resend.New(cfg.Resend), signer, delivery.Config{
		From:            cfg.Sender(),
		ReplyTo:         cfg.Resend.ReplyTo,
		TrackingBase:    cfg.Tracking.TrackingBaseURL,
		UnsubscribeBase: cfg.Tracking.UnsubscribeBaseURL,
	}, delivery.WithLogger(log), delivery.WithMetrics(m))

	// Background jobs. The engine and the run_send task reference each
	// other, so the scheduler is bound to the manager after it exists.
	scheduler := &lateScheduler{}
	eng := engine.New(st, worker, content.NewComposer(cfg.Brand), scheduler, cfg.Engine, engineOpts...)

	jobs, err := job.NewManager(pool,
		job.WithLogger(log),
		job.WithMaxWorkers(cfg.Jobs.MaxWorkers),
		job.WithRescueStuckJobsAfter(cfg.Jobs.RescueStuckJobsAfter),
		job.WithTask(tasks.NewRunSend(eng, log)),
		job.WithScheduledTask(tasks.NewSweepStaleClaims(st, eng, cfg.Jobs.ClaimTTL, m, log)),
		job.WithScheduledTask(tasks.NewSyncDeliveryStats(st, log)),
	)
	if err != nil {
		return err
	}
	scheduler.Scheduler = tasks.NewScheduler(jobs)
	checks["jobs"] = job.Healthcheck(jobs)

	authn, err := auth.ParseStaticTokens(cfg.Auth.AdminTokens)
	if err != nil {
		return err
	}

	apiOpts := []httpapi.Option{
		httpapi.WithLogger(log),
		httpapi.WithMetrics(m),
		httpapi.WithHealthChecks(checks),
		httpapi.WithTimeout(cfg.Server.RequestTimeout),
	}
	if cfg.Tracking.WebhookSecret != "" {
		verifier, err := tracking.NewWebhookVerifier(cfg.Tracking.WebhookSecret)
		if err != nil {
			return err
		}
		apiOpts = append(apiOpts, httpapi.WithWebhookVerifier(verifier))
	} else {
		log.WarnContext(ctx, "RESEND_WEBHOOK_SECRET is not set, provider webhooks are not verified")
	}

	api := httpapi.New(
		command.NewDispatcher(eng),
		authn,
		tracking.New(st, signer, tracking.WithLogger(log), tracking.WithMetrics(m)),
		apiOpts...,
	)

	// Hooks run in registration order: stop jobs first, then close the
	// connections they use.
	opts := []server.Option{
		server.Address(cfg.Server.Address),
		server.Logger(log),
		server.ShutdownTimeout(cfg.Server.ShutdownTimeout),
		server.StartupHook(func(ctx context.Context) error {
			return jobs.Start(context.WithoutCancel(ctx))
		}),
		server.ShutdownHook(jobs.Shutdown()),
	}
	opts = append(opts, shutdown...)
	opts = append(opts, server.ShutdownHook(db.Shutdown(pool)))
	if cfg.Log.SentryDSN != "" {
		opts = append(opts, server.ShutdownHook(func(context.Context) error {
			sentry.Flush(2 * time.Second)
			return nil
		}))
	}

	closers = nil
	return server.Run(ctx, api.Handler(), opts...)
}

// lateScheduler forwards to a scheduler assigned after construction.
type lateScheduler struct {
	engine.Scheduler
}
