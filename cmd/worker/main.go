package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/cs350892/market-server/internal/app"
	"github.com/cs350892/market-server/internal/common"
	"github.com/cs350892/market-server/internal/config"
	"github.com/cs350892/market-server/internal/lock"
	"github.com/cs350892/market-server/internal/notify"
	"github.com/cs350892/market-server/internal/obs"
	"github.com/cs350892/market-server/internal/offer"
	"github.com/cs350892/market-server/internal/queue"
	"github.com/cs350892/market-server/internal/repo"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	logger := obs.NewLogger(cfg.ObsLogFormat, cfg.ObsLogLevel, cfg.ObsServiceName, "worker").
		With().Str("env", cfg.AppEnv).Logger()

	if err := run(cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("worker_exit")
	}
	logger.Info().Msg("worker shutdown complete")
}

func run(cfg *config.Config, logger zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := obs.InitTracer(ctx, obs.TracingConfig{
		Enabled:       cfg.ObsEnableTracing,
		ServiceName:   cfg.ObsServiceName,
		Component:     "worker",
		Endpoint:      cfg.ObsOTLPEndpoint,
		SamplingRatio: cfg.ObsTracingSampling,
		Environment:   cfg.AppEnv,
	})
	if err != nil {
		logger.Warn().Err(err).Msg("tracing_init_failed")
	} else {
		defer func() { _ = shutdownTracer(context.Background()) }()
	}

	registry := obs.NewRegistry()
	obs.MustRegisterDomainMetrics(cfg.ObsMetricsNamespace, registry)
	queue.RegisterMetrics(cfg.ObsMetricsNamespace, registry)

	pool, err := app.OpenPostgres(ctx, cfg.DatabaseURL, cfg.ObsServiceName+"-worker", logger)
	if err != nil {
		return err
	}
	defer pool.Close()
	queries := repo.New(pool)

	rdb, err := app.OpenRedis(ctx, cfg.RedisURL)
	if err != nil {
		return err
	}
	defer rdb.Close()

	connOpt, err := app.QueueConn(cfg.RedisURL)
	if err != nil {
		return err
	}

	mailer := notify.EmailNotifier{
		Users:   queries,
		Mail:    common.LogEmailSender{Logger: logger.With().Str("mod", "mail").Logger(), From: cfg.NotifyEmailFrom},
		Enabled: cfg.NotifyEmailEnabled,
		Log:     logger,
	}
	sweeper := offer.ExpirySweeper{
		Offers:  &offer.Service{Q: queries},
		Lock:    lock.Locker{R: rdb, RetryBackoff: 100 * time.Millisecond},
		LockTTL: cfg.LockTTL,
		Log:     logger,
	}

	mux := asynq.NewServeMux()
	mux.Use(queue.Instrument(logger))
	mux.Handle(queue.TypeEventNotify, &mailer)
	mux.Handle(queue.TypeOfferExpire, sweeper)

	srv := asynq.NewServer(connOpt, asynq.Config{
		Concurrency:     cfg.WorkerConcurrency,
		Queues:          queue.Priorities(),
		ShutdownTimeout: 20 * time.Second,
		Logger:          queue.NewLogAdapter(logger),
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			retried, _ := asynq.GetRetryCount(ctx)
			maxRetry, _ := asynq.GetMaxRetry(ctx)
			if retried >= maxRetry {
				logger.Error().Err(err).Str("task_type", task.Type()).Int("retried", retried).Msg("task_archived")
			}
		}),
	})
	if err := srv.Start(mux); err != nil {
		return err
	}
	defer srv.Shutdown()

	scheduler := asynq.NewScheduler(connOpt, &asynq.SchedulerOpts{Logger: queue.NewLogAdapter(logger)})
	entryID, err := scheduler.Register(cfg.OfferExpiryCron, queue.NewOfferExpireTask())
	if err != nil {
		return err
	}
	logger.Info().Str("entry", entryID).Str("cron", cfg.OfferExpiryCron).Msg("offer_expiry_scheduled")
	if err := scheduler.Start(); err != nil {
		return err
	}
	defer scheduler.Shutdown()

	inspector := asynq.NewInspector(connOpt)
	defer inspector.Close()
	go queue.PollDepth(ctx, inspector, 15*time.Second, logger)

	metricsSrv := &http.Server{Addr: cfg.WorkerMetricsAddr, Handler: obs.Handler(registry), ReadHeaderTimeout: 5 * time.Second}
	if cfg.ObsEnablePrometheus {
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error().Err(err).Msg("worker_metrics_failed")
			}
		}()
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = metricsSrv.Shutdown(sctx)
		}()
	}

	logger.Info().Int("concurrency", cfg.WorkerConcurrency).Msg("worker starting")
	<-ctx.Done()
	return nil
}
