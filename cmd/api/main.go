package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/cs350892/market-server/internal/app"
	"github.com/cs350892/market-server/internal/config"
	"github.com/cs350892/market-server/internal/health"
	"github.com/cs350892/market-server/internal/obs"
	"github.com/cs350892/market-server/internal/queue"
	"github.com/cs350892/market-server/internal/resilience"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := obs.NewLogger(cfg.ObsLogFormat, cfg.ObsLogLevel, cfg.ObsServiceName, "api").
		With().Str("env", cfg.AppEnv).Logger()

	// Money is rendered as JSON numbers, not strings.
	decimal.MarshalJSONWithoutQuotes = true

	if err := run(cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("api_exit")
	}
}

func run(cfg *config.Config, logger zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := obs.InitTracer(ctx, obs.TracingConfig{
		Enabled:       cfg.ObsEnableTracing,
		ServiceName:   cfg.ObsServiceName,
		Component:     "api",
		Endpoint:      cfg.ObsOTLPEndpoint,
		SamplingRatio: cfg.ObsTracingSampling,
		Environment:   cfg.AppEnv,
	})
	if err != nil {
		logger.Warn().Err(err).Msg("tracing_init_failed")
	} else {
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = shutdownTracer(sctx)
		}()
	}

	registry := obs.NewRegistry()
	obs.MustRegisterDomainMetrics(cfg.ObsMetricsNamespace, registry)
	resilience.RegisterMetrics(cfg.ObsMetricsNamespace, registry)
	queue.RegisterMetrics(cfg.ObsMetricsNamespace, registry)
	httpMetrics := obs.NewHTTPMetrics(cfg.ObsMetricsNamespace, obs.ParseBucketsCSV(cfg.ObsHTTPBuckets), registry)

	if cfg.MigrateOnStart {
		if err := app.RunMigrations(cfg.DatabaseURL, logger); err != nil {
			return err
		}
	}

	pool, err := app.OpenPostgres(ctx, cfg.DatabaseURL, cfg.ObsServiceName+"-api", logger)
	if err != nil {
		return err
	}
	defer pool.Close()

	rdb, err := app.OpenRedis(ctx, cfg.RedisURL)
	if err != nil {
		return err
	}
	defer rdb.Close()

	connOpt, err := app.QueueConn(cfg.RedisURL)
	if err != nil {
		return err
	}
	tasks := asynq.NewClient(connOpt)
	defer tasks.Close()
	inspector := asynq.NewInspector(connOpt)
	defer inspector.Close()

	router, err := newRouter(deps{
		cfg:       cfg,
		log:       logger,
		pool:      pool,
		redis:     rdb,
		tasks:     tasks,
		inspector: inspector,
		registry:  registry,
		http:      httpMetrics,
	})
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", srv.Addr).Msg("api_listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	// Fail readiness first so the load balancer stops routing new traffic.
	health.SetReady(false)
	logger.Info().Msg("api_draining")
	sctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		return err
	}
	logger.Info().Msg("api_stopped")
	return nil
}

func saltIndex(raw string) int {
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 1
	}
	return n
}
