package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	envconfig "github.com/fulfillment/platform/fulfillment-common/pkg/config"
	"github.com/fulfillment/platform/fulfillment-common/pkg/health"
	"github.com/fulfillment/platform/fulfillment-common/pkg/logger"
	"github.com/fulfillment/platform/fulfillment-common/pkg/participant"
	"github.com/fulfillment/platform/fulfillment-common/pkg/postgres"
	"github.com/fulfillment/platform/fulfillment-common/pkg/redis"
	"github.com/fulfillment/platform/fulfillment-common/pkg/saga"
	"github.com/fulfillment/platform/fulfillment-common/pkg/tracing"
	"github.com/fulfillment/platform/fulfillment-payment/internal/config"
	"github.com/fulfillment/platform/fulfillment-payment/internal/repository"
	"github.com/fulfillment/platform/fulfillment-payment/internal/service"
)

func main() {
	if err := envconfig.LoadDotEnv(); err != nil {
		fmt.Fprintf(os.Stderr, "load .env: %v\n", err)
		os.Exit(1)
	}
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	log := logger.New(cfg.ServiceName, os.Stdout)

	log.Info("Starting " + cfg.ServiceName + "...")
	if err := cfg.Validate(); err != nil {
		fatal(log, "Invalid config", err)
	}

	shutdownTracing, err := tracing.Init(tracing.Config{
		ServiceName: cfg.ServiceName,
		Endpoint:    cfg.Tracing.Endpoint,
		Enabled:     cfg.Tracing.Enabled,
		SampleRate:  cfg.Tracing.SampleRate,
	})
	if err != nil {
		fatal(log, "Failed to init tracing", err)
	}

	// 等待退出信号
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := postgres.Open(ctx, cfg.Postgres, cfg.Pool)
	if err != nil {
		fatal(log, "Failed to connect to database", err)
	}
	defer db.Close()
	log.Info("Connected to PostgreSQL")

	repo := repository.NewPaymentRepository(db)
	if cfg.AutoMigrate {
		if err := repo.EnsureSchema(ctx); err != nil {
			fatal(log, "Failed to migrate schema", err)
		}
	}

	redisClient, err := redis.NewClient(ctx, cfg.Redis)
	if err != nil {
		fatal(log, "Failed to connect to Redis", err)
	}
	defer redisClient.Close()
	log.Info("Connected to Redis")

	m := participant.NewMetrics(cfg.Stream.Group)
	streams := redis.NewStreamClient(redisClient, cfg.StreamMaxLen)
	dispatcher := redis.NewStreamDispatcher(streams, log, redis.DispatcherOptions{
		RetryAttempts: cfg.DispatchAttempts,
		RetryDelay:    cfg.DispatchDelay,
		Observer:      m,
	})
	runner := participant.NewRunner(service.NewPaymentService(repo, cfg.MinAmount, log), dispatcher, log, participant.WithMetrics(m))

	err = participant.Serve(ctx, participant.Deployment{
		HTTPPort:        cfg.HTTPPort,
		Streams:         streams,
		Runner:          runner,
		ExecuteTopic:    saga.TopicPaymentSuccess,
		CompensateTopic: saga.TopicPaymentFail,
		Consumer:        redis.OptionsFromConfig(cfg.Stream),
		Metrics:         m,
		Checkers:        []health.Checker{health.NewPostgresChecker(db), health.NewRedisChecker(redisClient)},
		LoopMaxAge:      cfg.LoopMaxAge,
		ShutdownPeriod:  cfg.ShutdownPeriod,
		Log:             log,
	})
	if err != nil {
		log.WithError(err).Error("HTTP server error")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownPeriod)
	defer cancel()
	if err := shutdownTracing(shutdownCtx); err != nil {
		log.WithError(err).Warn("tracing shutdown")
	}
	log.Info("Shutdown complete")
}

func fatal(log *logger.Logger, msg string, err error) {
	log.WithError(err).Error(msg)
	os.Exit(1)
}
