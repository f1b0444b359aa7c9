package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"

	envconfig "github.com/fulfillment/platform/fulfillment-common/pkg/config"
	"github.com/fulfillment/platform/fulfillment-common/pkg/health"
	"github.com/fulfillment/platform/fulfillment-common/pkg/logger"
	"github.com/fulfillment/platform/fulfillment-common/pkg/postgres"
	"github.com/fulfillment/platform/fulfillment-common/pkg/redis"
	"github.com/fulfillment/platform/fulfillment-common/pkg/tracing"
	"github.com/fulfillment/platform/fulfillment-order/internal/api"
	"github.com/fulfillment/platform/fulfillment-order/internal/config"
	"github.com/fulfillment/platform/fulfillment-order/internal/metrics"
	"github.com/fulfillment/platform/fulfillment-order/internal/repository"
	"github.com/fulfillment/platform/fulfillment-order/internal/service"
	"github.com/fulfillment/platform/fulfillment-order/internal/sweeper"
	"github.com/fulfillment/platform/fulfillment-order/internal/ws"
)

func main() {
	if err := envconfig.LoadDotEnv(); err != nil {
		fmt.Fprintf(os.Stderr, "load .env: %v\n", err)
		os.Exit(1)
	}
	cfg := config.Load()
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

	repo := repository.NewOrderRepository(db)
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

	node, err := snowflake.NewNode(cfg.NodeID)
	if err != nil {
		fatal(log, "Failed to create ID generator", err)
	}

	m := metrics.New(cfg.Stream.Group)
	streams := redis.NewStreamClient(redisClient, cfg.StreamMaxLen)
	dispatcher := redis.NewStreamDispatcher(streams, log, redis.DispatcherOptions{
		RetryAttempts: cfg.DispatchAttempts,
		RetryDelay:    cfg.DispatchDelay,
		Observer:      m,
	})
	hub := ws.NewHub(ws.Config{
		AllowedOrigins: cfg.WSAllowedOrigins,
		MaxConnections: cfg.WSMaxConnections,
	}, log)
	orders := service.NewOrderService(repo, dispatcher, node, m, log).WithNotifier(hub)

	sweep, err := sweeper.New(orders, sweeper.Config{Cron: cfg.SweepCron, Age: cfg.SweepAge, Limit: cfg.SweepLimit}, log)
	if err != nil {
		fatal(log, "Invalid sweep schedule", err)
	}
	go sweep.Run(ctx)

	consumer := redis.NewConsumer(streams, service.Topics(), orders.Handler(), redis.OptionsFromConfig(cfg.Stream), log).
		WithHooks(m)

	hc := health.New()
	hc.Register(
		health.NewPostgresChecker(db),
		health.NewRedisChecker(redisClient),
		health.NewLoopChecker("consumer", consumer.Monitor(), cfg.LoopMaxAge),
	)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				consumer.Monitor().SetError(fmt.Errorf("panic: %v", r))
				log.Errorf("consumer panic", map[string]interface{}{"panic": fmt.Sprint(r), "stack": string(debug.Stack())})
			}
		}()
		if err := consumer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			consumer.Monitor().SetError(err)
			log.WithError(err).Error("consumer stopped")
		}
	}()

	limiter := api.NewRateLimiter(cfg.CreateRateLimit, cfg.CreateRateWindow)
	go limiter.Run(ctx)

	gin.SetMode(cfg.GinMode)
	router := gin.New()
	router.Use(
		api.RequestIDMiddleware(),
		api.RecoveryMiddleware(log),
		tracing.GinMiddleware(),
		m.GinMiddleware(),
	)
	router.GET("/metrics", gin.WrapH(m.Handler()))
	router.GET("/live", gin.WrapF(hc.LiveHandler()))
	router.GET("/ready", gin.WrapF(hc.ReadyHandler()))
	router.GET("/health", gin.WrapF(hc.ReadyHandler()))
	router.GET("/ws/events", hub.Handle)
	api.SetupRoutes(router, api.NewOrderHandler(orders, log), api.RouterConfig{CreateLimiter: limiter})

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.Infof("HTTP server listening", map[string]interface{}{"port": cfg.HTTPPort})
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			fatal(log, "HTTP server error", err)
		}
	}()
	hc.SetReady(true)

	<-ctx.Done()

	log.Info("Shutting down...")
	hc.SetReady(false)
	hub.CloseAll()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownPeriod)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("HTTP shutdown")
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		log.WithError(err).Warn("tracing shutdown")
	}
	log.Info("Shutdown complete")
}

func fatal(log *logger.Logger, msg string, err error) {
	log.WithError(err).Error(msg)
	os.Exit(1)
}
