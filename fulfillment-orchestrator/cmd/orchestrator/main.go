package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	envconfig "github.com/fulfillment/platform/fulfillment-common/pkg/config"
	"github.com/fulfillment/platform/fulfillment-common/pkg/health"
	"github.com/fulfillment/platform/fulfillment-common/pkg/logger"
	"github.com/fulfillment/platform/fulfillment-common/pkg/redis"
	"github.com/fulfillment/platform/fulfillment-common/pkg/saga"
	"github.com/fulfillment/platform/fulfillment-common/pkg/tracing"
	"github.com/fulfillment/platform/fulfillment-orchestrator/internal/config"
	"github.com/fulfillment/platform/fulfillment-orchestrator/internal/local"
	"github.com/fulfillment/platform/fulfillment-orchestrator/internal/metrics"
	"github.com/fulfillment/platform/fulfillment-orchestrator/internal/repository"
	"github.com/fulfillment/platform/fulfillment-orchestrator/internal/service"
)

func main() {
	localMode := flag.Bool("local", false, "run the reference scenarios in-process and exit")
	flag.Parse()

	if err := envconfig.LoadDotEnv(); err != nil {
		fmt.Fprintf(os.Stderr, "load .env: %v\n", err)
		os.Exit(1)
	}
	cfg := config.Load()
	log := logger.New(cfg.ServiceName, os.Stdout)

	if *localMode {
		runLocal(log)
		return
	}

	log.Info("Starting " + cfg.ServiceName + "...")
	if err := cfg.Validate(); err != nil {
		fatal(log, "Invalid config", err)
	}

	// 启动时校验拓扑，配置错误直接退出
	topology, err := saga.NewTopology(saga.DefaultStages(), saga.DefaultRoutes())
	if err != nil {
		fatal(log, "Invalid saga topology", err)
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

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	redisClient, err := redis.NewClient(ctx, cfg.Redis)
	if err != nil {
		fatal(log, "Failed to connect to Redis", err)
	}
	defer redisClient.Close()
	log.Info("Connected to Redis")

	m := metrics.New(cfg.Stream.Group)
	streams := redis.NewStreamClient(redisClient, cfg.StreamMaxLen)
	dispatcher := redis.NewStreamDispatcher(streams, log, redis.DispatcherOptions{
		RetryAttempts: cfg.DispatchAttempts,
		RetryDelay:    cfg.DispatchDelay,
		Observer:      m,
	})
	store := repository.NewSagaLogRepository(redisClient, cfg.SagaLogPrefix, cfg.SagaLogTTL)
	orchestrator := service.NewOrchestrator(saga.NewStateMachine(topology, nil), dispatcher, store, m, log)

	consumer := redis.NewConsumer(streams, service.Topics(), orchestrator.Handler(), redis.OptionsFromConfig(cfg.Stream), log).
		WithHooks(m)

	hc := health.New()
	hc.Register(
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

	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	hc.Mount(mux)

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.Infof("HTTP server listening", map[string]interface{}{"port": cfg.HTTPPort})
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			fatal(log, "HTTP server error", err)
		}
	}()
	hc.SetReady(true)

	// 等待退出信号
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info("Shutting down...")
	hc.SetReady(false)
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownPeriod)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("HTTP shutdown")
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		log.WithError(err).Warn("tracing shutdown")
	}
	log.Info("Shutdown complete")
}

// runLocal drives scenarios A, B and C through the in-memory participants.
func runLocal(log *logger.Logger) {
	demo := local.NewDemo(nil)
	for _, result := range demo.Run(context.Background(), local.Scenarios(time.Now().UTC())) {
		entry := log.WithSaga(result.Event.TransactionID, result.Event.OrderID)
		if result.Err != nil {
			entry.WithError(result.Err).Error(result.Scenario)
			continue
		}
		history := make([]string, len(result.Event.History))
		for i, h := range result.Event.History {
			history[i] = fmt.Sprintf("%s %s: %s", h.Source, h.Status, h.Message)
		}
		entry.Infof(result.Scenario, map[string]interface{}{
			"stage":       string(result.Event.CurrentStage),
			"totalAmount": result.Event.Payload.TotalAmount,
			"totalItems":  result.Event.Payload.TotalItems,
			"topics":      result.Topics,
			"history":     history,
		})
	}
}

func fatal(log *logger.Logger, msg string, err error) {
	log.WithError(err).Error(msg)
	os.Exit(1)
}
