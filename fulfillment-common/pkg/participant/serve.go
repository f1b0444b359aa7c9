package participant

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/fulfillment/platform/fulfillment-common/pkg/health"
	"github.com/fulfillment/platform/fulfillment-common/pkg/logger"
	"github.com/fulfillment/platform/fulfillment-common/pkg/redis"
	"github.com/fulfillment/platform/fulfillment-common/pkg/saga"
)

// Deployment is the process wiring of one participant service.
type Deployment struct {
	HTTPPort        int
	Streams         *redis.StreamClient
	Runner          *Runner
	ExecuteTopic    saga.Topic
	CompensateTopic saga.Topic
	Consumer        redis.ConsumerOptions
	Metrics         *Metrics
	Checkers        []health.Checker
	LoopMaxAge      time.Duration
	ShutdownPeriod  time.Duration
	Log             *logger.Logger
}

// Serve consumes the participant's streams and serves /metrics, /live, /ready
// and /health until ctx is cancelled or the HTTP server fails. A stopped
// consumer loop is reported through readiness rather than ending the process.
func Serve(ctx context.Context, d Deployment) error {
	log := d.Log
	if log == nil {
		log = logger.Nop()
	}
	if d.LoopMaxAge <= 0 {
		d.LoopMaxAge = 30 * time.Second
	}
	if d.ShutdownPeriod <= 0 {
		d.ShutdownPeriod = 10 * time.Second
	}
	if d.Metrics == nil {
		d.Metrics = NewMetrics(d.Consumer.Group)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	consumer := redis.NewConsumer(d.Streams, Topics(d.ExecuteTopic, d.CompensateTopic),
		d.Runner.Handler(d.ExecuteTopic, d.CompensateTopic), d.Consumer, log).WithHooks(d.Metrics)

	hc := health.New()
	hc.Register(d.Checkers...)
	hc.Register(health.NewLoopChecker("consumer", consumer.Monitor(), d.LoopMaxAge))

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
	mux.Handle("/metrics", d.Metrics.Handler())
	hc.Mount(mux)

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", d.HTTPPort),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		log.Infof("HTTP server listening", map[string]interface{}{"port": d.HTTPPort})
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	hc.SetReady(true)

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
	}

	log.Info("Shutting down...")
	hc.SetReady(false)
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), d.ShutdownPeriod)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("HTTP shutdown")
	}
	return runErr
}
