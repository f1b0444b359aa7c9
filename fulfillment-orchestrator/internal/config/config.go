// Package config 配置
package config

import (
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	envconfig "github.com/fulfillment/platform/fulfillment-common/pkg/config"
)

// Config 服务配置
type Config struct {
	ServiceName string
	HTTPPort    int

	Redis   envconfig.RedisConfig
	Stream  envconfig.StreamConfig
	Tracing envconfig.TracingConfig

	// saga log
	SagaLogPrefix string
	SagaLogTTL    time.Duration

	// dispatcher hardening; 1 attempt keeps delivery best-effort
	DispatchAttempts uint
	DispatchDelay    time.Duration

	StreamMaxLen   int64
	LoopMaxAge     time.Duration
	ShutdownPeriod time.Duration
}

// Load 加载配置
func Load() *Config {
	return &Config{
		ServiceName: envconfig.GetEnv("SERVICE_NAME", "fulfillment-orchestrator"),
		HTTPPort:    envconfig.GetEnvInt("HTTP_PORT", 8090),

		Redis:   envconfig.LoadRedis(),
		Stream:  envconfig.LoadStream("fulfillment-orchestrator"),
		Tracing: envconfig.LoadTracing(),

		SagaLogPrefix: envconfig.GetEnv("SAGA_LOG_PREFIX", "saga:log:"),
		SagaLogTTL:    envconfig.GetEnvDuration("SAGA_LOG_TTL", 7*24*time.Hour),

		DispatchAttempts: uint(envconfig.GetEnvInt("DISPATCH_ATTEMPTS", 1)),
		DispatchDelay:    envconfig.GetEnvDuration("DISPATCH_DELAY", 100*time.Millisecond),

		StreamMaxLen:   envconfig.GetEnvInt64("STREAM_MAX_LEN", 100000),
		LoopMaxAge:     envconfig.GetEnvDuration("LOOP_MAX_AGE", 30*time.Second),
		ShutdownPeriod: envconfig.GetEnvDuration("SHUTDOWN_PERIOD", 10*time.Second),
	}
}

func (c *Config) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.ServiceName, validation.Required),
		validation.Field(&c.HTTPPort, validation.Required, validation.Min(1), validation.Max(65535)),
		validation.Field(&c.Redis),
		validation.Field(&c.Stream),
		validation.Field(&c.SagaLogPrefix, validation.Required),
		validation.Field(&c.DispatchAttempts, validation.Min(uint(1))),
	)
}
