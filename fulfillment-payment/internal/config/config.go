// Package config 配置
package config

import (
	"fmt"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	envconfig "github.com/fulfillment/platform/fulfillment-common/pkg/config"
	"github.com/fulfillment/platform/fulfillment-common/pkg/decimal"
	"github.com/fulfillment/platform/fulfillment-common/pkg/postgres"
)

// Config 服务配置
type Config struct {
	ServiceName string
	HTTPPort    int

	Postgres envconfig.PostgresConfig
	Pool     postgres.Pool
	Redis    envconfig.RedisConfig
	Stream   envconfig.StreamConfig
	Tracing  envconfig.TracingConfig

	AutoMigrate bool
	// 最小支付金额
	MinAmount decimal.Decimal

	DispatchAttempts uint
	DispatchDelay    time.Duration

	StreamMaxLen   int64
	LoopMaxAge     time.Duration
	ShutdownPeriod time.Duration
}

// Load 加载配置
func Load() (*Config, error) {
	minAmount, err := decimal.New(envconfig.GetEnv("PAYMENT_MIN_AMOUNT", "0.1"))
	if err != nil {
		return nil, fmt.Errorf("PAYMENT_MIN_AMOUNT: %w", err)
	}
	return &Config{
		ServiceName: envconfig.GetEnv("SERVICE_NAME", "fulfillment-payment"),
		HTTPPort:    envconfig.GetEnvInt("HTTP_PORT", 8093),

		Postgres: envconfig.LoadPostgres("payment"),
		Pool:     postgres.LoadPool(),
		Redis:    envconfig.LoadRedis(),
		Stream:   envconfig.LoadStream("fulfillment-payment"),
		Tracing:  envconfig.LoadTracing(),

		AutoMigrate: envconfig.GetEnvBool("DB_AUTO_MIGRATE", true),
		MinAmount:   minAmount,

		DispatchAttempts: uint(envconfig.GetEnvInt("DISPATCH_ATTEMPTS", 1)),
		DispatchDelay:    envconfig.GetEnvDuration("DISPATCH_DELAY", 100*time.Millisecond),

		StreamMaxLen:   envconfig.GetEnvInt64("STREAM_MAX_LEN", 100000),
		LoopMaxAge:     envconfig.GetEnvDuration("LOOP_MAX_AGE", 30*time.Second),
		ShutdownPeriod: envconfig.GetEnvDuration("SHUTDOWN_PERIOD", 10*time.Second),
	}, nil
}

func (c *Config) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.ServiceName, validation.Required),
		validation.Field(&c.HTTPPort, validation.Required, validation.Min(1), validation.Max(65535)),
		validation.Field(&c.Postgres),
		validation.Field(&c.Redis),
		validation.Field(&c.Stream),
		validation.Field(&c.MinAmount, validation.By(func(interface{}) error {
			if c.MinAmount.IsNegative() {
				return fmt.Errorf("must not be negative")
			}
			return nil
		})),
		validation.Field(&c.DispatchAttempts, validation.Min(uint(1))),
	)
}
