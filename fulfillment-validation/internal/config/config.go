// Package config 配置
package config

import (
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	envconfig "github.com/fulfillment/platform/fulfillment-common/pkg/config"
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

	// 启动时建表并写入产品目录
	AutoMigrate  bool
	SeedProducts []string

	DispatchAttempts uint
	DispatchDelay    time.Duration

	StreamMaxLen   int64
	LoopMaxAge     time.Duration
	ShutdownPeriod time.Duration
}

var defaultCatalog = []string{"COMIC_BOOKS", "BOOKS", "MOVIES", "MUSIC", "STICKER"}

// Load 加载配置
func Load() *Config {
	return &Config{
		ServiceName: envconfig.GetEnv("SERVICE_NAME", "fulfillment-validation"),
		HTTPPort:    envconfig.GetEnvInt("HTTP_PORT", 8091),

		Postgres: envconfig.LoadPostgres("product_validation"),
		Pool:     postgres.LoadPool(),
		Redis:    envconfig.LoadRedis(),
		Stream:   envconfig.LoadStream("fulfillment-validation"),
		Tracing:  envconfig.LoadTracing(),

		AutoMigrate:  envconfig.GetEnvBool("DB_AUTO_MIGRATE", true),
		SeedProducts: envconfig.GetEnvSlice("SEED_PRODUCTS", defaultCatalog),

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
		validation.Field(&c.Postgres),
		validation.Field(&c.Redis),
		validation.Field(&c.Stream),
		validation.Field(&c.DispatchAttempts, validation.Min(uint(1))),
	)
}
