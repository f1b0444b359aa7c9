// Package config 配置
package config

import (
	"fmt"
	"strconv"
	"strings"
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

	// 启动时建表并写入初始库存
	AutoMigrate bool
	SeedStock   map[string]int

	DispatchAttempts uint
	DispatchDelay    time.Duration

	StreamMaxLen   int64
	LoopMaxAge     time.Duration
	ShutdownPeriod time.Duration
}

var defaultStock = []string{"COMIC_BOOKS=10", "BOOKS=10", "MOVIES=10", "MUSIC=10", "STICKER=100"}

// Load 加载配置
func Load() (*Config, error) {
	stock, err := ParseStock(envconfig.GetEnvSlice("SEED_STOCK", defaultStock))
	if err != nil {
		return nil, err
	}
	return &Config{
		ServiceName: envconfig.GetEnv("SERVICE_NAME", "fulfillment-inventory"),
		HTTPPort:    envconfig.GetEnvInt("HTTP_PORT", 8092),

		Postgres: envconfig.LoadPostgres("inventory"),
		Pool:     postgres.LoadPool(),
		Redis:    envconfig.LoadRedis(),
		Stream:   envconfig.LoadStream("fulfillment-inventory"),
		Tracing:  envconfig.LoadTracing(),

		AutoMigrate: envconfig.GetEnvBool("DB_AUTO_MIGRATE", true),
		SeedStock:   stock,

		DispatchAttempts: uint(envconfig.GetEnvInt("DISPATCH_ATTEMPTS", 1)),
		DispatchDelay:    envconfig.GetEnvDuration("DISPATCH_DELAY", 100*time.Millisecond),

		StreamMaxLen:   envconfig.GetEnvInt64("STREAM_MAX_LEN", 100000),
		LoopMaxAge:     envconfig.GetEnvDuration("LOOP_MAX_AGE", 30*time.Second),
		ShutdownPeriod: envconfig.GetEnvDuration("SHUTDOWN_PERIOD", 10*time.Second),
	}, nil
}

// ParseStock reads CODE=QTY pairs.
func ParseStock(pairs []string) (map[string]int, error) {
	stock := make(map[string]int, len(pairs))
	for _, pair := range pairs {
		code, qty, ok := strings.Cut(pair, "=")
		if !ok || strings.TrimSpace(code) == "" {
			return nil, fmt.Errorf("SEED_STOCK: invalid entry %q", pair)
		}
		n, err := strconv.Atoi(strings.TrimSpace(qty))
		if err != nil || n < 0 {
			return nil, fmt.Errorf("SEED_STOCK: invalid quantity in %q", pair)
		}
		stock[strings.TrimSpace(code)] = n
	}
	return stock, nil
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
