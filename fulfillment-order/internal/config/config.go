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
	GinMode     string

	Postgres envconfig.PostgresConfig
	Pool     postgres.Pool
	Redis    envconfig.RedisConfig
	Stream   envconfig.StreamConfig
	Tracing  envconfig.TracingConfig

	AutoMigrate bool
	// 雪花节点 ID，多实例部署时必须互不相同
	NodeID int64

	// 下单限流，每个 IP 每个窗口的请求数，0 表示关闭
	CreateRateLimit  int
	CreateRateWindow time.Duration

	// 未结束订单巡检
	SweepCron  string
	SweepAge   time.Duration
	SweepLimit int

	WSAllowedOrigins []string
	WSMaxConnections int

	DispatchAttempts uint
	DispatchDelay    time.Duration

	StreamMaxLen   int64
	LoopMaxAge     time.Duration
	ShutdownPeriod time.Duration
}

// Load 加载配置
func Load() *Config {
	return &Config{
		ServiceName: envconfig.GetEnv("SERVICE_NAME", "fulfillment-order"),
		HTTPPort:    envconfig.GetEnvInt("HTTP_PORT", 8080),
		GinMode:     envconfig.GetEnv("GIN_MODE", "release"),

		Postgres: envconfig.LoadPostgres("orders"),
		Pool:     postgres.LoadPool(),
		Redis:    envconfig.LoadRedis(),
		Stream:   envconfig.LoadStream("fulfillment-order"),
		Tracing:  envconfig.LoadTracing(),

		AutoMigrate: envconfig.GetEnvBool("DB_AUTO_MIGRATE", true),
		NodeID:      envconfig.GetEnvInt64("SNOWFLAKE_NODE", 1),

		CreateRateLimit:  envconfig.GetEnvInt("CREATE_RATE_LIMIT", 100),
		CreateRateWindow: envconfig.GetEnvDuration("CREATE_RATE_WINDOW", time.Second),

		SweepCron:  envconfig.GetEnv("SWEEP_CRON", "@every 1m"),
		SweepAge:   envconfig.GetEnvDuration("SWEEP_AGE", 5*time.Minute),
		SweepLimit: envconfig.GetEnvInt("SWEEP_LIMIT", 100),

		WSAllowedOrigins: envconfig.GetEnvSlice("WS_ALLOWED_ORIGINS", nil),
		WSMaxConnections: envconfig.GetEnvInt("WS_MAX_CONNECTIONS", 1000),

		DispatchAttempts: uint(envconfig.GetEnvInt("DISPATCH_ATTEMPTS", 3)),
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
		validation.Field(&c.GinMode, validation.In("debug", "release", "test")),
		validation.Field(&c.Postgres),
		validation.Field(&c.Redis),
		validation.Field(&c.Stream),
		// bwmarrin/snowflake 默认 10 位节点号
		validation.Field(&c.NodeID, validation.Min(int64(0)), validation.Max(int64(1023))),
		validation.Field(&c.CreateRateLimit, validation.Min(0)),
		validation.Field(&c.CreateRateWindow, validation.Required),
		validation.Field(&c.SweepCron, validation.Required),
		validation.Field(&c.SweepAge, validation.Required),
		validation.Field(&c.SweepLimit, validation.Required, validation.Min(1)),
		validation.Field(&c.WSMaxConnections, validation.Min(0)),
		validation.Field(&c.DispatchAttempts, validation.Min(uint(1))),
	)
}
