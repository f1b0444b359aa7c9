package config

import (
	"os"
	"strconv"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

var osHostname = os.Hostname

// RedisConfig is the connection block every service reads from REDIS_* variables.
type RedisConfig struct {
	Addr         string
	Password     string
	DB           int
	PoolSize     int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

func LoadRedis() RedisConfig {
	return RedisConfig{
		Addr:         GetEnv("REDIS_ADDR", "localhost:6379"),
		Password:     GetEnv("REDIS_PASSWORD", ""),
		DB:           GetEnvInt("REDIS_DB", 0),
		PoolSize:     GetEnvInt("REDIS_POOL_SIZE", 50),
		DialTimeout:  GetEnvDuration("REDIS_DIAL_TIMEOUT", 5*time.Second),
		ReadTimeout:  GetEnvDuration("REDIS_READ_TIMEOUT", 10*time.Second),
		WriteTimeout: GetEnvDuration("REDIS_WRITE_TIMEOUT", 3*time.Second),
	}
}

func (c RedisConfig) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Addr, validation.Required),
		validation.Field(&c.DB, validation.Min(0)),
		validation.Field(&c.PoolSize, validation.Min(1)),
	)
}

// PostgresConfig is the DB_* block used by the participant stores and the order service.
type PostgresConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string
	SSLMode  string
}

// LoadPostgres reads DB_* variables, falling back to the given database name.
func LoadPostgres(defaultName string) PostgresConfig {
	return PostgresConfig{
		Host:     GetEnv("DB_HOST", "localhost"),
		Port:     GetEnvInt("DB_PORT", 5432),
		User:     GetEnv("DB_USER", "postgres"),
		Password: GetEnv("DB_PASSWORD", "postgres"),
		Name:     GetEnv("DB_NAME", defaultName),
		SSLMode:  GetEnv("DB_SSLMODE", "disable"),
	}
}

// DSN returns a lib/pq connection string.
func (c PostgresConfig) DSN() string {
	return "host=" + c.Host +
		" port=" + strconv.Itoa(c.Port) +
		" user=" + c.User +
		" password=" + c.Password +
		" dbname=" + c.Name +
		" sslmode=" + c.SSLMode
}

func (c PostgresConfig) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Host, validation.Required),
		validation.Field(&c.Port, validation.Required, validation.Min(1), validation.Max(65535)),
		validation.Field(&c.User, validation.Required),
		validation.Field(&c.Name, validation.Required),
		validation.Field(&c.SSLMode, validation.In("disable", "require", "verify-ca", "verify-full")),
	)
}

// StreamConfig names the consumer group a service joins on its inbound streams.
type StreamConfig struct {
	Group        string
	Consumer     string
	BatchSize    int
	BlockTime    time.Duration
	MaxRetries   int
	ClaimMinIdle time.Duration
}

// LoadStream reads STREAM_* variables; group defaults to the service name.
func LoadStream(service string) StreamConfig {
	host, _ := osHostname()
	return StreamConfig{
		Group:        GetEnv("STREAM_GROUP", service),
		Consumer:     GetEnv("STREAM_CONSUMER", service+"-"+host),
		BatchSize:    GetEnvInt("STREAM_BATCH_SIZE", 10),
		BlockTime:    GetEnvDuration("STREAM_BLOCK_TIME", 2*time.Second),
		MaxRetries:   GetEnvInt("STREAM_MAX_RETRIES", 5),
		ClaimMinIdle: GetEnvDuration("STREAM_CLAIM_MIN_IDLE", 30*time.Second),
	}
}

func (c StreamConfig) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Group, validation.Required),
		validation.Field(&c.Consumer, validation.Required),
		validation.Field(&c.BatchSize, validation.Min(1)),
		validation.Field(&c.MaxRetries, validation.Min(0)),
	)
}

// TracingConfig is the TRACING_* block.
type TracingConfig struct {
	Enabled    bool
	Endpoint   string
	SampleRate float64
}

func LoadTracing() TracingConfig {
	return TracingConfig{
		Enabled:    GetEnvBool("TRACING_ENABLED", false),
		Endpoint:   GetEnv("TRACING_ENDPOINT", "http://localhost:14268/api/traces"),
		SampleRate: GetEnvFloat64("TRACING_SAMPLE_RATE", 1),
	}
}
