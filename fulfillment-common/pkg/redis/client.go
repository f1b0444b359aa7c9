// Package redis carries saga events over Redis Streams.
package redis

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/fulfillment/platform/fulfillment-common/pkg/config"
)

// NewClient connects to Redis and pings it once before returning.
func NewClient(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("redis config: %w", err)
	}
	tlsCfg, err := TLSConfigFromEnv()
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		TLSConfig:    tlsCfg,
	})

	pingCtx, cancel := context.WithTimeout(ctx, cfg.DialTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", cfg.Addr, err)
	}
	return client, nil
}

// TLSConfigFromEnv returns nil unless REDIS_TLS is true. REDIS_CACERT,
// REDIS_CERT/REDIS_KEY and REDIS_SERVER_NAME refine the config.
func TLSConfigFromEnv() (*tls.Config, error) {
	raw := strings.TrimSpace(os.Getenv("REDIS_TLS"))
	if raw != "" && !isBool(raw) {
		return nil, fmt.Errorf("invalid REDIS_TLS: %q", raw)
	}
	if !config.GetEnvBool("REDIS_TLS", false) {
		return nil, nil
	}

	caPath := strings.TrimSpace(os.Getenv("REDIS_CACERT"))
	certPath := strings.TrimSpace(os.Getenv("REDIS_CERT"))
	keyPath := strings.TrimSpace(os.Getenv("REDIS_KEY"))
	if (certPath == "") != (keyPath == "") {
		return nil, fmt.Errorf("REDIS_CERT and REDIS_KEY must be set together")
	}

	cfg := &tls.Config{
		MinVersion: tls.VersionTLS12,
		ServerName: strings.TrimSpace(os.Getenv("REDIS_SERVER_NAME")),
	}
	if caPath != "" {
		pem, err := os.ReadFile(caPath)
		if err != nil {
			return nil, fmt.Errorf("read REDIS_CACERT: %w", err)
		}
		pool, err := x509.SystemCertPool()
		if err != nil || pool == nil {
			pool = x509.NewCertPool()
		}
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("REDIS_CACERT: no valid certificates found")
		}
		cfg.RootCAs = pool
	}
	if certPath != "" {
		cert, err := tls.LoadX509KeyPair(certPath, keyPath)
		if err != nil {
			return nil, fmt.Errorf("load REDIS_CERT/REDIS_KEY: %w", err)
		}
		cfg.Certificates = []tls.Certificate{cert}
	}
	return cfg, nil
}

func isBool(s string) bool {
	switch strings.ToLower(s) {
	case "1", "t", "true", "0", "f", "false":
		return true
	}
	return false
}
