package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("SERVICE_NAME", "")
	t.Setenv("DISPATCH_ATTEMPTS", "")
	t.Setenv("STREAM_GROUP", "")

	cfg := Load()
	if cfg.ServiceName != "fulfillment-orchestrator" {
		t.Fatalf("unexpected service name %q", cfg.ServiceName)
	}
	if cfg.DispatchAttempts != 1 {
		t.Fatalf("expected best-effort single attempt, got %d", cfg.DispatchAttempts)
	}
	if cfg.Stream.Group != "fulfillment-orchestrator" {
		t.Fatalf("expected group to default to service name, got %q", cfg.Stream.Group)
	}
	if cfg.SagaLogTTL != 7*24*time.Hour {
		t.Fatalf("unexpected saga log ttl %s", cfg.SagaLogTTL)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults must validate: %v", err)
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("HTTP_PORT", "9100")
	t.Setenv("DISPATCH_ATTEMPTS", "3")
	t.Setenv("SAGA_LOG_PREFIX", "test:saga:")

	cfg := Load()
	if cfg.HTTPPort != 9100 || cfg.DispatchAttempts != 3 || cfg.SagaLogPrefix != "test:saga:" {
		t.Fatalf("env not applied: %+v", cfg)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cfg := Load()
	cfg.HTTPPort = 0
	cfg.SagaLogPrefix = ""
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error")
	}

	cfg = Load()
	cfg.Redis.Addr = ""
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected nested redis validation error")
	}
}
