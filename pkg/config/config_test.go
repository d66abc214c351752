package config

import (
	"testing"
	"time"
)

func TestGetStringFallback(t *testing.T) {
	if got := GetString("SHARD_TEST_UNSET", "fallback"); got != "fallback" {
		t.Fatalf("expected fallback, got %q", got)
	}
	t.Setenv("SHARD_TEST_SET", "value")
	if got := GetString("SHARD_TEST_SET", "fallback"); got != "value" {
		t.Fatalf("expected value, got %q", got)
	}
}

func TestGetIntInvalidValue(t *testing.T) {
	t.Setenv("SHARD_TEST_INT", "not-a-number")
	if got := GetInt("SHARD_TEST_INT", 7); got != 7 {
		t.Fatalf("expected fallback 7, got %d", got)
	}
}

func TestGetSeconds(t *testing.T) {
	t.Setenv("SHARD_TEST_SECONDS", "3")
	if got := GetSeconds("SHARD_TEST_SECONDS", time.Minute); got != 3*time.Second {
		t.Fatalf("expected 3s, got %s", got)
	}
	t.Setenv("SHARD_TEST_SECONDS", "0")
	if got := GetSeconds("SHARD_TEST_SECONDS", time.Minute); got != time.Minute {
		t.Fatalf("expected fallback for non-positive value, got %s", got)
	}
}

func TestLoadAPIConfigDefaults(t *testing.T) {
	cfg := LoadAPIConfig()
	if cfg.HealthPushInterval <= 0 {
		t.Fatalf("expected positive health push interval, got %s", cfg.HealthPushInterval)
	}
	if cfg.HealthProbeTimeout <= 0 {
		t.Fatalf("expected positive probe timeout, got %s", cfg.HealthProbeTimeout)
	}
	if cfg.ShutdownGrace <= 0 {
		t.Fatalf("expected positive shutdown grace, got %s", cfg.ShutdownGrace)
	}
}
