package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestFromEnvDefaults(t *testing.T) {
	cfg := FromEnv()
	if cfg.StoreDriver != "memory" {
		t.Fatalf("unexpected driver: %s", cfg.StoreDriver)
	}
	if cfg.MaxLoginAttempts != 5 || cfg.LockDuration != time.Hour {
		t.Fatalf("unexpected lockout defaults: %d %s", cfg.MaxLoginAttempts, cfg.LockDuration)
	}
	if cfg.TokenTTL != 24*time.Hour {
		t.Fatalf("unexpected token ttl: %s", cfg.TokenTTL)
	}
	if cfg.SecurityLogMax != 1000 || cfg.SecurityLogKeep != 900 {
		t.Fatalf("unexpected log retention: %d/%d", cfg.SecurityLogMax, cfg.SecurityLogKeep)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults must validate: %v", err)
	}
}

func TestFromEnvOverrides(t *testing.T) {
	t.Setenv("SHALOM_STORE_DRIVER", "SQLite")
	t.Setenv("SHALOM_STORE_DSN", "/tmp/x.db")
	t.Setenv("SHALOM_LOCK_DURATION", "15m")
	t.Setenv("SHALOM_MAX_LOGIN_ATTEMPTS", "3")
	t.Setenv("SHALOM_AUTH_STORE_ADMIN_PLAINTEXT", "yes")
	t.Setenv("SHALOM_ADMIN_EMAIL", "Boss@Example.com")
	t.Setenv("SHALOM_RATE_LIMIT_BURST", "not-a-number")

	cfg := FromEnv()
	if cfg.StoreDriver != "sqlite" || cfg.StoreDSN != "/tmp/x.db" {
		t.Fatalf("store settings not applied: %+v", cfg)
	}
	if cfg.LockDuration != 15*time.Minute || cfg.MaxLoginAttempts != 3 {
		t.Fatalf("lockout settings not applied: %+v", cfg)
	}
	if !cfg.AdminPlaintext {
		t.Fatalf("expected plaintext flag")
	}
	if cfg.AdminEmail != "boss@example.com" {
		t.Fatalf("admin email must be lower-cased: %s", cfg.AdminEmail)
	}
	if cfg.RateBurst != 20 {
		t.Fatalf("invalid int must fall back to default, got %d", cfg.RateBurst)
	}
}

func TestValidate(t *testing.T) {
	cfg := FromEnv()
	cfg.StoreDriver = "postgres"
	cfg.SecurityLogKeep = 2000
	cfg.Env = "prod"
	cfg.AdminPlaintext = true
	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, want := range []string{"STORE_DSN", "keep", "plaintext"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("expected %q in %v", want, err)
		}
	}

	cfg = FromEnv()
	cfg.StoreDriver = "cassandra"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected unknown driver error")
	}
}

func TestLoadEnvFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.env")
	if err := os.WriteFile(path, []byte("SHALOM_HTTP_ADDR=:9999\n"), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}
	t.Setenv("SHALOM_ENV_FILE", path)
	t.Cleanup(func() { os.Unsetenv("SHALOM_HTTP_ADDR") })

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.HTTPAddr != ":9999" {
		t.Fatalf("env file not applied: %s", cfg.HTTPAddr)
	}

	t.Setenv("SHALOM_ENV_FILE", filepath.Join(dir, "missing.env"))
	if _, err := Load(); err == nil {
		t.Fatal("expected error for missing env file")
	}
}
