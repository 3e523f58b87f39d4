package config

import (
	"os"
	"testing"
	"time"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("REDIS_ADDR", "localhost:6379")
	t.Setenv("DB_HOST", "localhost")
	t.Setenv("DB_PORT", "5432")
	t.Setenv("DB_USER", "atelier")
	t.Setenv("DB_PASSWORD", "secret")
	t.Setenv("DB_NAME", "atelier")
}

func TestLoad_Defaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HTTPAddr != ":8080" {
		t.Errorf("HTTPAddr = %q, want :8080", cfg.HTTPAddr)
	}
	if cfg.CascadeWorkers != 8 {
		t.Errorf("CascadeWorkers = %d, want 8", cfg.CascadeWorkers)
	}
	if cfg.RedisTTL != time.Hour {
		t.Errorf("RedisTTL = %v, want 1h", cfg.RedisTTL)
	}
	if cfg.DBMaxOpenConns != 25 {
		t.Errorf("DBMaxOpenConns = %d, want 25", cfg.DBMaxOpenConns)
	}
}

func TestLoad_MissingRequired(t *testing.T) {
	setRequiredEnv(t)
	// t.Setenv registers the restore; unset to simulate a missing variable.
	os.Unsetenv("DB_HOST")

	if _, err := Load(); err == nil {
		t.Fatal("expected error when DB_HOST is missing")
	}
}

func TestLoad_InvalidWorkers(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("CASCADE_WORKERS", "-1")

	if _, err := Load(); err == nil {
		t.Fatal("expected error for negative CASCADE_WORKERS")
	}
}
