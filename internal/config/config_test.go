package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("SMIS_HOME", "/tmp/smis-home")
	t.Setenv("API_BASE_URL", "http://localhost:8081/api/")

	cfg := Load()
	if cfg.Env != "dev" || cfg.SyncRetries != 3 || cfg.SyncBackoff != time.Second {
		t.Errorf("unexpected defaults %+v", cfg)
	}
	if cfg.APIBaseURL != "http://localhost:8081/api" {
		t.Errorf("trailing slash not trimmed: %q", cfg.APIBaseURL)
	}
	if cfg.LocalDSN != filepath.Join("/tmp/smis-home", "students.db") {
		t.Errorf("LocalDSN = %q", cfg.LocalDSN)
	}
	if len(cfg.CORSOrigins) != 1 || cfg.CORSOrigins[0] != "*" {
		t.Errorf("CORSOrigins = %v", cfg.CORSOrigins)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("SYNC_MAX_RETRIES", "5")
	t.Setenv("SYNC_BACKOFF", "250ms")
	t.Setenv("SMIS_OFFLINE", "true")
	t.Setenv("CORS_ORIGINS", "https://a.example, https://b.example")
	t.Setenv("PHOTO_MAX_SIDE", "not-a-number")

	cfg := Load()
	if cfg.SyncRetries != 5 || cfg.SyncBackoff != 250*time.Millisecond || !cfg.Offline {
		t.Errorf("overrides not applied: %+v", cfg)
	}
	if len(cfg.CORSOrigins) != 2 || cfg.CORSOrigins[1] != "https://b.example" {
		t.Errorf("CORSOrigins = %v", cfg.CORSOrigins)
	}
	if cfg.PhotoMaxSide != 512 {
		t.Errorf("invalid int should fall back, got %d", cfg.PhotoMaxSide)
	}
}

func TestDotEnvFile(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte("QUEUE_BACKEND=memory\nHTTP_PORT=9999\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	wd, _ := os.Getwd()
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		os.Chdir(wd)
		os.Unsetenv("QUEUE_BACKEND")
		os.Unsetenv("HTTP_PORT")
	})
	t.Setenv("HTTP_PORT", "7000")

	cfg := Load()
	if cfg.QueueBackend != "memory" {
		t.Errorf("QueueBackend = %q, want value from .env", cfg.QueueBackend)
	}
	if cfg.HTTPPort != "7000" {
		t.Errorf("HTTPPort = %q, environment must win over .env", cfg.HTTPPort)
	}
}

func TestValidate(t *testing.T) {
	cfg := App{Env: "prod", JWTSigningKey: "dev-signing-secret-change", SyncRetries: 3}
	if cfg.Validate() == nil {
		t.Error("expected prod with dev key to fail")
	}
	cfg = App{Env: "dev", SyncRetries: 0, LocalDSN: "students.db"}
	if cfg.Validate() == nil {
		t.Error("expected zero retries to fail")
	}
	cfg = App{Env: "dev", SyncRetries: 1}
	if cfg.Validate() == nil {
		t.Error("expected empty local dsn to fail")
	}
	cfg = App{Env: "prod", SyncRetries: 1, LocalDSN: "students.db"}
	if err := cfg.ValidateDevice(); err != nil {
		t.Errorf("device checks should ignore server settings: %v", err)
	}
	cfg = App{Env: "dev", SyncRetries: 1, LocalDSN: "students.db"}
	if err := cfg.Validate(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}
