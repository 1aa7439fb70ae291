package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("default port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Executor.Workers != 8 || cfg.Executor.QueueSize != 512 {
		t.Errorf("default executor = %d workers / queue %d, want 8/512",
			cfg.Executor.Workers, cfg.Executor.QueueSize)
	}
	if cfg.ExecutorTimeout() != 30*time.Second {
		t.Errorf("default timeout = %v, want 30s", cfg.ExecutorTimeout())
	}
	if cfg.StatsTTL() != 5*time.Second {
		t.Errorf("default stats ttl = %v, want 5s", cfg.StatsTTL())
	}
	if !cfg.Approval.MandatoryNeedsApproval {
		t.Error("mandatory actions should need approval by default")
	}
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadFromFile(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9090
database:
  url: postgres://app:secret@db/actions?sslmode=disable
executor:
  workers: 2
  queue_size: 64
  timeout_seconds: 10
stats:
  cache_ttl_seconds: 0
targets:
  performance: http://performance.internal/api/v1/actions
  development: http://development.internal/api/v1/actions
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.Server.Port != 9090 {
		t.Errorf("port = %d, want 9090", cfg.Server.Port)
	}
	if cfg.Executor.Workers != 2 || cfg.ExecutorTimeout() != 10*time.Second {
		t.Errorf("executor = %d workers, timeout %v", cfg.Executor.Workers, cfg.ExecutorTimeout())
	}
	if cfg.StatsTTL() != 0 {
		t.Errorf("stats ttl = %v, want disabled", cfg.StatsTTL())
	}
	if len(cfg.Targets) != 2 {
		t.Errorf("targets = %v, want 2 entries", cfg.Targets)
	}
	// NATS subject keeps its default when the file omits it.
	if cfg.NATS.Subject != "hr.triggers" {
		t.Errorf("nats subject = %q, want hr.triggers", cfg.NATS.Subject)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("Load() of a missing file should fail")
	}
}

func TestLoadEmptyPathUsesDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load(\"\") failed: %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("port = %d, want default 8080", cfg.Server.Port)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://env/override")
	t.Setenv("PORT", "7070")
	t.Setenv("NATS_URL", "nats://broker:4222")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.Database.URL != "postgres://env/override" {
		t.Errorf("database url = %q", cfg.Database.URL)
	}
	if cfg.Server.Port != 7070 {
		t.Errorf("port = %d, want 7070", cfg.Server.Port)
	}
	if cfg.NATS.URL != "nats://broker:4222" {
		t.Errorf("nats url = %q", cfg.NATS.URL)
	}
}

func TestEnvInvalidPort(t *testing.T) {
	t.Setenv("PORT", "not-a-number")
	if _, err := Load(""); err == nil {
		t.Error("Load() should reject a non-numeric PORT")
	}
}

func TestValidateRejections(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"port zero", func(c *Config) { c.Server.Port = 0 }},
		{"port too large", func(c *Config) { c.Server.Port = 70000 }},
		{"no workers", func(c *Config) { c.Executor.Workers = 0 }},
		{"no queue", func(c *Config) { c.Executor.QueueSize = 0 }},
		{"no timeout", func(c *Config) { c.Executor.TimeoutSeconds = 0 }},
		{"target without url", func(c *Config) { c.Targets = map[string]string{"performance": ""} }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("Validate() should have failed")
			}
		})
	}
}
