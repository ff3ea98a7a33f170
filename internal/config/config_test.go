package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Server.Port != 8080 {
		t.Errorf("server.port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Database.MaxConnections != 25 {
		t.Errorf("database.max_connections = %d, want 25", cfg.Database.MaxConnections)
	}
	if cfg.Database.QueryTimeout != 10*time.Second {
		t.Errorf("database.query_timeout = %v, want 10s", cfg.Database.QueryTimeout)
	}
	if cfg.Logging.Format != "json" {
		t.Errorf("logging.format = %q, want json", cfg.Logging.Format)
	}
	if !cfg.Aggregation.Enabled {
		t.Error("aggregation.enabled = false, want true")
	}
	if cfg.Redis.Enabled() {
		t.Error("redis should be disabled by default")
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := `
server:
  port: 9999
database:
  name: audit_test
redis:
  addr: localhost:6379
aggregation:
  interval_minutes: 15
`
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Server.Port != 9999 {
		t.Errorf("server.port = %d, want 9999", cfg.Server.Port)
	}
	if cfg.Database.Name != "audit_test" {
		t.Errorf("database.name = %q, want audit_test", cfg.Database.Name)
	}
	if !cfg.Redis.Enabled() {
		t.Error("redis should be enabled when addr is set")
	}
	if cfg.Aggregation.IntervalMinutes != 15 {
		t.Errorf("aggregation.interval_minutes = %d, want 15", cfg.Aggregation.IntervalMinutes)
	}
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("AUDIT_SERVER_PORT", "7070")
	t.Setenv("AUDIT_DATABASE_HOST", "db.internal")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Server.Port != 7070 {
		t.Errorf("server.port = %d, want 7070", cfg.Server.Port)
	}
	if cfg.Database.Host != "db.internal" {
		t.Errorf("database.host = %q, want db.internal", cfg.Database.Host)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero port", func(c *Config) { c.Server.Port = 0 }},
		{"zero max connections", func(c *Config) { c.Database.MaxConnections = 0 }},
		{"zero query timeout", func(c *Config) { c.Database.QueryTimeout = 0 }},
		{"zero aggregation interval", func(c *Config) { c.Aggregation.IntervalMinutes = 0 }},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load("")
			if err != nil {
				t.Fatalf("Load: %v", err)
			}
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error, got nil")
			}
		})
	}
}

func TestGetDSN(t *testing.T) {
	d := DatabaseConfig{
		Host: "localhost", Port: 5432, Name: "audit_trail",
		User: "audit", Password: "secret", SSLMode: "disable",
	}
	want := "host=localhost port=5432 user=audit password=secret dbname=audit_trail sslmode=disable"
	if got := d.GetDSN(); got != want {
		t.Errorf("GetDSN() = %q, want %q", got, want)
	}
}
