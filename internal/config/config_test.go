package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Queue.MaxRetries != 3 {
		t.Errorf("expected default max_retries 3, got %d", cfg.Queue.MaxRetries)
	}
	if time.Duration(cfg.Network.CheckInterval) != 30*time.Second {
		t.Errorf("expected default check_interval 30s, got %v", time.Duration(cfg.Network.CheckInterval))
	}
	if time.Duration(cfg.Network.CheckTimeout) != 5*time.Second {
		t.Errorf("expected default check_timeout 5s, got %v", time.Duration(cfg.Network.CheckTimeout))
	}
	if cfg.Photo.MaxDimension != 2048 || cfg.Photo.Quality != 85 {
		t.Errorf("unexpected photo defaults: %+v", cfg.Photo)
	}
	if cfg.Cache.Version != "v1" {
		t.Errorf("expected cache version v1, got %s", cfg.Cache.Version)
	}
}

func TestLoadFromFile_YAMLOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "fieldsync.yaml")
	content := `
database:
  path: /var/lib/fieldsync/local.db
network:
  health_endpoint: https://inspections.example.gov/api/health
  check_interval: 10s
queue:
  max_retries: 5
cache:
  version: v7
  precache:
    - /index.html
    - /offline.html
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile: %v", err)
	}

	if cfg.Database.Path != "/var/lib/fieldsync/local.db" {
		t.Errorf("database path not overridden: %s", cfg.Database.Path)
	}
	if time.Duration(cfg.Network.CheckInterval) != 10*time.Second {
		t.Errorf("check_interval not overridden: %v", time.Duration(cfg.Network.CheckInterval))
	}
	if cfg.Queue.MaxRetries != 5 {
		t.Errorf("max_retries not overridden: %d", cfg.Queue.MaxRetries)
	}
	if len(cfg.Cache.Precache) != 2 {
		t.Errorf("expected 2 precache URLs, got %d", len(cfg.Cache.Precache))
	}
	// Untouched values keep defaults
	if cfg.Photo.MaxDimension != 2048 {
		t.Errorf("photo default lost: %d", cfg.Photo.MaxDimension)
	}
}

func TestLoad_EnvOverridesYAML(t *testing.T) {
	t.Setenv("FIELDSYNC_MAX_RETRIES", "7")
	t.Setenv("FIELDSYNC_HEALTH_ENDPOINT", "https://env.example.com/health")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Queue.MaxRetries != 7 {
		t.Errorf("env override ignored for max_retries: %d", cfg.Queue.MaxRetries)
	}
	if cfg.Network.HealthEndpoint != "https://env.example.com/health" {
		t.Errorf("env override ignored for health_endpoint: %s", cfg.Network.HealthEndpoint)
	}
}

func TestValidate_RejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty health endpoint", func(c *Config) { c.Network.HealthEndpoint = "" }},
		{"negative retries", func(c *Config) { c.Queue.MaxRetries = -1 }},
		{"zero max dimension", func(c *Config) { c.Photo.MaxDimension = 0 }},
		{"quality out of range", func(c *Config) { c.Photo.Quality = 101 }},
		{"bucket without endpoint", func(c *Config) { c.Archive.Bucket = "evidence" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := newDefaults()
			tt.mutate(cfg)
			if err := cfg.validate(); err == nil {
				t.Error("expected validation error, got nil")
			}
		})
	}
}

func TestDuration_UnmarshalYAML_Invalid(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.yaml")
	if err := os.WriteFile(path, []byte("network:\n  check_interval: nonsense\n"), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	if _, err := LoadFromFile(path); err == nil {
		t.Error("expected error for invalid duration, got nil")
	}
}
